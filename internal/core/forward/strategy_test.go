package forward

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/routing"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func nid(v uint64) types.NodeID {
	return types.NodeID(types.DistanceFromUint64(v))
}

type sentFrame struct {
	peer types.NodeID
	env  *types.Envelope
}

type fakeSender struct {
	mu     sync.Mutex
	frames []sentFrame
	fail   map[types.NodeID]bool
}

func (s *fakeSender) Send(peer types.NodeID, env *types.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[peer] {
		return errors.New("channel closed")
	}
	s.frames = append(s.frames, sentFrame{peer: peer, env: env})
	return nil
}

func (s *fakeSender) peers() []types.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.NodeID, 0, len(s.frames))
	for _, f := range s.frames {
		out = append(out, f.peer)
	}
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []interface{}
}

func (l *eventLog) Publish(evt interface{}) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

type fixture struct {
	table  *routing.Table
	sender *fakeSender
	events *eventLog
	deps   Deps
}

// newFixture 以 self 构造路由表并加入 peers
func newFixture(self types.NodeID, peers ...types.NodeID) *fixture {
	table := routing.NewTable(self, 20)
	for _, p := range peers {
		table.Add(types.Node{ID: p})
	}
	f := &fixture{
		table:  table,
		sender: &fakeSender{fail: map[types.NodeID]bool{}},
		events: &eventLog{},
	}
	f.deps = Deps{
		Self:   self,
		K:      20,
		Router: table,
		Sender: f.sender,
		Seen:   NewSeenSet(1024, time.Hour),
		Events: f.events,
	}
	return f
}

func msg(id string) *types.MessageDTO {
	return &types.MessageDTO{ID: id, Timestamp: 1}
}

// ============================================================================
// ForwardToAllCloser 测试
// ============================================================================

// TestForwardToAllCloser_OnlyCloserPeers 测试只选择更接近接收者的节点
func TestForwardToAllCloser_OnlyCloserPeers(t *testing.T) {
	// self=0x10，接收者=0x00：0x01..0x0f 更近，0x20 更远
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x0f), nid(0x20))
	s := NewForwardToAllCloser(f.deps, false)

	res, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("m1")})
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.ElementsMatch(t, []types.NodeID{nid(0x01), nid(0x0f)}, res.Targets)
	assert.ElementsMatch(t, res.Targets, f.sender.peers())

	env := f.sender.frames[0].env
	assert.Equal(t, types.EnvelopeMessage, env.Type)
	assert.Equal(t, self, env.Sender)
	assert.Equal(t, nid(0), env.Recipient)
}

// TestForwardToAllCloser_ExcludesOriginalSender 测试不回传给原始发送者
func TestForwardToAllCloser_ExcludesOriginalSender(t *testing.T) {
	self := nid(0x10)
	origin := nid(0x01)
	f := newFixture(self, origin, nid(0x02))
	s := NewForwardToAllCloser(f.deps, false)

	res, err := s.Forward(context.Background(), Request{Sender: origin, Recipient: nid(0), Message: msg("m1")})
	require.NoError(t, err)
	assert.Equal(t, []types.NodeID{nid(0x02)}, res.Targets)

	env := f.sender.frames[0].env
	assert.Equal(t, origin, env.Sender, "中继时保留原始发送者")
}

// TestForwardToAllCloser_Exhaustive 测试穷举模式转发给全部候选
func TestForwardToAllCloser_Exhaustive(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x20), nid(0x40))
	s := NewForwardToAllCloser(f.deps, true)
	assert.Equal(t, "exhaustive", s.Name())

	res, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("m1")})
	require.NoError(t, err)
	assert.Len(t, res.Targets, 3)
}

// ============================================================================
// 共享约定测试
// ============================================================================

// TestForward_MissingIDNeverForwarded 测试没有 ID 的消息不转发也不标记
func TestForward_MissingIDNeverForwarded(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01))
	s := NewForwardToAllCloser(f.deps, true)

	res, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: &types.MessageDTO{}})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, f.sender.peers())
	assert.Equal(t, 0, f.deps.Seen.Len())

	res, err = s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0)})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

// TestForward_AtMostOncePerMessage 测试同一 ID 只做一次决策
func TestForward_AtMostOncePerMessage(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x02))
	s := NewForwardToAllCloser(f.deps, false)
	req := Request{Sender: self, Recipient: nid(0), Message: msg("dup")}

	first, err := s.Forward(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, first.Targets, 2)

	second, err := s.Forward(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Len(t, f.sender.peers(), 2)
}

// TestForward_PreMarkedStillDecides 测试调用方已标记 ID 时仍做一次决策
func TestForward_PreMarkedStillDecides(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x02))
	s := NewForwardToAllCloser(f.deps, false)

	require.True(t, f.deps.Seen.MarkIfAbsent("pre"))
	res, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("pre"), Marked: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Len(t, res.Targets, 2)

	res, err = s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("pre")})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Len(t, f.sender.peers(), 2)
}

// TestForward_ZeroSelectedStillMarks 测试没有选中节点时也标记 ID
func TestForward_ZeroSelectedStillMarks(t *testing.T) {
	self := nid(0x01)
	f := newFixture(self, nid(0x40))
	s := NewForwardToAllCloser(f.deps, false)

	res, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("m")})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Empty(t, res.Targets)
	assert.True(t, f.deps.Seen.Has("m"))
}

// TestForward_SendFailureReturnedAfterMarking 测试发送失败被聚合返回
func TestForward_SendFailureReturnedAfterMarking(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x02))
	f.sender.fail[nid(0x01)] = true
	s := NewForwardToAllCloser(f.deps, false)

	res, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("m")})
	require.Error(t, err)
	assert.Equal(t, []types.NodeID{nid(0x02)}, res.Targets)
	assert.True(t, f.deps.Seen.Has("m"))

	var sent, forwarded int
	for _, e := range f.events.events {
		switch e.(type) {
		case types.EvtSent:
			sent++
		case types.EvtForward:
			forwarded++
		}
	}
	assert.Equal(t, 2, sent)
	assert.Equal(t, 1, forwarded)
}

// TestForward_EventOrder 测试 sent 在 forward 之前
func TestForward_EventOrder(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01))
	s := NewForwardToAllCloser(f.deps, false)

	_, err := s.Forward(context.Background(), Request{Sender: self, Recipient: nid(0), Message: msg("m")})
	require.NoError(t, err)

	require.Len(t, f.events.events, 2)
	assert.IsType(t, types.EvtSent{}, f.events.events[0])
	assert.IsType(t, types.EvtForward{}, f.events.events[1])
}

// TestForward_ConcurrentSameID 测试并发转发同一 ID 时只发送一轮
func TestForward_ConcurrentSameID(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x02), nid(0x03))
	s := NewForwardToAllCloser(f.deps, false)
	req := Request{Sender: self, Recipient: nid(0), Message: msg("race")}

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Forward(context.Background(), req)
		}()
	}
	wg.Wait()

	assert.Len(t, f.sender.peers(), 3)
}

// ============================================================================
// Probabilistic 测试
// ============================================================================

// TestProbabilistic_OriginAlwaysForwards 测试原始发送者概率为 1
func TestProbabilistic_OriginAlwaysForwards(t *testing.T) {
	self := nid(0x10)
	f := newFixture(self, nid(0x01), nid(0x20), nid(0x40))
	// 随机数恒为 0.999，任何 p < 1 都不会选中
	s := NewProbabilistic(f.deps, types.DistanceFromUint64(1), func() float64 { return 0.999 })

	req := Request{Sender: self, Recipient: types.NodeID(types.MaxDistance), Message: msg("o")}
	assert.Equal(t, 1.0, s.Probability(req))

	res, err := s.Forward(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Targets, 3)
}

// TestProbabilistic_RelayProbability 测试中继概率为 T/(d+T)
func TestProbabilistic_RelayProbability(t *testing.T) {
	self := nid(0x03)
	origin := nid(0x40)
	recipient := nid(0)
	threshold := types.DistanceFromUint64(1)

	f := newFixture(self, nid(0x01), nid(0x02))
	s := NewProbabilistic(f.deps, threshold, func() float64 { return 0.2 })

	req := Request{Sender: origin, Recipient: recipient, Message: msg("r1")}
	// d = 3, T = 1
	assert.InDelta(t, 0.25, s.Probability(req), 1e-12)

	res, err := s.Forward(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Targets, 2, "0.2 < 0.25 时全部选中")

	g := newFixture(self, nid(0x01), nid(0x02))
	s2 := NewProbabilistic(g.deps, threshold, func() float64 { return 0.3 })
	res, err = s2.Forward(context.Background(), Request{Sender: origin, Recipient: recipient, Message: msg("r2")})
	require.NoError(t, err)
	assert.Empty(t, res.Targets, "0.3 >= 0.25 时都不选中")
	assert.True(t, g.deps.Seen.Has("r2"))
}

// TestForwardProbability 测试概率公式
func TestForwardProbability(t *testing.T) {
	assert.Equal(t, 1.0, ForwardProbability(types.Distance{}, types.Distance{}))
	assert.Equal(t, 1.0, ForwardProbability(types.Distance{}, types.DistanceFromUint64(5)))
	assert.Equal(t, 0.0, ForwardProbability(types.DistanceFromUint64(5), types.Distance{}))
	assert.InDelta(t, 0.5, ForwardProbability(types.DistanceFromUint64(7), types.DistanceFromUint64(7)), 1e-12)

	near := ForwardProbability(types.DistanceFromUint64(1), types.DistanceFromUint64(1000))
	far := ForwardProbability(types.MaxDistance, types.DistanceFromUint64(1000))
	assert.Greater(t, near, 0.99)
	assert.Less(t, far, 1e-40)
}

// ============================================================================
// 构造与 SeenSet 测试
// ============================================================================

// TestNew_SelectsByPolicy 测试按配置选择策略
func TestNew_SelectsByPolicy(t *testing.T) {
	f := newFixture(nid(1))
	cfg := config.DefaultForwardConfig()

	for policy, name := range map[config.ForwardPolicy]string{
		config.ForwardToAllCloser:   "all-closer",
		config.ForwardExhaustive:    "exhaustive",
		config.ForwardProbabilistic: "probabilistic",
	} {
		cfg.Policy = policy
		s, err := New(cfg, f.deps)
		require.NoError(t, err)
		assert.Equal(t, name, s.Name())
	}

	cfg.Policy = "flood"
	_, err := New(cfg, f.deps)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// TestSeenSet_CapacityBound 测试集合容量上限
func TestSeenSet_CapacityBound(t *testing.T) {
	s := NewSeenSet(2, time.Hour)

	assert.True(t, s.MarkIfAbsent("a"))
	assert.False(t, s.MarkIfAbsent("a"))
	assert.True(t, s.MarkIfAbsent("b"))
	assert.True(t, s.MarkIfAbsent("c"))

	assert.Equal(t, 2, s.Len())
	assert.False(t, s.Has("a"))

	s.Purge()
	assert.Equal(t, 0, s.Len())
}
