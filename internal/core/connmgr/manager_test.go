package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func nid(v uint64) types.NodeID {
	return types.NodeID(types.DistanceFromUint64(v))
}

func profile(v uint64) types.PeerDTO {
	return types.PeerDTO{PeerID: nid(v)}
}

// peerID 按 PeerID 匹配 PeerDTO 参数
type peerID types.NodeID

func (p peerID) Matches(x any) bool {
	dto, ok := x.(types.PeerDTO)
	return ok && dto.PeerID == types.NodeID(p)
}

func (p peerID) String() string {
	return fmt.Sprintf("peer %s", types.NodeID(p).ShortString())
}

// fakeChannel 记录发送的帧
type fakeChannel struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) messages(t *testing.T) []PEXMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PEXMessage, 0, len(c.frames))
	for _, f := range c.frames {
		var msg PEXMessage
		require.NoError(t, json.Unmarshal(f, &msg))
		out = append(out, msg)
	}
	return out
}

type fakeSession bool

func (s fakeSession) Connected() bool { return bool(s) }

type fakeRouter []types.Node

func (r fakeRouter) Closest(_ types.NodeID, count int) []types.Node {
	if count < len(r) {
		return r[:count]
	}
	return r
}

// fakeSignaler 只用于比较身份
type fakeSignaler struct{ via types.NodeID }

func (s *fakeSignaler) Signal(context.Context, types.NodeID, json.RawMessage) error { return nil }

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MinConnections = 3
	cfg.AgeMin = 18
	cfg.AgeMax = 80
	return cfg
}

func newManager(t *testing.T, cfg Config, opts ...Option) (*Manager, *MockConnector) {
	t.Helper()
	ctrl := gomock.NewController(t)
	conn := NewMockConnector(ctrl)

	m, err := New(cfg, profile(1), conn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m, conn
}

// ============================================================================
// 准入过滤
// ============================================================================

// TestFilterPeer_AgeAndOverlap 测试年龄范围和位重叠
func TestFilterPeer_AgeAndOverlap(t *testing.T) {
	cfg := testConfig()
	cfg.DesiredSex = 0b01
	cfg.DesiredSearching = 0b10
	m, _ := newManager(t, cfg)

	young := types.PeerDTO{PeerID: nid(2), Age: types.IntPtr(17), Sex: types.IntPtr(0b01), Searching: types.IntPtr(0b10)}
	assert.False(t, m.FilterPeer(young))

	ok := types.PeerDTO{PeerID: nid(3), Age: types.IntPtr(25), Sex: types.IntPtr(0b11), Searching: types.IntPtr(0b10)}
	assert.True(t, m.FilterPeer(ok))

	old := types.PeerDTO{PeerID: nid(4), Age: types.IntPtr(81)}
	assert.False(t, m.FilterPeer(old))
}

// TestFilterPeer_Asymmetry 测试性别与意图对未声明数据的不同处理
func TestFilterPeer_Asymmetry(t *testing.T) {
	cfg := testConfig()
	cfg.DesiredSex = 0b10
	cfg.DesiredSearching = 0b01
	m, _ := newManager(t, cfg)

	tests := []struct {
		name string
		peer types.PeerDTO
		want bool
	}{
		{"未声明性别被拒绝", types.PeerDTO{PeerID: nid(2), Searching: types.IntPtr(0b01)}, false},
		{"性别无重叠", types.PeerDTO{PeerID: nid(3), Sex: types.IntPtr(0b01)}, false},
		{"未声明意图放行", types.PeerDTO{PeerID: nid(4), Sex: types.IntPtr(0b10)}, true},
		{"意图无重叠", types.PeerDTO{PeerID: nid(5), Sex: types.IntPtr(0b10), Searching: types.IntPtr(0b10)}, false},
		{"未声明年龄放行", types.PeerDTO{PeerID: nid(6), Sex: types.IntPtr(0b11)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.FilterPeer(tt.peer))
		})
	}

	// 没有性别偏好时不检查性别
	cfg.DesiredSex = 0
	m2, _ := newManager(t, cfg)
	assert.True(t, m2.FilterPeer(types.PeerDTO{PeerID: nid(7)}))
}

// TestFilterPeer_Geo 测试可选的地理距离过滤
func TestFilterPeer_Geo(t *testing.T) {
	cfg := testConfig()
	ctrl := gomock.NewController(t)
	self := types.PeerDTO{PeerID: nid(1), Latitude: types.FloatPtr(0), Longitude: types.FloatPtr(0)}

	near := types.PeerDTO{PeerID: nid(2), Latitude: types.FloatPtr(0.1), Longitude: types.FloatPtr(0.1)}
	far := types.PeerDTO{PeerID: nid(3), Latitude: types.FloatPtr(10), Longitude: types.FloatPtr(10)}
	unknown := types.PeerDTO{PeerID: nid(4)}

	// 默认关闭
	m, err := New(cfg, self, NewMockConnector(ctrl))
	require.NoError(t, err)
	assert.True(t, m.FilterPeer(far))

	cfg.GeoEnabled = true
	cfg.MaxDistanceKm = 50
	m, err = New(cfg, self, NewMockConnector(ctrl))
	require.NoError(t, err)
	assert.True(t, m.FilterPeer(near))
	assert.False(t, m.FilterPeer(far))
	assert.True(t, m.FilterPeer(unknown))
}

// TestHaversineKm 测试大圆距离
func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 111.19, HaversineKm(0, 0, 0, 1), 0.01)
	assert.Equal(t, 0.0, HaversineKm(52.5, 13.4, 52.5, 13.4))
}

// ============================================================================
// PEX
// ============================================================================

// TestHandlePEXAdvertisement 测试去重、过滤与补齐
func TestHandlePEXAdvertisement(t *testing.T) {
	m, conn := newManager(t, testConfig())
	require.NoError(t, m.AddPeer(profile(2), nil, nil))

	via := &fakeSignaler{via: nid(2)}
	admitted := types.PeerDTO{PeerID: nid(3), Age: types.IntPtr(30)}
	rejected1 := types.PeerDTO{PeerID: nid(4), Age: types.IntPtr(17)}
	rejected2 := types.PeerDTO{PeerID: nid(5), Age: types.IntPtr(10)}

	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(3)), via, false).Return(nil)
	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(4)), via, false).Return(nil)

	n := m.HandlePEXAdvertisement(context.Background(), []types.PeerDTO{
		profile(1), // 本节点
		profile(2), // 已连接
		admitted,
		admitted, // 重复
		rejected1,
		rejected2,
	}, via)
	assert.Equal(t, 2, n)
}

// TestHandlePEXAdvertisement_NoTopUpWhenEnough 测试连接数足够时不放宽过滤
func TestHandlePEXAdvertisement_NoTopUpWhenEnough(t *testing.T) {
	cfg := testConfig()
	cfg.MinConnections = 1
	m, conn := newManager(t, cfg)
	require.NoError(t, m.AddPeer(profile(2), nil, nil))

	conn.EXPECT().InitiateConnection(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	n := m.HandlePEXAdvertisement(context.Background(), []types.PeerDTO{
		{PeerID: nid(4), Age: types.IntPtr(17)},
	}, nil)
	assert.Equal(t, 0, n)
}

// TestHandlePEXAdvertisement_FailureAndBlocked 测试连接失败和屏蔽节点
func TestHandlePEXAdvertisement_FailureAndBlocked(t *testing.T) {
	m, conn := newManager(t, testConfig())
	m.Gater().BlockPeer(nid(9))

	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(3)), gomock.Nil(), false).
		Return(errors.New("ice failed"))

	n := m.HandlePEXAdvertisement(context.Background(), []types.PeerDTO{profile(3), profile(9)}, nil)
	assert.Equal(t, 0, n)
	assert.False(t, m.isPending(nid(3)))

	// 失败后可以再次尝试
	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(3)), gomock.Nil(), false).Return(nil)
	assert.Equal(t, 1, m.HandlePEXAdvertisement(context.Background(), []types.PeerDTO{profile(3)}, nil))
}

// TestHandlePEXMessage_Request 测试回答 PEX 请求
func TestHandlePEXMessage_Request(t *testing.T) {
	m, _ := newManager(t, testConfig())
	requester := &fakeChannel{}
	require.NoError(t, m.AddPeer(profile(2), requester, fakeSession(true)))
	require.NoError(t, m.AddPeer(profile(3), &fakeChannel{}, fakeSession(true)))
	require.NoError(t, m.AddPeer(profile(4), &fakeChannel{}, fakeSession(true)))

	req, err := json.Marshal(PEXMessage{Type: PEXRequest, MaxNumberOfPeers: 5})
	require.NoError(t, err)
	require.NoError(t, m.HandlePEXMessage(context.Background(), nid(2), req))

	msgs := requester.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, PEXAdvertisement, msgs[0].Type)
	require.Len(t, msgs[0].Peers, 2)
	for _, p := range msgs[0].Peers {
		assert.NotEqual(t, nid(2), p.PeerID)
	}

	req, err = json.Marshal(PEXMessage{Type: PEXRequest, MaxNumberOfPeers: 1})
	require.NoError(t, err)
	require.NoError(t, m.HandlePEXMessage(context.Background(), nid(2), req))
	msgs = requester.messages(t)
	require.Len(t, msgs, 2)
	assert.Len(t, msgs[1].Peers, 1)
}

// TestHandlePEXMessage_Advertisement 测试公告经公告者转发信令
func TestHandlePEXMessage_Advertisement(t *testing.T) {
	via := &fakeSignaler{via: nid(2)}
	m, conn := newManager(t, testConfig(), WithSignalerFor(func(from types.NodeID) interfaces.Signaler {
		if from == nid(2) {
			return via
		}
		return nil
	}))

	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(3)), via, false).Return(nil)

	data, err := json.Marshal(PEXMessage{Type: PEXAdvertisement, Peers: []types.PeerDTO{profile(3)}})
	require.NoError(t, err)
	require.NoError(t, m.HandlePEXMessage(context.Background(), nid(2), data))
}

// TestHandlePEXMessage_Invalid 测试无法解析的 PEX 消息
func TestHandlePEXMessage_Invalid(t *testing.T) {
	m, _ := newManager(t, testConfig())

	assert.ErrorIs(t, m.HandlePEXMessage(context.Background(), nid(2), []byte("{")), ErrInvalidPEX)
	assert.ErrorIs(t, m.HandlePEXMessage(context.Background(), nid(2), []byte(`{"type":"gossip"}`)), ErrInvalidPEX)
}

// ============================================================================
// 信道选择
// ============================================================================

// TestSelectPEXChannel 测试最近和随机选择
func TestSelectPEXChannel(t *testing.T) {
	m, _ := newManager(t, testConfig())

	_, _, ok := m.SelectPEXChannel()
	assert.False(t, ok)

	closed := &fakeChannel{closed: true}
	require.NoError(t, m.AddPeer(profile(7), nil, nil))
	require.NoError(t, m.AddPeer(profile(3), closed, nil))
	require.NoError(t, m.AddPeer(profile(6), &fakeChannel{}, nil))
	require.NoError(t, m.AddPeer(profile(0x80), &fakeChannel{}, nil))

	// 本节点为 1：7 没有 PEX 信道，3 的信道已关闭，6 距离 7，0x80 距离 0x81
	id, ch, ok := m.SelectPEXChannel()
	require.True(t, ok)
	assert.Equal(t, nid(6), id)
	assert.NotNil(t, ch)

	cfg := testConfig()
	cfg.ChannelSelection = config.SelectRandom
	r, _ := newManager(t, cfg, WithRand(func(n int) int { return n - 1 }))
	require.NoError(t, r.AddPeer(profile(6), &fakeChannel{}, nil))
	require.NoError(t, r.AddPeer(profile(0x80), &fakeChannel{}, nil))
	id, _, ok = r.SelectPEXChannel()
	require.True(t, ok)
	assert.Equal(t, nid(0x80), id)
}

// ============================================================================
// 引导
// ============================================================================

// TestBootstrap 测试错峰执行快照、PEX 请求和重连，且只执行一次
func TestBootstrap(t *testing.T) {
	mock := clock.NewMock()
	router := fakeRouter{{ID: nid(2)}, {ID: nid(5)}, {ID: nid(6)}}
	m, conn := newManager(t, testConfig(), WithClock(mock), WithRouter(router))

	pex := &fakeChannel{}
	require.NoError(t, m.AddPeer(profile(2), pex, fakeSession(true)))
	require.NoError(t, m.AddPeer(profile(3), nil, fakeSession(false)))

	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(5)), gomock.Nil(), true).Return(nil)
	conn.EXPECT().InitiateConnection(gomock.Any(), peerID(nid(6)), gomock.Nil(), true).Return(nil)

	done := make(chan error, 1)
	go func() { done <- m.Bootstrap(context.Background()) }()

	var err error
	require.Eventually(t, func() bool {
		mock.Add(time.Second)
		select {
		case err = <-done:
			return true
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, m.Bootstrapped())

	msgs := pex.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, PEXRequest, msgs[0].Type)
	assert.Equal(t, 3, msgs[0].MaxNumberOfPeers)

	snap := m.ProfileSnapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, nid(2), snap[0].PeerID)

	// 第二次调用不做任何事
	require.NoError(t, m.Bootstrap(context.Background()))
	assert.Len(t, pex.messages(t), 1)
}

// TestBootstrap_Cancelled 测试取消引导
func TestBootstrap_Cancelled(t *testing.T) {
	m, _ := newManager(t, testConfig(), WithClock(clock.NewMock()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Bootstrap(ctx), context.Canceled)
}

// ============================================================================
// 节点登记
// ============================================================================

// TestAddPeer 测试登记与注销
func TestAddPeer(t *testing.T) {
	m, _ := newManager(t, testConfig())

	assert.ErrorIs(t, m.AddPeer(profile(1), nil, nil), ErrSelfPeer)
	assert.ErrorIs(t, m.AddPeer(types.PeerDTO{}, nil, nil), ErrInvalidPeer)

	m.Gater().BlockPeer(nid(9))
	assert.ErrorIs(t, m.AddPeer(profile(9), nil, nil), ErrPeerBlocked)

	require.NoError(t, m.AddPeer(profile(3), nil, nil))
	require.NoError(t, m.AddPeer(profile(2), nil, nil))
	require.NoError(t, m.AddPeer(profile(2), nil, nil))
	assert.Equal(t, 2, m.Count())
	assert.Equal(t, []types.PeerDTO{profile(2), profile(3)}, m.Connected())

	assert.True(t, m.RemovePeer(nid(2)))
	assert.False(t, m.RemovePeer(nid(2)))
	assert.False(t, m.IsConnected(nid(2)))

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.AddPeer(profile(4), nil, nil), ErrManagerClosed)
}

// TestGater 测试屏蔽集合
func TestGater(t *testing.T) {
	g := NewGater()
	g.BlockPeer(nid(2))
	g.BlockPeer(nid(1))

	assert.True(t, g.IsBlocked(nid(2)))
	assert.False(t, g.InterceptPeerDial(nid(2)))
	assert.True(t, g.InterceptPeerDial(nid(3)))
	assert.Equal(t, []types.NodeID{nid(1), nid(2)}, g.BlockedPeers())
	assert.Equal(t, GaterStats{BlockedPeers: 2, InterceptedDials: 1}, g.Stats())

	g.UnblockPeer(nid(2))
	assert.False(t, g.IsBlocked(nid(2)))
	g.Clear()
	assert.Empty(t, g.BlockedPeers())

	var nilGater *Gater
	assert.False(t, nilGater.IsBlocked(nid(1)))
}

// TestConfig_Validate 测试配置校验
func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.AgeMin, cfg.AgeMax = 50, 20
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ChannelSelection = "nearest"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.GeoEnabled = true
	cfg.MaxDistanceKm = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := New(DefaultConfig(), profile(1), nil)
	assert.Error(t, err)
}
