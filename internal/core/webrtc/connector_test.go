package webrtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

func nid(b byte) types.NodeID {
	var id types.NodeID
	id[len(id)-1] = b
	return id
}

func profile(b byte) types.PeerDTO {
	return types.PeerDTO{PeerID: nid(b), Age: types.IntPtr(30)}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ICEServers = nil
	cfg.IncludeLoopback = true
	cfg.ConnectTimeout = 20 * time.Second
	return cfg
}

func newConnector(t *testing.T, self byte, opts ...Option) *Connector {
	t.Helper()
	c, err := New(testConfig(), profile(self), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// recordingSignaler 记录发出的信令载荷
type recordingSignaler struct {
	mu   sync.Mutex
	err  error
	via  types.NodeID
	sent []recorded
}

type recorded struct {
	to  types.NodeID
	sig *Signal
}

func (r *recordingSignaler) Signal(_ context.Context, to types.NodeID, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	sig, err := ParseSignal(payload)
	if err != nil {
		return err
	}
	r.sent = append(r.sent, recorded{to: to, sig: sig})
	return nil
}

func (r *recordingSignaler) ofType(typ string) []recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []recorded
	for _, s := range r.sent {
		if s.sig.Type == typ {
			out = append(out, s)
		}
	}
	return out
}

// viaSignaler 带转交节点的信令
type viaSignaler struct {
	recordingSignaler
}

func (v *viaSignaler) Via() types.NodeID { return v.via }

// loopSignaler 把载荷按顺序交给另一个连接器
type loopSignaler struct {
	from   types.NodeID
	target func() *Connector

	once  sync.Once
	queue chan []byte
}

func (l *loopSignaler) Signal(_ context.Context, _ types.NodeID, payload json.RawMessage) error {
	l.once.Do(func() {
		l.queue = make(chan []byte, 64)
		go func() {
			for data := range l.queue {
				if err := l.target().HandleSignal(context.Background(), l.from, data); err != nil {
					logger.Debug("test signal dropped", "error", err)
				}
			}
		}()
	})
	l.queue <- append([]byte(nil), payload...)
	return nil
}

// recordingHandler 记录会话事件
type recordingHandler struct {
	mu     sync.Mutex
	opened []types.NodeID
	closed []types.NodeID
	data   map[string][][]byte
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{data: make(map[string][][]byte)}
}

func (h *recordingHandler) SessionOpened(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.opened = append(h.opened, s.Peer())
}

func (h *recordingHandler) SessionClosed(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = append(h.closed, s.Peer())
}

func (h *recordingHandler) HandleData(_ *Session, label string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data[label] = append(h.data[label], append([]byte(nil), data...))
}

func (h *recordingHandler) openedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.opened)
}

func (h *recordingHandler) frames(label string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.data[label])
}

// ============================================================================
//                              载荷
// ============================================================================

// TestParseSignal 测试信令载荷解析
func TestParseSignal(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"offer", `{"type":"offer","sdp":"v=0"}`, false},
		{"answer", `{"type":"answer","sdp":"v=0"}`, false},
		{"candidate", `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}}`, false},
		{"offer without sdp", `{"type":"offer"}`, true},
		{"candidate missing", `{"type":"candidate"}`, true},
		{"unknown type", `{"type":"bye"}`, true},
		{"garbage", `not json`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSignal([]byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSignal)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// ============================================================================
//                              发起
// ============================================================================

// TestInitiateConnection_SendsOffer 测试发起方发送带资料的 offer
func TestInitiateConnection_SendsOffer(t *testing.T) {
	sig := &recordingSignaler{}
	c := newConnector(t, 1, WithSignaler(sig))

	require.NoError(t, c.InitiateConnection(context.Background(), profile(2), nil, true))
	require.NoError(t, c.InitiateConnection(context.Background(), profile(2), nil, true))

	offers := sig.ofType(SignalOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, nid(2), offers[0].to)
	require.NotNil(t, offers[0].sig.Profile)
	assert.Equal(t, nid(1), offers[0].sig.Profile.PeerID)
	assert.Nil(t, offers[0].sig.Via)

	s, ok := c.Session(nid(2))
	require.True(t, ok)
	assert.True(t, s.Initiator())
	assert.False(t, s.Opened())
	assert.Len(t, c.Sessions(), 1)
}

// TestInitiateConnection_Via 测试经转交节点发起时 offer 携带 via
func TestInitiateConnection_Via(t *testing.T) {
	def := &recordingSignaler{}
	via := &viaSignaler{}
	via.via = nid(9)
	c := newConnector(t, 1, WithSignaler(def))

	require.NoError(t, c.InitiateConnection(context.Background(), profile(2), via, false))

	assert.Empty(t, def.ofType(SignalOffer))
	offers := via.ofType(SignalOffer)
	require.Len(t, offers, 1)
	require.NotNil(t, offers[0].sig.Via)
	assert.Equal(t, nid(9), *offers[0].sig.Via)
}

// TestInitiateConnection_Errors 测试发起失败不留下会话
func TestInitiateConnection_Errors(t *testing.T) {
	c := newConnector(t, 1)
	assert.ErrorIs(t, c.InitiateConnection(context.Background(), profile(2), nil, true), ErrNoSignaler)

	failing := &recordingSignaler{err: errors.New("unreachable")}
	c = newConnector(t, 1, WithSignaler(failing))
	err := c.InitiateConnection(context.Background(), profile(2), nil, true)
	require.Error(t, err)
	_, ok := c.Session(nid(2))
	assert.False(t, ok)

	assert.Error(t, c.InitiateConnection(context.Background(), profile(1), nil, true))

	require.NoError(t, c.Close())
	failing.err = nil
	assert.ErrorIs(t, c.InitiateConnection(context.Background(), profile(3), nil, true), ErrClosed)
}

// TestConnectTimeout 测试未打开的会话超时关闭
func TestConnectTimeout(t *testing.T) {
	mock := clock.NewMock()
	sig := &recordingSignaler{}
	c := newConnector(t, 1, WithSignaler(sig), WithClock(mock))

	require.NoError(t, c.InitiateConnection(context.Background(), profile(2), nil, true))
	_, ok := c.Session(nid(2))
	require.True(t, ok)

	mock.Add(testConfig().ConnectTimeout + time.Second)
	assert.Eventually(t, func() bool {
		_, ok := c.Session(nid(2))
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

// ============================================================================
//                              入站信令
// ============================================================================

// TestHandleSignal_Errors 测试无效信令
func TestHandleSignal_Errors(t *testing.T) {
	c := newConnector(t, 1, WithSignaler(&recordingSignaler{}))
	ctx := context.Background()

	assert.ErrorIs(t, c.HandleSignal(ctx, nid(2), []byte(`nope`)), ErrInvalidSignal)
	assert.ErrorIs(t, c.HandleSignal(ctx, nid(1), []byte(`{"type":"answer","sdp":"v=0"}`)), ErrInvalidSignal)
	assert.ErrorIs(t, c.HandleSignal(ctx, types.EmptyNodeID, []byte(`{"type":"answer","sdp":"v=0"}`)), ErrInvalidSignal)
	assert.ErrorIs(t, c.HandleSignal(ctx, nid(2), []byte(`{"type":"answer","sdp":"v=0"}`)), ErrUnknownSession)
	assert.ErrorIs(t, c.HandleSignal(ctx, nid(2),
		[]byte(`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 5000 typ host"}}`)), ErrUnknownSession)
}

// offerPayload 让连接器 from 生成一个发往 to 的 offer
func offerPayload(t *testing.T, from, to byte) []byte {
	t.Helper()
	sig := &recordingSignaler{}
	c := newConnector(t, from, WithSignaler(sig))
	require.NoError(t, c.InitiateConnection(context.Background(), profile(to), nil, true))
	offers := sig.ofType(SignalOffer)
	require.Len(t, offers, 1)
	data, err := json.Marshal(offers[0].sig)
	require.NoError(t, err)
	return data
}

// TestHandleOffer_Answers 测试应答方回复 answer 并记录对方资料
func TestHandleOffer_Answers(t *testing.T) {
	sig := &recordingSignaler{}
	c := newConnector(t, 2, WithSignaler(sig))

	require.NoError(t, c.HandleSignal(context.Background(), nid(1), offerPayload(t, 1, 2)))

	answers := sig.ofType(SignalAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, nid(1), answers[0].to)

	s, ok := c.Session(nid(1))
	require.True(t, ok)
	assert.False(t, s.Initiator())
	assert.Equal(t, 30, *s.Profile().Age)
}

// TestHandleOffer_ReplyVia 测试经转交节点的 offer 沿原路应答
func TestHandleOffer_ReplyVia(t *testing.T) {
	def := &recordingSignaler{}
	relay := &recordingSignaler{}
	var gotVia types.NodeID
	c := newConnector(t, 2, WithSignaler(def), WithSignalerFor(func(via types.NodeID) interfaces.Signaler {
		gotVia = via
		return relay
	}))

	var offer Signal
	require.NoError(t, json.Unmarshal(offerPayload(t, 1, 2), &offer))
	via := nid(9)
	offer.Via = &via
	data, err := json.Marshal(offer)
	require.NoError(t, err)

	require.NoError(t, c.HandleSignal(context.Background(), nid(1), data))
	assert.Equal(t, nid(9), gotVia)
	assert.Len(t, relay.ofType(SignalAnswer), 1)
	assert.Empty(t, def.ofType(SignalAnswer))
}

// TestHandleOffer_Glare 测试双方同时发起时 ID 较小的一方保留 offer
func TestHandleOffer_Glare(t *testing.T) {
	sigLow := &recordingSignaler{}
	low := newConnector(t, 1, WithSignaler(sigLow))
	require.NoError(t, low.InitiateConnection(context.Background(), profile(2), nil, true))

	require.NoError(t, low.HandleSignal(context.Background(), nid(2), offerPayload(t, 2, 1)))
	s, ok := low.Session(nid(2))
	require.True(t, ok)
	assert.True(t, s.Initiator())
	assert.Empty(t, sigLow.ofType(SignalAnswer))

	sigHigh := &recordingSignaler{}
	high := newConnector(t, 2, WithSignaler(sigHigh))
	require.NoError(t, high.InitiateConnection(context.Background(), profile(1), nil, true))

	require.NoError(t, high.HandleSignal(context.Background(), nid(1), offerPayload(t, 1, 2)))
	s, ok = high.Session(nid(1))
	require.True(t, ok)
	assert.False(t, s.Initiator())
	assert.Len(t, sigHigh.ofType(SignalAnswer), 1)
}

// TestHandleOffer_Blocked 测试拒绝屏蔽节点的 offer
func TestHandleOffer_Blocked(t *testing.T) {
	blocked := interfaces.BlocklistFunc(func(id types.NodeID) bool { return id == nid(1) })
	sig := &recordingSignaler{}
	c := newConnector(t, 2, WithSignaler(sig), WithBlocklist(blocked))

	assert.Error(t, c.HandleSignal(context.Background(), nid(1), offerPayload(t, 1, 2)))
	_, ok := c.Session(nid(1))
	assert.False(t, ok)
	assert.Empty(t, sig.ofType(SignalAnswer))
}

// ============================================================================
//                              端到端
// ============================================================================

// TestSession_EndToEnd 测试两个连接器在本机建立会话并交换数据
func TestSession_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sessions on loopback")
	}

	var a, b *Connector
	ha, hb := newRecordingHandler(), newRecordingHandler()
	a = newConnector(t, 1, WithHandler(ha), WithSignaler(&loopSignaler{from: nid(1), target: func() *Connector { return b }}))
	b = newConnector(t, 2, WithHandler(hb), WithSignaler(&loopSignaler{from: nid(2), target: func() *Connector { return a }}))

	require.NoError(t, a.InitiateConnection(context.Background(), profile(2), nil, true))

	require.Eventually(t, func() bool {
		return ha.openedCount() == 1 && hb.openedCount() == 1
	}, 15*time.Second, 50*time.Millisecond)

	sa, ok := a.Session(nid(2))
	require.True(t, ok)
	assert.True(t, sa.Connected())
	assert.True(t, sa.DHT().IsOpen())

	require.NoError(t, sa.DHT().Send([]byte(`{"type":"ping"}`)))
	require.NoError(t, sa.PEX().Send([]byte(`{"type":"request"}`)))
	require.Eventually(t, func() bool {
		return hb.frames(LabelDHT) == 1 && hb.frames(LabelPEX) == 1
	}, 5*time.Second, 20*time.Millisecond)

	sb, ok := b.Session(nid(1))
	require.True(t, ok)
	assert.Equal(t, 30, *sb.Profile().Age)

	assert.True(t, a.CloseSession(nid(2)))
	assert.False(t, a.CloseSession(nid(2)))
	ha.mu.Lock()
	assert.Equal(t, []types.NodeID{nid(2)}, ha.closed)
	ha.mu.Unlock()
}

// TestConfig_Validate 测试配置验证
func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.NotEmpty(t, cfg.rtcConfiguration().ICEServers)

	cfg.ConnectTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.ICEServers = []string{""}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}
