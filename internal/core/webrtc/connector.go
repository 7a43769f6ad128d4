package webrtc

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"go.uber.org/multierr"

	"github.com/dep2p/go-meshchat/internal/core/signaling"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/webrtc")

// Handler 接收会话事件
//
// 回调在 pion 的 goroutine 中执行，不应长时间阻塞。
type Handler interface {
	// SessionOpened 两条数据通道都已打开
	SessionOpened(s *Session)

	// SessionClosed 已打开的会话关闭
	SessionClosed(s *Session)

	// HandleData 数据通道收到一帧
	HandleData(s *Session, label string, data []byte)
}

// ============================================================================
//                              选项
// ============================================================================

// Option 连接器选项
type Option func(*Connector)

// WithSignaler 设置默认信令路径（覆盖网络或信令服务器）
func WithSignaler(s interfaces.Signaler) Option {
	return func(c *Connector) {
		c.signaler = s
	}
}

// WithSignalerFor 设置经指定节点转交信令的构造函数
func WithSignalerFor(fn func(types.NodeID) interfaces.Signaler) Option {
	return func(c *Connector) {
		c.signalerFor = fn
	}
}

// WithHandler 设置会话事件处理器
func WithHandler(h Handler) Option {
	return func(c *Connector) {
		if h != nil {
			c.handler = h
		}
	}
}

// WithBlocklist 拒绝来自屏蔽节点的 offer
func WithBlocklist(b interfaces.Blocklist) Option {
	return func(c *Connector) {
		c.blocklist = b
	}
}

// WithClock 替换时间源
func WithClock(cl clock.Clock) Option {
	return func(c *Connector) {
		if cl != nil {
			c.clock = cl
		}
	}
}

// ============================================================================
//                              Connector
// ============================================================================

// Connector 建立和维护 WebRTC 会话，实现 connmgr.Connector
type Connector struct {
	cfg         Config
	self        types.PeerDTO
	api         *webrtc.API
	signaler    interfaces.Signaler
	signalerFor func(types.NodeID) interfaces.Signaler
	handler     Handler
	blocklist   interfaces.Blocklist
	clock       clock.Clock

	mu       sync.Mutex
	sessions map[types.NodeID]*Session
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建连接器
func New(cfg Config, self types.PeerDTO, opts ...Option) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Connector{
		cfg:      cfg,
		self:     self,
		api:      cfg.api(),
		handler:  nopHandler{},
		clock:    clock.New(),
		sessions: make(map[types.NodeID]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

// SetHandler 替换会话事件处理器，需在建立会话前调用
func (c *Connector) SetHandler(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h == nil {
		h = nopHandler{}
	}
	c.handler = h
}

func (c *Connector) getHandler() Handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// Session 返回到 peer 的会话
func (c *Connector) Session(peer types.NodeID) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[peer]
	return s, ok
}

// Sessions 返回所有会话（按节点 ID 排序）
func (c *Connector) Sessions() []*Session {
	c.mu.Lock()
	out := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].peer[:], out[j].peer[:]) < 0
	})
	return out
}

// ============================================================================
//                              发起
// ============================================================================

// InitiateConnection 向 peer 发起会话
//
// useDHT 为 true 或 via 为 nil 时使用默认信令路径。offer 发出即返回，
// 会话在两条通道打开后通过 Handler 报告。已有会话时直接返回。
func (c *Connector) InitiateConnection(ctx context.Context, peer types.PeerDTO, via interfaces.Signaler, useDHT bool) error {
	sig := via
	var viaID *types.NodeID
	if useDHT || sig == nil {
		sig = c.signaler
	} else if v, ok := via.(interface{ Via() types.NodeID }); ok {
		id := v.Via()
		viaID = &id
	}
	if sig == nil {
		return ErrNoSignaler
	}

	s, created, err := c.newSession(peer.PeerID, peer, true, sig)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	ordered := true
	for _, label := range []string{LabelDHT, LabelPEX} {
		dc, err := s.pc.CreateDataChannel(label, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			c.closeSession(s)
			return fmt.Errorf("create %s channel: %w", label, err)
		}
		c.setupChannel(s, dc)
	}

	offer, err := s.pc.CreateOffer(nil)
	if err == nil {
		err = s.pc.SetLocalDescription(offer)
	}
	if err != nil {
		c.closeSession(s)
		return fmt.Errorf("create offer: %w", err)
	}

	self := c.self
	if err := s.signal(ctx, Signal{Type: SignalOffer, SDP: offer.SDP, Profile: &self, Via: viaID}); err != nil {
		c.closeSession(s)
		return fmt.Errorf("send offer: %w", err)
	}
	s.markReady(c.ctx)

	logger.Debug("已发送 offer", "peer", peer.PeerID.ShortString(), "dht", useDHT)
	return nil
}

// ============================================================================
//                              入站信令
// ============================================================================

// Serve 处理订阅到的信令事件直到 ctx 结束
func (c *Connector) Serve(ctx context.Context, sub interfaces.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Out():
			if !ok {
				return
			}
			e, ok := evt.(types.EvtSignaling)
			if !ok {
				continue
			}
			if err := c.HandleSignal(ctx, e.From, e.Payload); err != nil {
				logger.Debug("处理信令失败", "from", e.From.ShortString(), "error", err)
			}
		}
	}
}

// HandleSignal 处理来自 from 的信令载荷
func (c *Connector) HandleSignal(ctx context.Context, from types.NodeID, payload []byte) error {
	if from.IsEmpty() || from == c.self.PeerID {
		return fmt.Errorf("%w: bad origin", ErrInvalidSignal)
	}
	sig, err := ParseSignal(payload)
	if err != nil {
		return err
	}

	switch sig.Type {
	case SignalOffer:
		return c.handleOffer(ctx, from, sig)
	case SignalAnswer:
		s, ok := c.Session(from)
		if !ok || !s.initiator {
			return fmt.Errorf("%w: answer from %s", ErrUnknownSession, from.ShortString())
		}
		if err := s.setRemoteDescription(sig.sessionDescription()); err != nil {
			c.closeSession(s)
			return fmt.Errorf("apply answer: %w", err)
		}
		return nil
	default:
		s, ok := c.Session(from)
		if !ok {
			return fmt.Errorf("%w: candidate from %s", ErrUnknownSession, from.ShortString())
		}
		return s.addRemoteCandidate(*sig.Candidate)
	}
}

// handleOffer 应答 offer
//
// 双方同时发起时，ID 较小的一方保留自己的 offer。
func (c *Connector) handleOffer(ctx context.Context, from types.NodeID, sig *Signal) error {
	if c.blocklist != nil && c.blocklist.IsBlocked(from) {
		return fmt.Errorf("offer from blocked peer %s", from.ShortString())
	}
	if existing, ok := c.Session(from); ok {
		if existing.initiator && bytes.Compare(c.self.PeerID[:], from[:]) < 0 {
			logger.Debug("同时发起，保留本方 offer", "peer", from.ShortString())
			return nil
		}
		c.closeSession(existing)
	}

	reply := c.signaler
	if sig.Via != nil && c.signalerFor != nil {
		reply = signaling.Chain{c.signalerFor(*sig.Via), c.signaler}
	}
	if reply == nil {
		return ErrNoSignaler
	}

	profile := types.PeerDTO{PeerID: from}
	if sig.Profile != nil && sig.Profile.PeerID == from {
		profile = *sig.Profile
	}

	s, _, err := c.newSession(from, profile, false, reply)
	if err != nil {
		return err
	}
	s.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != LabelDHT && dc.Label() != LabelPEX {
			logger.Debug("拒绝未知数据通道", "label", dc.Label())
			_ = dc.Close()
			return
		}
		c.setupChannel(s, dc)
	})

	if err := s.setRemoteDescription(sig.sessionDescription()); err != nil {
		c.closeSession(s)
		return fmt.Errorf("apply offer: %w", err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err == nil {
		err = s.pc.SetLocalDescription(answer)
	}
	if err != nil {
		c.closeSession(s)
		return fmt.Errorf("create answer: %w", err)
	}
	if err := s.signal(ctx, Signal{Type: SignalAnswer, SDP: answer.SDP}); err != nil {
		c.closeSession(s)
		return fmt.Errorf("send answer: %w", err)
	}
	s.markReady(c.ctx)

	logger.Debug("已应答 offer", "peer", from.ShortString())
	return nil
}

// ============================================================================
//                              会话管理
// ============================================================================

// newSession 创建会话；已存在时返回已有会话且 created 为 false
func (c *Connector) newSession(peer types.NodeID, profile types.PeerDTO, initiator bool, sig interfaces.Signaler) (*Session, bool, error) {
	if peer.IsEmpty() || peer == c.self.PeerID {
		return nil, false, fmt.Errorf("webrtc: invalid peer %s", peer.ShortString())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}
	if s, ok := c.sessions[peer]; ok {
		return s, false, nil
	}

	pc, err := c.api.NewPeerConnection(c.cfg.rtcConfiguration())
	if err != nil {
		return nil, false, fmt.Errorf("new peer connection: %w", err)
	}
	s := &Session{
		peer:      peer,
		profile:   profile,
		initiator: initiator,
		pc:        pc,
		signaler:  sig,
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		if s.queueLocalCandidate(init) {
			s.sendCandidate(c.ctx, init)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("会话状态变化", "peer", peer.ShortString(), "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			c.spawn(func() { c.closeSession(s) })
		}
	})
	timer := c.clock.AfterFunc(c.cfg.ConnectTimeout, func() {
		if !s.Opened() {
			logger.Debug("会话建立超时", "peer", peer.ShortString())
			c.spawn(func() { c.closeSession(s) })
		}
	})
	s.mu.Lock()
	s.timer = timer
	s.mu.Unlock()

	c.sessions[peer] = s
	return s, true, nil
}

// setupChannel 注册数据通道回调
func (c *Connector) setupChannel(s *Session, dc *webrtc.DataChannel) {
	ch := NewDataChannel(dc)
	label := dc.Label()

	dc.OnOpen(func() {
		if s.setChannel(ch) {
			logger.Info("会话已打开", "peer", s.peer.ShortString(), "initiator", s.initiator)
			c.getHandler().SessionOpened(s)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.getHandler().HandleData(s, label, msg.Data)
	})
	dc.OnClose(func() {
		c.spawn(func() { c.closeSession(s) })
	})
}

// CloseSession 关闭到 peer 的会话
func (c *Connector) CloseSession(peer types.NodeID) bool {
	s, ok := c.Session(peer)
	if !ok {
		return false
	}
	c.closeSession(s)
	return true
}

func (c *Connector) closeSession(s *Session) {
	first, wasOpened := s.markClosed()
	if !first {
		return
	}

	c.mu.Lock()
	if c.sessions[s.peer] == s {
		delete(c.sessions, s.peer)
	}
	c.mu.Unlock()

	if err := s.pc.Close(); err != nil {
		logger.Debug("关闭会话失败", "peer", s.peer.ShortString(), "error", err)
	}
	if wasOpened {
		logger.Info("会话已关闭", "peer", s.peer.ShortString())
		c.getHandler().SessionClosed(s)
	}
}

// spawn 在跟踪的 goroutine 中执行，避免在 pion 回调中关闭连接
func (c *Connector) spawn(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fn()
	}()
}

// Close 关闭所有会话
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	c.cancel()

	var errs error
	for _, s := range sessions {
		first, _ := s.markClosed()
		if !first {
			continue
		}
		if err := s.pc.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	c.mu.Lock()
	c.sessions = make(map[types.NodeID]*Session)
	c.mu.Unlock()

	c.wg.Wait()
	return errs
}

type nopHandler struct{}

func (nopHandler) SessionOpened(*Session)              {}
func (nopHandler) SessionClosed(*Session)              {}
func (nopHandler) HandleData(*Session, string, []byte) {}
