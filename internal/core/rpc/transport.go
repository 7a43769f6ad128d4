// Package rpc 实现覆盖网络的传输层
//
// 每个对端节点对应一个外部提供的有序信道。传输层负责：
//   - ping/pong 存活探测（按关联 ID 匹配，超时即失败）
//   - 聊天消息与信令的尽力而为发送
//   - 入站数据解码并分发给 Handler
//
// 传输层不建立连接，也不重试。
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/rpc")

// ============================================================================
//                              Handler
// ============================================================================

// Handler 接收传输层的入站通知
//
// 回调在 Receive 的调用方 goroutine 中执行，实现方不应在回调中阻塞。
type Handler interface {
	// HandlePing 收到来自 origin 的 ping（已回复 pong）
	HandlePing(origin types.NodeID)

	// HandleEnvelope 收到 message 或 signaling 信封
	HandleEnvelope(origin types.NodeID, env *types.Envelope)

	// HandleWarning 收到无法解码的数据
	HandleWarning(origin types.NodeID, err error)
}

// pendingPing 等待中的 ping
type pendingPing struct {
	peer types.NodeID
	done chan struct{}
}

// ============================================================================
//                              Transport
// ============================================================================

// Transport 传输层
type Transport struct {
	self      types.NodeID
	cfg       Config
	clock     clock.Clock
	blocklist interfaces.Blocklist
	reporter  metrics.Reporter

	mu       sync.RWMutex
	channels map[types.NodeID]interfaces.Channel
	handler  Handler

	pendingMu sync.Mutex
	pending   map[string]*pendingPing

	closed  atomic.Bool
	closing chan struct{}
}

// NewTransport 创建传输层
func NewTransport(self types.NodeID, cfg Config, opts ...Option) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Transport{
		self:     self,
		cfg:      cfg,
		clock:    clock.New(),
		channels: make(map[types.NodeID]interfaces.Channel),
		pending:  make(map[string]*pendingPing),
		closing:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Self 返回本地节点 ID
func (t *Transport) Self() types.NodeID {
	return t.self
}

// SetHandler 设置入站处理器
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) getHandler() Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler
}

// ============================================================================
//                              信道管理
// ============================================================================

// AddChannel 登记到 peer 的信道
//
// 已存在的不同信道会被关闭后替换。
func (t *Transport) AddChannel(peer types.NodeID, ch interfaces.Channel) error {
	if t.closed.Load() {
		return ErrClosed
	}

	t.mu.Lock()
	old := t.channels[peer]
	t.channels[peer] = ch
	t.mu.Unlock()

	if old != nil && old != ch {
		logger.Debug("替换已有信道", "peer", peer.ShortString())
		if err := old.Close(); err != nil {
			logger.Debug("关闭旧信道失败", "peer", peer.ShortString(), "error", err)
		}
	}
	return nil
}

// RemoveChannel 注销到 peer 的信道（不关闭）
func (t *Transport) RemoveChannel(peer types.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.channels[peer]; !ok {
		return false
	}
	delete(t.channels, peer)
	return true
}

// HasChannel 检查到 peer 的信道是否存在且打开
func (t *Transport) HasChannel(peer types.NodeID) bool {
	return t.channel(peer) != nil
}

// Peers 返回所有有打开信道的节点
func (t *Transport) Peers() []types.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peers := make([]types.NodeID, 0, len(t.channels))
	for id, ch := range t.channels {
		if ch.IsOpen() {
			peers = append(peers, id)
		}
	}
	return peers
}

func (t *Transport) channel(peer types.NodeID) interfaces.Channel {
	t.mu.RLock()
	ch := t.channels[peer]
	t.mu.RUnlock()

	if ch == nil || !ch.IsOpen() {
		return nil
	}
	return ch
}

// ============================================================================
//                              发送
// ============================================================================

// Send 编码并发送信封
func (t *Transport) Send(peer types.NodeID, env *types.Envelope) error {
	if t.closed.Load() {
		return ErrClosed
	}
	ch := t.channel(peer)
	if ch == nil {
		return ErrNoChannel
	}
	data, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := ch.Send(data); err != nil {
		return err
	}
	if t.reporter != nil {
		t.reporter.LogSent(int64(len(data)), env.Type, peer)
	}
	return nil
}

// SendMessage 向 peer 发送一条聊天消息，失败返回 false
func (t *Transport) SendMessage(peer, sender, recipient types.NodeID, msg *types.MessageDTO) bool {
	err := t.Send(peer, &types.Envelope{
		Type:      types.EnvelopeMessage,
		Sender:    sender,
		Recipient: recipient,
		Message:   msg,
	})
	if err != nil {
		logger.Debug("发送消息失败", "peer", peer.ShortString(), "error", err)
		return false
	}
	return true
}

// SendSignaling 向 peer 发送一条信令，失败返回 false
func (t *Transport) SendSignaling(peer, sender, recipient types.NodeID, payload json.RawMessage) bool {
	err := t.Send(peer, &types.Envelope{
		Type:             types.EnvelopeSignaling,
		Sender:           sender,
		Recipient:        recipient,
		SignalingMessage: payload,
	})
	if err != nil {
		logger.Debug("发送信令失败", "peer", peer.ShortString(), "error", err)
		return false
	}
	return true
}

// ============================================================================
//                              Ping
// ============================================================================

// Ping 探测 peer 是否存活
//
// 在 PingTimeout 内收到匹配的 pong 返回 true。信道缺失、发送失败、
// 超时、ctx 取消或传输层关闭都返回 false。
func (t *Transport) Ping(ctx context.Context, peer types.NodeID) bool {
	if t.closed.Load() {
		return false
	}
	if t.channel(peer) == nil {
		return false
	}

	id := uuid.NewString()
	p := &pendingPing{peer: peer, done: make(chan struct{})}

	t.pendingMu.Lock()
	t.pending[id] = p
	t.pendingMu.Unlock()

	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	err := t.Send(peer, &types.Envelope{
		Type:      types.EnvelopePing,
		Sender:    t.self,
		Recipient: peer,
		ID:        id,
	})
	if err != nil {
		logger.Debug("发送 ping 失败", "peer", peer.ShortString(), "error", err)
		return false
	}

	timer := t.clock.Timer(t.cfg.PingTimeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return true
	case <-timer.C:
		logger.Debug("ping 超时", "peer", peer.ShortString())
		return false
	case <-ctx.Done():
		return false
	case <-t.closing:
		return false
	}
}

// resolvePing 用 pong 完成等待中的 ping
func (t *Transport) resolvePing(origin types.NodeID, id string) {
	t.pendingMu.Lock()
	defer t.pendingMu.Unlock()

	p, ok := t.pending[id]
	if !ok || p.peer != origin {
		logger.Debug("忽略不匹配的 pong", "peer", origin.ShortString())
		return
	}
	delete(t.pending, id)
	close(p.done)
}

// ============================================================================
//                              接收
// ============================================================================

// Receive 处理来自 origin 信道的一帧数据
func (t *Transport) Receive(origin types.NodeID, data []byte) {
	if t.closed.Load() {
		return
	}

	env, err := types.UnmarshalEnvelope(data)
	if err != nil {
		logger.Debug("丢弃无法解码的数据", "peer", origin.ShortString(), "error", err)
		if h := t.getHandler(); h != nil {
			h.HandleWarning(origin, err)
		}
		return
	}
	if t.reporter != nil {
		t.reporter.LogRecv(int64(len(data)), env.Type, origin)
	}

	switch env.Type {
	case types.EnvelopePing:
		if t.blocklist != nil && t.blocklist.IsBlocked(origin) {
			logger.Debug("忽略屏蔽节点的 ping", "peer", origin.ShortString())
			return
		}
		err := t.Send(origin, &types.Envelope{
			Type:      types.EnvelopePong,
			Sender:    t.self,
			Recipient: origin,
			ID:        env.ID,
		})
		if err != nil {
			logger.Debug("回复 pong 失败", "peer", origin.ShortString(), "error", err)
		}
		if h := t.getHandler(); h != nil {
			h.HandlePing(origin)
		}

	case types.EnvelopePong:
		t.resolvePing(origin, env.ID)

	default:
		if h := t.getHandler(); h != nil {
			h.HandleEnvelope(origin, env)
		}
	}
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 关闭所有信道，可多次调用
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.closing)

	t.mu.Lock()
	channels := t.channels
	t.channels = make(map[types.NodeID]interfaces.Channel)
	t.handler = nil
	t.mu.Unlock()

	var err error
	for _, ch := range channels {
		err = multierr.Append(err, ch.Close())
	}
	logger.Debug("传输层已关闭", "channels", len(channels))
	return err
}

// IsClosed 检查是否已关闭
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}
