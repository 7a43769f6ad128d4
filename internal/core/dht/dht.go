// Package dht 组合路由表、传输层、转发策略和缓存策略，实现消息路由协议
//
// 节点生命周期：未知 → 已知未验证（已插入路由表）→ 已知存活（ping 成功）
// → 信道关闭（表项保留直到被驱逐）。
//
// 不可达从不作为错误返回：发送失败时回退到转发与缓存，
// 只有无效输入和关闭后使用才返回 error。
package dht

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dep2p/go-meshchat/internal/core/cache"
	"github.com/dep2p/go-meshchat/internal/core/forward"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/internal/core/routing"
	"github.com/dep2p/go-meshchat/internal/core/rpc"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/dht")

// ============================================================================
//                              选项
// ============================================================================

// Option DHT 选项
type Option func(*DHT)

// WithClock 替换时间源
func WithClock(c clock.Clock) Option {
	return func(d *DHT) {
		if c != nil {
			d.clock = c
		}
	}
}

// WithMetrics 设置指标（nil 表示不采集）
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DHT) {
		d.metrics = m
	}
}

// WithSnapshotStore 设置路由表与缓存的持久化存储
func WithSnapshotStore(s interfaces.SnapshotStore) Option {
	return func(d *DHT) {
		d.store = s
	}
}

// WithCacheOptions 追加缓存策略选项
func WithCacheOptions(opts ...cache.Option) Option {
	return func(d *DHT) {
		d.cacheOpts = append(d.cacheOpts, opts...)
	}
}

// ============================================================================
//                              DHT
// ============================================================================

// SendResult 一次发送的结果
type SendResult struct {
	// Direct 已直接发给接收者
	Direct bool
	// Forwarded 中继成功的节点
	Forwarded []types.NodeID
	// Cached 已进入缓存
	Cached bool
}

// DHT 消息路由协调器
type DHT struct {
	self      types.NodeID
	cfg       Config
	clock     clock.Clock
	metrics   *metrics.Metrics
	store     interfaces.SnapshotStore
	events    interfaces.Publisher
	cacheOpts []cache.Option

	table     *routing.Table
	transport *rpc.Transport
	seen      *forward.SeenSet
	forward   forward.Strategy
	cache     cache.Strategy
	delivered *lru.Cache[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	closed    bool
	startOnce sync.Once
}

// New 创建 DHT 并注册为传输层的入站处理器
func New(transport *rpc.Transport, events interfaces.Publisher, cfg Config, opts ...Option) (*DHT, error) {
	if transport == nil {
		return nil, errors.New("dht: transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = nopPublisher{}
	}

	d := &DHT{
		self:      transport.Self(),
		cfg:       cfg,
		clock:     clock.New(),
		events:    events,
		transport: transport,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.table = routing.NewTable(d.self, cfg.K)
	d.seen = forward.NewSeenSet(cfg.Forward.SeenCapacity, cfg.MaxTTL)

	fwd, err := forward.New(cfg.Forward, forward.Deps{
		Self:   d.self,
		K:      cfg.K,
		Router: d.table,
		Sender: transport,
		Seen:   d.seen,
		Events: events,
	})
	if err != nil {
		return nil, err
	}
	d.forward = fwd

	cacheOpts := append([]cache.Option{cache.WithClock(d.clock)}, d.cacheOpts...)
	c, err := cache.New(cfg.Cache, d.self, d.table, cacheOpts...)
	if err != nil {
		return nil, err
	}
	d.cache = c

	d.delivered, err = lru.New[string, struct{}](cfg.DeliveredCapacity)
	if err != nil {
		return nil, fmt.Errorf("create delivered set: %w", err)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	transport.SetHandler(d)

	logger.Debug("DHT 已创建",
		"self", d.self.ShortString(),
		"forward", fwd.Name(),
		"cache", c.Name())
	return d, nil
}

// Start 启动周期清扫，可多次调用
func (d *DHT) Start() {
	d.startOnce.Do(func() {
		d.spawn(d.sweepLoop)
	})
}

// Self 返回本地节点 ID
func (d *DHT) Self() types.NodeID {
	return d.self
}

// Table 返回路由表
func (d *DHT) Table() *routing.Table {
	return d.table
}

// Transport 返回传输层
func (d *DHT) Transport() *rpc.Transport {
	return d.transport
}

// CachedMessageCount 返回缓存的消息数
func (d *DHT) CachedMessageCount() int {
	return d.cache.Len()
}

// IsClosed 检查是否已关闭
func (d *DHT) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// spawn 启动一个受跟踪的 goroutine，关闭后返回 false
func (d *DHT) spawn(fn func(ctx context.Context)) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		fn(d.ctx)
	}()
	return true
}

// ============================================================================
//                              节点管理
// ============================================================================

// AddNode 把节点插入路由表并探测存活
//
// 已存在的节点不做任何事并返回 false。探测成功时发布 EvtReady
// 并在后台触发一次缓存投递。
func (d *DHT) AddNode(ctx context.Context, node types.Node) bool {
	if d.IsClosed() || node.ID == d.self {
		return false
	}
	if !d.table.Add(node) {
		return false
	}
	d.metrics.SetRoutingTableSize(d.table.Size())
	return d.probe(ctx, node.ID)
}

// Bootstrap 通过已知节点加入网络，节点存活时返回 true
func (d *DHT) Bootstrap(ctx context.Context, node types.Node) bool {
	if d.IsClosed() || node.ID == d.self {
		return false
	}
	if d.AddNode(ctx, node) {
		return true
	}
	// 已在表中的节点也要确认存活
	if d.table.Has(node.ID) {
		return d.probe(ctx, node.ID)
	}
	return false
}

// probe ping 节点，成功时发布 EvtReady 并触发缓存投递
func (d *DHT) probe(ctx context.Context, id types.NodeID) bool {
	ok := d.transport.Ping(ctx, id)
	d.metrics.Ping(ok)
	if !ok {
		logger.Debug("节点未响应 ping", "peer", id.ShortString())
		return false
	}

	logger.Debug("节点就绪", "peer", id.ShortString())
	d.events.Publish(types.EvtReady{Node: id})
	if d.cache.Len() > 0 {
		d.spawn(func(ctx context.Context) {
			d.deliverCached(ctx)
		})
	}
	return true
}

// learn 入站时学习来源节点，新节点在后台探测
func (d *DHT) learn(origin types.NodeID) {
	if origin == d.self || origin.IsEmpty() {
		return
	}
	if !d.table.Add(types.Node{ID: origin}) {
		return
	}
	d.metrics.SetRoutingTableSize(d.table.Size())
	d.spawn(func(ctx context.Context) {
		d.probe(ctx, origin)
	})
}

// ============================================================================
//                              发送
// ============================================================================

// SendMessage 把消息发往接收者
//
// 接收者在路由表中且存活时直接发送；无论直接发送结果如何都会转发并缓存。
// 接收者不在路由表中时只转发，转发没有选中任何节点或失败时才缓存。
// sender 为零值时使用本地节点 ID。
func (d *DHT) SendMessage(ctx context.Context, recipient types.NodeID, msg *types.MessageDTO, sender types.NodeID) (SendResult, error) {
	return d.send(ctx, recipient, msg, sender, false)
}

// send 执行直接发送、转发和缓存；marked 表示 ID 已在 seen 中标记
func (d *DHT) send(ctx context.Context, recipient types.NodeID, msg *types.MessageDTO, sender types.NodeID, marked bool) (SendResult, error) {
	var res SendResult
	if d.IsClosed() {
		return res, ErrClosed
	}
	if recipient.IsEmpty() {
		return res, ErrInvalidRecipient
	}
	if err := msg.Validate(); err != nil {
		return res, err
	}
	if sender.IsEmpty() {
		sender = d.self
	}

	known := d.table.Has(recipient)
	if known && d.transport.Ping(ctx, recipient) {
		d.events.Publish(types.EvtSent{MessageID: msg.ID, Peer: recipient, Recipient: recipient})
		if d.transport.SendMessage(recipient, sender, recipient, msg) {
			res.Direct = true
			d.metrics.MessageSent()
		}
	}

	fres, ferr := d.forward.Forward(ctx, forward.Request{
		Sender:    sender,
		Recipient: recipient,
		Message:   msg,
		Marked:    marked,
	})
	if ferr != nil {
		logger.Debug("转发部分失败", "id", msg.ID, "error", ferr)
	}
	if fres.Skipped {
		d.metrics.ForwardSkipped()
	}
	res.Forwarded = fres.Targets
	d.metrics.MessageForwarded(len(fres.Targets))

	forwardFailed := ferr != nil || (!fres.Skipped && len(fres.Targets) == 0)
	if known || forwardFailed {
		res.Cached = d.cache.TryCache(types.QueuedMessage{
			ID:        msg.ID,
			Sender:    sender,
			Recipient: recipient,
			Payload:   msg,
			Timestamp: d.clock.Now(),
		})
		if res.Cached {
			d.metrics.CacheAdmitted()
			d.metrics.SetCachedMessages(d.cache.Len())
		}
	}

	logger.Debug("消息已处理",
		"id", msg.ID,
		"recipient", recipient.ShortString(),
		"direct", res.Direct,
		"forwarded", len(res.Forwarded),
		"cached", res.Cached)
	return res, nil
}

// SendSignaling 把信令载荷送往接收者
//
// 有直连信道时直接发送，否则交给路由表中比本节点更接近接收者的节点中继。
func (d *DHT) SendSignaling(ctx context.Context, recipient types.NodeID, payload json.RawMessage) bool {
	if d.IsClosed() || recipient.IsEmpty() || len(payload) == 0 {
		return false
	}
	return d.relaySignaling(d.self, d.self, recipient, payload)
}

// relaySignaling 直接或贪心地向更近的节点发送信令
//
// 每一跳距离严格减小，因此不会成环。
func (d *DHT) relaySignaling(origin, sender, recipient types.NodeID, payload json.RawMessage) bool {
	if d.transport.HasChannel(recipient) {
		return d.transport.SendSignaling(recipient, sender, recipient, payload)
	}

	own := types.XORDistance(d.self, recipient)
	for _, n := range d.table.Closest(recipient, d.cfg.K) {
		if n.ID == origin || n.ID == sender {
			continue
		}
		if types.XORDistance(n.ID, recipient).Cmp(own) >= 0 {
			break
		}
		if d.transport.SendSignaling(n.ID, sender, recipient, payload) {
			return true
		}
	}
	logger.Debug("信令无可用路由", "recipient", recipient.ShortString())
	return false
}

// ============================================================================
//                              入站处理（rpc.Handler）
// ============================================================================

var _ rpc.Handler = (*DHT)(nil)

// HandlePing 收到 ping 时学习来源节点
func (d *DHT) HandlePing(origin types.NodeID) {
	d.learn(origin)
}

// HandleWarning 发布无法解码的输入
func (d *DHT) HandleWarning(origin types.NodeID, err error) {
	d.warn(origin, err.Error())
}

// HandleEnvelope 在受跟踪的 goroutine 中处理消息或信令
func (d *DHT) HandleEnvelope(origin types.NodeID, env *types.Envelope) {
	switch env.Type {
	case types.EnvelopeMessage:
		d.spawn(func(ctx context.Context) {
			d.handleMessage(ctx, origin, env)
		})
	case types.EnvelopeSignaling:
		d.handleSignaling(origin, env)
	default:
		d.warn(origin, fmt.Sprintf("unexpected envelope type %q", env.Type))
	}
}

func (d *DHT) warn(origin types.NodeID, reason string) {
	logger.Warn("丢弃畸形输入", "peer", origin.ShortString(), "reason", reason)
	d.metrics.Warning()
	d.events.Publish(types.EvtWarning{Origin: origin, Reason: reason})
}

// handleMessage 投递或中继入站消息
func (d *DHT) handleMessage(ctx context.Context, origin types.NodeID, env *types.Envelope) {
	switch {
	case env.Sender.IsEmpty():
		d.warn(origin, "message without sender")
		return
	case env.Recipient.IsEmpty():
		d.warn(origin, "message without recipient")
		return
	case env.Message == nil:
		d.warn(origin, "message without payload")
		return
	case env.Message.ID == "":
		d.warn(origin, "message without id")
		return
	}

	d.learn(origin)
	d.events.Publish(types.EvtNodeProcessesMessage{
		MessageID: env.Message.ID,
		Origin:    origin,
		Sender:    env.Sender,
		Recipient: env.Recipient,
	})

	if env.Recipient == d.self {
		d.deliverLocal(env.Sender, env.Message)
		return
	}

	// 同一 ID 只中继一次，直接发送和转发都不重复
	if !d.seen.MarkIfAbsent(env.Message.ID) {
		logger.Debug("忽略重复中继", "id", env.Message.ID, "peer", origin.ShortString())
		return
	}
	if _, err := d.send(ctx, env.Recipient, env.Message, env.Sender, true); err != nil {
		logger.Debug("中继消息失败", "id", env.Message.ID, "error", err)
	}
}

// deliverLocal 发布发给本节点的消息，同一 ID 只发布一次
func (d *DHT) deliverLocal(from types.NodeID, msg *types.MessageDTO) {
	if ok, _ := d.delivered.ContainsOrAdd(msg.ID, struct{}{}); ok {
		logger.Debug("忽略重复投递", "id", msg.ID)
		return
	}
	d.metrics.ChatReceived()
	d.events.Publish(types.EvtChatMessage{From: from, Message: msg})
}

// handleSignaling 投递或中继入站信令
func (d *DHT) handleSignaling(origin types.NodeID, env *types.Envelope) {
	switch {
	case env.Sender.IsEmpty():
		d.warn(origin, "signaling without sender")
		return
	case env.Recipient.IsEmpty():
		d.warn(origin, "signaling without recipient")
		return
	case len(env.SignalingMessage) == 0:
		d.warn(origin, "signaling without payload")
		return
	}

	if env.Recipient == d.self {
		d.events.Publish(types.EvtSignaling{From: env.Sender, Payload: env.SignalingMessage})
		return
	}
	d.relaySignaling(origin, env.Sender, env.Recipient, env.SignalingMessage)
}

// ============================================================================
//                              关闭
// ============================================================================

// Close 停止清扫，关闭传输层，等待处理中的任务并清空状态
func (d *DHT) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	err := d.transport.Close()
	d.wg.Wait()

	d.cache.Clear()
	d.seen.Purge()
	d.delivered.Purge()
	d.metrics.SetCachedMessages(0)

	d.events.Publish(types.EvtClose{})
	logger.Debug("DHT 已关闭", "self", d.self.ShortString())
	return err
}

type nopPublisher struct{}

func (nopPublisher) Publish(interface{}) {}
