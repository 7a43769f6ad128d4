package meshchat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/internal/chat"
	"github.com/dep2p/go-meshchat/internal/core/connmgr"
	"github.com/dep2p/go-meshchat/internal/core/dht"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/internal/core/rpc"
	"github.com/dep2p/go-meshchat/internal/core/signaling"
	"github.com/dep2p/go-meshchat/internal/core/webrtc"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("meshchat")

const (
	// initializeTimeout 初始化超时（Fx App Start）
	initializeTimeout = 30 * time.Second

	// shutdownTimeout 关闭超时（Fx App Stop）
	shutdownTimeout = 10 * time.Second
)

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点状态
type NodeState int

const (
	// StateIdle 已创建，尚未启动
	StateIdle NodeState = iota

	// StateInitializing 初始化中（Fx App 启动中）
	StateInitializing

	// StateRunning 运行中
	StateRunning

	// StateStopping 停止中
	StateStopping

	// StateStopped 已停止
	StateStopped
)

// String 返回状态名称
func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              Node
// ════════════════════════════════════════════════════════════════════════════

// Node 聊天覆盖网络节点
type Node struct {
	config *nodeConfig
	app    *fx.App

	// 由 Fx 注入
	self      types.NodeID
	profile   types.PeerDTO
	bus       interfaces.EventBus
	transport *rpc.Transport
	dht       *dht.DHT
	connector *webrtc.Connector
	manager   *connmgr.Manager
	signaling *signaling.Client
	metrics   *metrics.Metrics
	bandwidth *metrics.BandwidthCounter

	mu      sync.RWMutex
	state   NodeState
	started bool
	closed  bool
}

// New 创建节点，组件在 Start 时启动
func New(opts ...Option) (*Node, error) {
	cfg := newNodeConfig()
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	cfg.config.Log.Apply()
	if err := cfg.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	node := &Node{config: cfg}
	app, err := buildFxApp(cfg, node)
	if err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	node.app = app

	logger.Debug("节点已创建", "id", node.self.ShortString())
	return node, nil
}

// Start 启动所有组件
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNodeClosed
	}
	if n.started {
		return ErrAlreadyStarted
	}

	n.state = StateInitializing
	logger.Info("正在启动节点", "id", n.self.ShortString())

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	if err := n.app.Start(initCtx); err != nil {
		n.state = StateIdle
		logger.Error("节点启动失败", "error", err)
		return fmt.Errorf("initialize failed: %w", err)
	}

	n.state = StateRunning
	n.started = true
	logger.Info("节点启动成功", "id", n.self.ShortString())
	return nil
}

// Close 停止所有组件，节点不可再次启动
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	if !n.started {
		n.state = StateStopped
		return nil
	}

	n.state = StateStopping
	logger.Info("正在关闭节点")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := n.app.Stop(ctx)
	n.state = StateStopped
	n.started = false
	if err != nil {
		logger.Error("关闭节点失败", "error", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("节点已关闭")
	return nil
}

// State 返回节点状态
func (n *Node) State() NodeState {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

func (n *Node) checkRunning() error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	switch {
	case n.closed:
		return ErrNodeClosed
	case !n.started:
		return ErrNotStarted
	}
	return nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              身份
// ════════════════════════════════════════════════════════════════════════════

// Self 返回本节点 ID
func (n *Node) Self() types.NodeID {
	return n.self
}

// Profile 返回本节点在 PEX 中公布的资料
func (n *Node) Profile() types.PeerDTO {
	return n.profile
}

// ════════════════════════════════════════════════════════════════════════════
//                              消息
// ════════════════════════════════════════════════════════════════════════════

// Send 经覆盖网络发送已加密的消息
func (n *Node) Send(ctx context.Context, recipient types.NodeID, msg *types.MessageDTO) (dht.SendResult, error) {
	if err := n.checkRunning(); err != nil {
		return dht.SendResult{}, err
	}
	return n.dht.SendMessage(ctx, recipient, msg, n.self)
}

// SendText 加密并发送一条文本消息
//
// 会话密钥由共享秘密和双方节点 ID 派生。
func (n *Node) SendText(ctx context.Context, recipient types.NodeID, text string) (*types.MessageDTO, dht.SendResult, error) {
	key, err := n.conversationKey(recipient)
	if err != nil {
		return nil, dht.SendResult{}, err
	}
	msg, err := chat.Seal(key, n.self, text, time.Now())
	if err != nil {
		return nil, dht.SendResult{}, err
	}
	res, err := n.Send(ctx, recipient, msg)
	return msg, res, err
}

// ReadText 解密发给本节点的消息
func (n *Node) ReadText(msg *types.MessageDTO) (string, error) {
	sender, err := chat.Sender(msg)
	if err != nil {
		return "", err
	}
	key, err := n.conversationKey(sender)
	if err != nil {
		return "", err
	}
	return chat.Open(key, msg)
}

func (n *Node) conversationKey(peer types.NodeID) ([]byte, error) {
	if len(n.config.secret) == 0 {
		return nil, ErrNoSecret
	}
	return chat.DeriveKey(n.config.secret, n.self, peer)
}

// ════════════════════════════════════════════════════════════════════════════
//                              连接
// ════════════════════════════════════════════════════════════════════════════

// Bootstrap 通过已有信道的节点加入网络，节点存活时返回 true
func (n *Node) Bootstrap(ctx context.Context, peer types.NodeID) bool {
	if n.checkRunning() != nil {
		return false
	}
	return n.dht.Bootstrap(ctx, types.Node{ID: peer})
}

// Connect 向节点发起 WebRTC 会话
//
// 信令先经覆盖网络中继，失败时走信令服务器。会话建立后
// 节点自动进入路由表和连接管理器。
func (n *Node) Connect(ctx context.Context, peer types.PeerDTO) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.connector.InitiateConnection(ctx, peer, nil, true)
}

// Disconnect 关闭到节点的会话
func (n *Node) Disconnect(peer types.NodeID) bool {
	return n.connector.CloseSession(peer)
}

// AttachChannel 挂接外部建立的 dht 信道
//
// 入站数据需通过 Receive 交给节点。
func (n *Node) AttachChannel(peer types.NodeID, ch interfaces.Channel) error {
	if err := n.checkRunning(); err != nil {
		return err
	}
	return n.transport.AddChannel(peer, ch)
}

// DetachChannel 移除外部挂接的信道
func (n *Node) DetachChannel(peer types.NodeID) bool {
	return n.transport.RemoveChannel(peer)
}

// Receive 把外部信道收到的数据交给传输层
func (n *Node) Receive(origin types.NodeID, data []byte) {
	n.transport.Receive(origin, data)
}

// ════════════════════════════════════════════════════════════════════════════
//                              观测
// ════════════════════════════════════════════════════════════════════════════

// Subscribe 订阅节点事件，例如 new(types.EvtChatMessage)
func (n *Node) Subscribe(eventType interface{}, opts ...interfaces.SubscriptionOpt) (interfaces.Subscription, error) {
	return n.bus.Subscribe(eventType, opts...)
}

// ConnectedPeers 返回已建立会话的节点资料
func (n *Node) ConnectedPeers() []types.PeerDTO {
	return n.manager.Connected()
}

// RoutingTable 返回路由表中的节点
func (n *Node) RoutingTable() []types.Node {
	return n.dht.Table().All()
}

// CachedMessages 返回待投递的缓存消息数
func (n *Node) CachedMessages() int {
	return n.dht.CachedMessageCount()
}

// SignalingConnected 是否已连接信令服务器
func (n *Node) SignalingConnected() bool {
	return n.signaling.Connected()
}

// Bandwidth 返回累计流量统计
func (n *Node) Bandwidth() metrics.Stats {
	return n.bandwidth.Totals()
}

// MetricsRegistry 返回指标注册表，指标关闭时为 nil
func (n *Node) MetricsRegistry() *prometheus.Registry {
	return n.metrics.Registry()
}
