package meshchat

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/connmgr"
	"github.com/dep2p/go-meshchat/internal/core/dht"
	"github.com/dep2p/go-meshchat/internal/core/eventbus"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/internal/core/rpc"
	"github.com/dep2p/go-meshchat/internal/core/signaling"
	"github.com/dep2p/go-meshchat/internal/core/storage"
	"github.com/dep2p/go-meshchat/internal/core/webrtc"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              Fx 应用构建
// ════════════════════════════════════════════════════════════════════════════

// buildFxApp 构建 Fx 应用
//
// 模块按依赖顺序排列：
//
//	metrics → eventbus → storage → rpc → dht → signaling → webrtc → connmgr
func buildFxApp(cfg *nodeConfig, node *Node) (*fx.App, error) {
	options := []fx.Option{
		fx.Supply(cfg.config),
		fx.Provide(
			provideSelf,
			provideProfile,
			provideRouter,
		),

		metrics.Module(),
		eventbus.Module(),
		storage.Module(),
		rpc.Module(),
		dht.Module(),
		signaling.Module(),
		webrtc.Module(),
		connmgr.Module(),

		fx.Invoke(wireSessions),
		fx.Invoke(injectNodeComponents(node)),

		// 静默 Fx 自身的日志
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	}

	options = append(options, cfg.userFxOptions...)

	app := fx.New(options...)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return app, nil
}

// provideSelf 解析本节点 ID
func provideSelf(cfg *config.Config) (types.NodeID, error) {
	return cfg.Identity.ResolveNodeID()
}

// provideProfile 本节点在 PEX 中公布的资料
func provideProfile(cfg *config.Config, self types.NodeID) types.PeerDTO {
	return cfg.Identity.PeerDTO(self)
}

// provideRouter 连接管理器按路由表重连
func provideRouter(d *dht.DHT) connmgr.Router {
	return d.Table()
}

// ════════════════════════════════════════════════════════════════════════════
//                              会话桥接
// ════════════════════════════════════════════════════════════════════════════

type sessionParams struct {
	fx.In

	LC        fx.Lifecycle
	Connector *webrtc.Connector
	Transport *rpc.Transport
	DHT       *dht.DHT
	Manager   *connmgr.Manager
}

// sessionBridge 把 WebRTC 会话接入传输层、路由表和连接管理器
//
// dht 数据通道承载 RPC，pex 数据通道承载节点交换。
type sessionBridge struct {
	transport *rpc.Transport
	dht       *dht.DHT
	manager   *connmgr.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func wireSessions(p sessionParams) {
	b := &sessionBridge{
		transport: p.Transport,
		dht:       p.DHT,
		manager:   p.Manager,
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	p.Connector.SetHandler(b)

	p.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			b.cancel()
			b.wg.Wait()
			return nil
		},
	})
}

func (b *sessionBridge) spawn(fn func(ctx context.Context)) {
	if b.ctx.Err() != nil {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(b.ctx)
	}()
}

// SessionOpened 两条数据通道都已打开
func (b *sessionBridge) SessionOpened(s *webrtc.Session) {
	peer := s.Peer()
	if err := b.transport.AddChannel(peer, s.DHT()); err != nil {
		logger.Warn("挂接 dht 通道失败", "peer", peer.ShortString(), "error", err)
		return
	}
	if err := b.manager.AddPeer(s.Profile(), s.PEX(), s); err != nil {
		logger.Warn("登记节点失败", "peer", peer.ShortString(), "error", err)
	}
	b.spawn(func(ctx context.Context) {
		b.dht.AddNode(ctx, types.Node{ID: peer})
	})
	logger.Info("会话已建立", "peer", peer.ShortString())
}

// SessionClosed 会话关闭
func (b *sessionBridge) SessionClosed(s *webrtc.Session) {
	peer := s.Peer()
	b.transport.RemoveChannel(peer)
	b.manager.RemovePeer(peer)
	logger.Info("会话已关闭", "peer", peer.ShortString())
}

// HandleData 按数据通道标签分发入站数据
func (b *sessionBridge) HandleData(s *webrtc.Session, label string, data []byte) {
	switch label {
	case webrtc.LabelDHT:
		b.transport.Receive(s.Peer(), data)
	case webrtc.LabelPEX:
		b.spawn(func(ctx context.Context) {
			if err := b.manager.HandlePEXMessage(ctx, s.Peer(), data); err != nil {
				logger.Debug("处理 PEX 消息失败", "peer", s.Peer().ShortString(), "error", err)
			}
		})
	default:
		logger.Debug("未知数据通道", "label", label)
	}
}

// ════════════════════════════════════════════════════════════════════════════
//                              组件注入
// ════════════════════════════════════════════════════════════════════════════

// nodeInjectParams 节点组件注入参数
type nodeInjectParams struct {
	fx.In

	Self      types.NodeID
	Profile   types.PeerDTO
	Bus       interfaces.EventBus
	Transport *rpc.Transport
	DHT       *dht.DHT
	Connector *webrtc.Connector
	Manager   *connmgr.Manager
	Signaling *signaling.Client
	Metrics   *metrics.Metrics          `optional:"true"`
	Bandwidth *metrics.BandwidthCounter `optional:"true"`
}

// injectNodeComponents 返回把组件注入 Node 的 Invoke 函数
func injectNodeComponents(node *Node) func(nodeInjectParams) {
	return func(p nodeInjectParams) {
		node.self = p.Self
		node.profile = p.Profile
		node.bus = p.Bus
		node.transport = p.Transport
		node.dht = p.DHT
		node.connector = p.Connector
		node.manager = p.Manager
		node.signaling = p.Signaling
		node.metrics = p.Metrics
		node.bandwidth = p.Bandwidth
	}
}
