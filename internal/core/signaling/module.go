package signaling

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/dht"
	"github.com/dep2p/go-meshchat/internal/core/rpc"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Module 返回 Fx 模块
//
// 提供的 interfaces.Signaler 先走覆盖网络，失败再走信令服务器。
func Module() fx.Option {
	return fx.Module("signaling",
		fx.Provide(
			ProvideClient,
			ProvideSignalers,
		),
		fx.Invoke(registerLifecycle),
	)
}

// Params 客户端依赖参数
type Params struct {
	fx.In

	Self       types.NodeID
	Events     interfaces.Publisher
	UnifiedCfg *config.Config `optional:"true"`
}

// ProvideClient 提供信令服务器客户端
func ProvideClient(p Params) (*Client, error) {
	return NewClient(ConfigFromUnified(p.UnifiedCfg), p.Self, p.Events)
}

// SignalerParams 信令路径依赖参数
type SignalerParams struct {
	fx.In

	Client    *Client
	Overlay   *dht.DHT
	Transport *rpc.Transport
}

// SignalerResult 信令路径输出
type SignalerResult struct {
	fx.Out

	Signaler    interfaces.Signaler
	SignalerFor func(types.NodeID) interfaces.Signaler
}

// ProvideSignalers 提供默认信令路径和按转交节点构造的信令
func ProvideSignalers(p SignalerParams) SignalerResult {
	return SignalerResult{
		Signaler:    Chain{NewDHTSignaler(p.Overlay), p.Client},
		SignalerFor: ChannelSignalerFor(p.Transport),
	}
}

// registerLifecycle 配置了服务器时在启动阶段连接
//
// 连接失败不阻止启动，节点仍可经覆盖网络交换信令。
func registerLifecycle(lc fx.Lifecycle, c *Client) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !c.cfg.Enabled() {
				return nil
			}
			if err := c.Connect(ctx); err != nil {
				logger.Warn("连接信令服务器失败", "url", c.cfg.URL, "error", err)
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			return c.Close()
		},
	})
}
