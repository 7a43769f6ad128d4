package webrtc

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/connmgr"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Module 返回 Fx 模块
//
// Connector 同时作为 connmgr.Connector 提供；会话事件处理器由节点设置。
func Module() fx.Option {
	return fx.Module("webrtc",
		fx.Provide(ProvideConnector),
		fx.Invoke(registerLifecycle),
	)
}

// Params 连接器依赖参数
type Params struct {
	fx.In

	Self        types.PeerDTO
	Signaler    interfaces.Signaler
	UnifiedCfg  *config.Config                         `optional:"true"`
	SignalerFor func(types.NodeID) interfaces.Signaler `optional:"true"`
	Blocklist   interfaces.Blocklist                   `optional:"true"`
}

// Result 连接器输出
type Result struct {
	fx.Out

	Connector     *Connector
	ConnmgrTarget connmgr.Connector
}

// ProvideConnector 提供 WebRTC 连接器
func ProvideConnector(p Params) (Result, error) {
	c, err := New(ConfigFromUnified(p.UnifiedCfg), p.Self,
		WithSignaler(p.Signaler),
		WithSignalerFor(p.SignalerFor),
		WithBlocklist(p.Blocklist),
	)
	if err != nil {
		return Result{}, err
	}
	return Result{Connector: c, ConnmgrTarget: c}, nil
}

// registerLifecycle 启动时订阅信令事件，停止时关闭所有会话
func registerLifecycle(lc fx.Lifecycle, c *Connector, bus interfaces.EventBus) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sub, err := bus.Subscribe(new(types.EvtSignaling))
			if err != nil {
				return err
			}
			c.spawn(func() {
				defer sub.Close()
				c.Serve(c.ctx, sub)
			})
			return nil
		},
		OnStop: func(_ context.Context) error {
			return c.Close()
		},
	})
}
