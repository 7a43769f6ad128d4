package rpc

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Params 传输层依赖参数
type Params struct {
	fx.In

	Self       types.NodeID
	UnifiedCfg *config.Config       `optional:"true"`
	Reporter   metrics.Reporter     `optional:"true"`
	Blocklist  interfaces.Blocklist `optional:"true"`
}

// Module 返回传输层的 Fx 模块
func Module() fx.Option {
	return fx.Module("rpc",
		fx.Provide(ProvideTransport),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideTransport 提供传输层
func ProvideTransport(p Params) (*Transport, error) {
	return NewTransport(p.Self, ConfigFromUnified(p.UnifiedCfg),
		WithReporter(p.Reporter),
		WithBlocklist(p.Blocklist),
	)
}

// registerLifecycle 注册生命周期
func registerLifecycle(lc fx.Lifecycle, t *Transport) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return t.Close()
		},
	})
}
