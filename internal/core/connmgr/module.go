package connmgr

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Module 返回 Fx 模块
//
// Gater 作为 interfaces.Blocklist 提供给传输层。
func Module() fx.Option {
	return fx.Module("connmgr",
		fx.Provide(
			ProvideGater,
			ProvideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

// GaterResult 屏蔽集合输出
type GaterResult struct {
	fx.Out

	Gater     *Gater
	Blocklist interfaces.Blocklist
}

// ProvideGater 提供屏蔽集合
func ProvideGater() GaterResult {
	g := NewGater()
	return GaterResult{Gater: g, Blocklist: g}
}

// Params 管理器依赖参数
type Params struct {
	fx.In

	Self        types.PeerDTO
	Connector   Connector
	Gater       *Gater
	UnifiedCfg  *config.Config                         `optional:"true"`
	Router      Router                                 `optional:"true"`
	Metrics     *metrics.Metrics                       `optional:"true"`
	SignalerFor func(types.NodeID) interfaces.Signaler `optional:"true"`
}

// ProvideManager 提供连接管理器
func ProvideManager(p Params) (*Manager, error) {
	return New(ConfigFromUnified(p.UnifiedCfg), p.Self, p.Connector,
		WithGater(p.Gater),
		WithRouter(p.Router),
		WithMetrics(p.Metrics),
		WithSignalerFor(p.SignalerFor),
	)
}

// registerLifecycle 启动时执行引导，停止时取消
func registerLifecycle(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			m.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			return m.Close()
		},
	})
}
