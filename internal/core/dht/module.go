package dht

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/internal/core/rpc"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
)

// Params DHT 依赖参数
type Params struct {
	fx.In

	Transport  *rpc.Transport
	Events     interfaces.Publisher
	UnifiedCfg *config.Config           `optional:"true"`
	Metrics    *metrics.Metrics         `optional:"true"`
	Store      interfaces.SnapshotStore `optional:"true"`
}

// Module 返回 DHT 的 Fx 模块
func Module() fx.Option {
	return fx.Module("dht",
		fx.Provide(ProvideDHT),
		fx.Invoke(registerLifecycle),
	)
}

// ProvideDHT 提供 DHT
func ProvideDHT(p Params) (*DHT, error) {
	return New(p.Transport, p.Events, ConfigFromUnified(p.UnifiedCfg),
		WithMetrics(p.Metrics),
		WithSnapshotStore(p.Store),
	)
}

// registerLifecycle 启动时恢复状态并开始清扫，停止时保存状态并关闭
func registerLifecycle(lc fx.Lifecycle, d *DHT) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.LoadState(); err != nil {
				logger.Warn("恢复 DHT 状态失败", "error", err)
			}
			d.Start()
			return nil
		},
		OnStop: func(_ context.Context) error {
			if err := d.SaveState(); err != nil {
				logger.Warn("保存 DHT 状态失败", "error", err)
			}
			return d.Close()
		},
	})
}
