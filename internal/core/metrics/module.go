package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
)

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
}

// Result Metrics 模块输出
type Result struct {
	fx.Out

	Metrics   *Metrics
	Bandwidth *BandwidthCounter
	Reporter  Reporter
}

// Module 返回 metrics 的 Fx 模块
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(Provide),
	)
}

// Provide 按配置创建指标；关闭时 Metrics 为 nil，流量统计仍然可用
func Provide(p Params) Result {
	cfg := config.DefaultMetricsConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Metrics
	}

	var m *Metrics
	if cfg.Enabled {
		m = New(cfg.Namespace)
	}
	bw := NewBandwidthCounter(m)
	return Result{Metrics: m, Bandwidth: bw, Reporter: bw}
}
