package eventbus

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
)

// ============================================================================
// Fx 模块
// ============================================================================

// Result Fx 模块输出结果
type Result struct {
	fx.Out

	Bus       *Bus
	EventBus  interfaces.EventBus
	Publisher interfaces.Publisher
}

// Module 返回 Fx 模块
func Module() fx.Option {
	return fx.Module("eventbus",
		fx.Provide(ProvideEventBus),
	)
}

// ProvideEventBus 提供 EventBus 实例
func ProvideEventBus() Result {
	bus := NewBus()
	return Result{
		Bus:       bus,
		EventBus:  bus,
		Publisher: bus,
	}
}
