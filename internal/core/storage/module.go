package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
)

// Module 返回 Fx 模块
//
// 存储未启用时提供 nil 的 SnapshotStore，DHT 跳过持久化。
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(ProvideStorage),
	)
}

// Params 存储依赖参数
type Params struct {
	fx.In

	LC         fx.Lifecycle
	UnifiedCfg *config.Config `optional:"true"`
}

// Result 存储输出
type Result struct {
	fx.Out

	DB    *DB
	Store interfaces.SnapshotStore
}

// ProvideStorage 打开数据库并注册关闭钩子
func ProvideStorage(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)
	if !cfg.Enabled {
		logger.Debug("存储未启用")
		return Result{}, nil
	}

	db, err := Open(cfg)
	if err != nil {
		return Result{}, err
	}
	p.LC.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			return db.Close()
		},
	})
	return Result{DB: db, Store: NewSnapshotStore(db)}, nil
}
