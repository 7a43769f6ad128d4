package storage

import (
	"fmt"
	"time"

	"github.com/dep2p/go-meshchat/config"
)

// Config 存储配置
type Config struct {
	// Enabled 是否持久化快照
	Enabled bool

	// Path BadgerDB 数据库目录，InMemory 时忽略
	Path string

	// InMemory 使用内存模式，数据不落盘
	InMemory bool

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool

	// GCInterval 值日志垃圾回收间隔，0 表示不回收
	// 默认值: 10 分钟
	GCInterval time.Duration

	// GCDiscardRatio 垃圾回收丢弃比例
	// 默认值: 0.5
	GCDiscardRatio float64
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建存储配置
func ConfigFromUnified(cfg *config.Config) Config {
	sc := config.DefaultStorageConfig()
	if cfg != nil {
		sc = cfg.Storage
	}
	return Config{
		Enabled:        sc.Enabled,
		Path:           sc.DBPath(),
		InMemory:       sc.InMemory,
		SyncWrites:     sc.SyncWrites,
		GCInterval:     10 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.GCInterval < 0 {
		return fmt.Errorf("%w: negative gc interval", ErrInvalidConfig)
	}
	if c.GCDiscardRatio <= 0 || c.GCDiscardRatio >= 1 {
		return fmt.Errorf("%w: gc discard ratio must be in (0, 1)", ErrInvalidConfig)
	}
	return nil
}
