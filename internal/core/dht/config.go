package dht

import (
	"fmt"
	"time"

	"github.com/dep2p/go-meshchat/config"
)

// Config DHT 配置
type Config struct {
	// K 桶大小与转发候选数
	K int

	// PingTimeout 存活探测超时
	PingTimeout time.Duration

	// MaxTTL 缓存与转发记录的保留时间
	MaxTTL time.Duration

	// SweepInterval 缓存清扫间隔
	SweepInterval time.Duration

	// DeliveredCapacity 本地投递去重集合容量
	DeliveredCapacity int

	// Forward 转发策略
	Forward config.ForwardConfig

	// Cache 缓存策略
	Cache config.CacheConfig
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(config.NewConfig())
}

// ConfigFromUnified 从统一配置创建 DHT 配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	return Config{
		K:                 cfg.DHT.K,
		PingTimeout:       cfg.DHT.PingTimeout.Duration(),
		MaxTTL:            cfg.DHT.MaxTTL.Duration(),
		SweepInterval:     cfg.DHT.SweepInterval.Duration(),
		DeliveredCapacity: cfg.DHT.DeliveredCapacity,
		Forward:           cfg.Forward,
		Cache:             cfg.Cache,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive", ErrInvalidConfig)
	}
	if c.MaxTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("%w: ttl and sweep interval must be positive", ErrInvalidConfig)
	}
	if c.DeliveredCapacity <= 0 {
		return fmt.Errorf("%w: delivered capacity must be positive", ErrInvalidConfig)
	}
	if err := c.Forward.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
