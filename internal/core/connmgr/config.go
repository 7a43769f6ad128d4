package connmgr

import (
	"fmt"
	"time"

	"github.com/dep2p/go-meshchat/config"
)

// Config 连接管理器配置
type Config struct {
	// MinConnections 最少连接数
	MinConnections int

	// K 重连的路由表节点数上限
	K int

	// AgeMin, AgeMax 接受的年龄范围（含两端）
	AgeMin int
	AgeMax int

	// DesiredSex 期望的性别位掩码，0 表示不限
	DesiredSex int

	// DesiredSearching 期望的意图位掩码
	DesiredSearching int

	// GeoEnabled 是否启用地理距离过滤
	GeoEnabled bool

	// MaxDistanceKm 地理过滤的最大距离
	MaxDistanceKm float64

	// ChannelSelection PEX 信道选择方式
	ChannelSelection config.ChannelSelection

	// SnapshotDelay, PEXDelay, ReconnectDelay 引导阶段的错峰延迟
	SnapshotDelay  time.Duration
	PEXDelay       time.Duration
	ReconnectDelay time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建连接管理配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	c := cfg.ConnMgr
	return Config{
		MinConnections:   c.MinConnections,
		K:                cfg.DHT.K,
		AgeMin:           c.AgeMin,
		AgeMax:           c.AgeMax,
		DesiredSex:       c.DesiredSex,
		DesiredSearching: c.DesiredSearching,
		GeoEnabled:       c.Geo.Enabled,
		MaxDistanceKm:    c.Geo.MaxDistanceKm,
		ChannelSelection: c.ChannelSelection,
		SnapshotDelay:    c.SnapshotDelay.Duration(),
		PEXDelay:         c.PEXDelay.Duration(),
		ReconnectDelay:   c.ReconnectDelay.Duration(),
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.MinConnections < 0 {
		return fmt.Errorf("%w: min connections must not be negative", ErrInvalidConfig)
	}
	if c.K <= 0 {
		return fmt.Errorf("%w: k must be positive", ErrInvalidConfig)
	}
	if c.AgeMin > c.AgeMax {
		return fmt.Errorf("%w: age min %d > age max %d", ErrInvalidConfig, c.AgeMin, c.AgeMax)
	}
	if c.GeoEnabled && c.MaxDistanceKm <= 0 {
		return fmt.Errorf("%w: max distance must be positive", ErrInvalidConfig)
	}
	switch c.ChannelSelection {
	case config.SelectClosest, config.SelectRandom:
	default:
		return fmt.Errorf("%w: channel selection %q", ErrInvalidConfig, c.ChannelSelection)
	}
	return nil
}
