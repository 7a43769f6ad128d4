package config

import (
	"fmt"
	"time"
)

// ConnManagerConfig 连接管理配置
//
// 配置覆盖网络连通性维护：
//   - 最少连接数（PEX 补齐下限）
//   - PEX 候选过滤条件
//   - 引导阶段的错峰延迟
type ConnManagerConfig struct {
	// MinConnections 最少连接数
	// 默认值: 5
	MinConnections int `json:"min_connections"`

	// AgeMin 接受的最小年龄（含）
	// 默认值: 18
	AgeMin int `json:"age_min"`

	// AgeMax 接受的最大年龄（含）
	// 默认值: 99
	AgeMax int `json:"age_max"`

	// DesiredSex 期望的性别位掩码，0 表示不限
	DesiredSex int `json:"desired_sex"`

	// DesiredSearching 期望的意图位掩码
	// 默认值: 全部位（不限）
	DesiredSearching int `json:"desired_searching"`

	// Geo 地理距离过滤（默认关闭）
	Geo GeoFilterConfig `json:"geo"`

	// ChannelSelection PEX 请求的信道选择方式
	// 默认值: closest
	ChannelSelection ChannelSelection `json:"channel_selection"`

	// SnapshotDelay 引导阶段记录已连接资料的延迟
	// 默认值: 2s
	SnapshotDelay Duration `json:"snapshot_delay"`

	// PEXDelay 引导阶段发送 PEX 请求的延迟
	// 默认值: 3s
	PEXDelay Duration `json:"pex_delay"`

	// ReconnectDelay 引导阶段通过 DHT 重连的延迟
	// 默认值: 3s
	ReconnectDelay Duration `json:"reconnect_delay"`
}

// GeoFilterConfig 地理距离过滤配置
type GeoFilterConfig struct {
	// Enabled 是否启用
	Enabled bool `json:"enabled"`

	// MaxDistanceKm 最大大圆距离（公里）
	MaxDistanceKm float64 `json:"max_distance_km"`
}

// DefaultConnManagerConfig 返回默认连接管理配置
func DefaultConnManagerConfig() ConnManagerConfig {
	return ConnManagerConfig{
		MinConnections:   5,
		AgeMin:           18,
		AgeMax:           99,
		DesiredSex:       0,
		DesiredSearching: ^0,
		Geo: GeoFilterConfig{
			Enabled:       false,
			MaxDistanceKm: 50,
		},
		ChannelSelection: SelectClosest,
		SnapshotDelay:    Duration(2 * time.Second),
		PEXDelay:         Duration(3 * time.Second),
		ReconnectDelay:   Duration(3 * time.Second),
	}
}

// Validate 验证连接管理配置
func (c ConnManagerConfig) Validate() error {
	if c.MinConnections < 0 {
		return fmt.Errorf("min_connections must not be negative: %w", ErrInvalidConfig)
	}
	if c.AgeMin > c.AgeMax {
		return fmt.Errorf("age_min (%d) > age_max (%d): %w", c.AgeMin, c.AgeMax, ErrInvalidConfig)
	}
	if c.Geo.Enabled && c.Geo.MaxDistanceKm <= 0 {
		return fmt.Errorf("geo.max_distance_km must be positive: %w", ErrInvalidConfig)
	}
	if c.SnapshotDelay < 0 || c.PEXDelay < 0 || c.ReconnectDelay < 0 {
		return fmt.Errorf("delays must not be negative: %w", ErrInvalidConfig)
	}
	switch c.ChannelSelection {
	case SelectClosest, SelectRandom:
	default:
		return fmt.Errorf("unknown channel selection %q: %w", c.ChannelSelection, ErrInvalidConfig)
	}
	return nil
}
