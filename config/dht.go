package config

import (
	"fmt"
	"time"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// ============================================================================
//                              DHT
// ============================================================================

// DHTConfig 覆盖网络配置
type DHTConfig struct {
	// K 桶大小，同时是转发候选数
	// 默认值: 20
	K int `json:"k"`

	// PingTimeout 存活探测超时
	// 默认值: 10s
	PingTimeout Duration `json:"ping_timeout"`

	// MaxTTL 缓存消息与转发记录的最长保留时间
	// 默认值: 48h
	MaxTTL Duration `json:"max_ttl"`

	// SweepInterval 缓存清扫间隔
	// 默认值: 5m
	SweepInterval Duration `json:"sweep_interval"`

	// DeliveredCapacity 本地投递去重集合容量
	// 默认值: 4096
	DeliveredCapacity int `json:"delivered_capacity"`
}

// DefaultDHTConfig 返回默认 DHT 配置
func DefaultDHTConfig() DHTConfig {
	return DHTConfig{
		K:                 20,
		PingTimeout:       Duration(10 * time.Second),
		MaxTTL:            Duration(48 * time.Hour),
		SweepInterval:     Duration(5 * time.Minute),
		DeliveredCapacity: 4096,
	}
}

// Validate 验证 DHT 配置
func (c DHTConfig) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("k must be positive: %w", ErrInvalidConfig)
	}
	if c.PingTimeout <= 0 || c.MaxTTL <= 0 || c.SweepInterval <= 0 {
		return fmt.Errorf("durations must be positive: %w", ErrInvalidConfig)
	}
	if c.DeliveredCapacity <= 0 {
		return fmt.Errorf("delivered_capacity must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// ============================================================================
//                              转发
// ============================================================================

// ForwardConfig 转发策略配置
type ForwardConfig struct {
	// Policy 转发策略
	// 默认值: all-closer
	Policy ForwardPolicy `json:"policy"`

	// Threshold 概率转发的距离阈值 T
	// 默认值: 0x80 后跟 19 个 0x00（2^159）
	Threshold types.Distance `json:"threshold"`

	// SeenCapacity 已转发 ID 集合容量
	// 默认值: 65536
	SeenCapacity int `json:"seen_capacity"`
}

// DefaultForwardConfig 返回默认转发配置
func DefaultForwardConfig() ForwardConfig {
	var threshold types.Distance
	threshold[0] = 0x80
	return ForwardConfig{
		Policy:       ForwardToAllCloser,
		Threshold:    threshold,
		SeenCapacity: 65536,
	}
}

// Validate 验证转发配置
func (c ForwardConfig) Validate() error {
	if _, err := ParseForwardPolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.Policy == ForwardProbabilistic && c.Threshold.IsZero() {
		return fmt.Errorf("probabilistic threshold must be non-zero: %w", ErrInvalidConfig)
	}
	if c.SeenCapacity <= 0 {
		return fmt.Errorf("seen_capacity must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// ============================================================================
//                              缓存
// ============================================================================

// CacheConfig 缓存策略配置
type CacheConfig struct {
	// Policy 缓存策略
	// 默认值: distance
	Policy CachePolicy `json:"policy"`

	// Threshold 未知接收者的缓存距离上限
	// 默认值: MaxDistance（总是缓存）
	Threshold types.Distance `json:"threshold"`

	// Probability 概率缓存的准入概率
	// 默认值: 0.5
	Probability float64 `json:"probability"`

	// Capacity 缓存容量，溢出时淘汰最旧的条目
	// 默认值: 1024
	Capacity int `json:"capacity"`
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Policy:      CacheDistanceBased,
		Threshold:   types.MaxDistance,
		Probability: 0.5,
		Capacity:    1024,
	}
}

// Validate 验证缓存配置
func (c CacheConfig) Validate() error {
	if _, err := ParseCachePolicy(string(c.Policy)); err != nil {
		return err
	}
	if c.Probability < 0 || c.Probability > 1 {
		return fmt.Errorf("probability must be in [0,1]: %w", ErrInvalidConfig)
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("capacity must be positive: %w", ErrInvalidConfig)
	}
	return nil
}
