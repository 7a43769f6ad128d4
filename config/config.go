// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。
//
// 使用示例：
//
//	// 创建默认配置
//	cfg := config.NewConfig()
//	cfg.Forward.Policy = config.ForwardProbabilistic
//
//	// 从文件加载
//	cfg, err := config.LoadFile("meshchat.json")
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config 是 meshchat 节点的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 节点身份与 PEX 资料
//   - DHT: 路由表、存活探测、缓存 TTL 与清扫
//   - Forward: 转发策略
//   - Cache: 缓存策略
//   - ConnMgr: 连接管理与 PEX
//   - Storage: 快照持久化
//   - Signaling: 信令服务器
//   - WebRTC: 数据通道
//   - Log: 日志
//   - Metrics: 指标
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// DHT 覆盖网络配置
	DHT DHTConfig `json:"dht"`

	// Forward 转发策略配置
	Forward ForwardConfig `json:"forward"`

	// Cache 缓存策略配置
	Cache CacheConfig `json:"cache"`

	// ConnMgr 连接管理配置
	ConnMgr ConnManagerConfig `json:"conn_mgr"`

	// Storage 存储配置
	Storage StorageConfig `json:"storage"`

	// Signaling 信令服务器配置
	Signaling SignalingConfig `json:"signaling"`

	// WebRTC WebRTC 配置
	WebRTC WebRTCConfig `json:"webrtc"`

	// Log 日志配置
	Log LogConfig `json:"log"`

	// Metrics 指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:  DefaultIdentityConfig(),
		DHT:       DefaultDHTConfig(),
		Forward:   DefaultForwardConfig(),
		Cache:     DefaultCacheConfig(),
		ConnMgr:   DefaultConnManagerConfig(),
		Storage:   DefaultStorageConfig(),
		Signaling: DefaultSignalingConfig(),
		WebRTC:    DefaultWebRTCConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// Validate 递归验证所有子配置
func (c *Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"identity", c.Identity.Validate},
		{"dht", c.DHT.Validate},
		{"forward", c.Forward.Validate},
		{"cache", c.Cache.Validate},
		{"conn_mgr", c.ConnMgr.Validate},
		{"storage", c.Storage.Validate},
		{"signaling", c.Signaling.Validate},
		{"webrtc", c.WebRTC.Validate},
		{"log", c.Log.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	if c.ConnMgr.MinConnections > c.DHT.K {
		return fmt.Errorf("conn_mgr: min_connections (%d) exceeds dht.k (%d): %w",
			c.ConnMgr.MinConnections, c.DHT.K, ErrInvalidConfig)
	}
	return nil
}

// ============================================================================
//                              JSON 加载与保存
// ============================================================================

// FromJSON 从 JSON 解析配置，缺省字段保持默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile 从文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return FromJSON(data)
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// SaveFile 把配置写入文件
func (c *Config) SaveFile(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
