package signaling

import (
	"fmt"
	"time"

	"github.com/dep2p/go-meshchat/config"
)

// Config 信令客户端配置
type Config struct {
	// URL 信令服务器地址，为空则不连接
	URL string

	// HandshakeTimeout WebSocket 握手超时
	// 默认值: 10 秒
	HandshakeTimeout time.Duration

	// WriteTimeout 单次写超时
	// 默认值: 5 秒
	WriteTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建信令配置
func ConfigFromUnified(cfg *config.Config) Config {
	sc := config.DefaultSignalingConfig()
	if cfg != nil {
		sc = cfg.Signaling
	}
	return Config{
		URL:              sc.URL,
		HandshakeTimeout: sc.HandshakeTimeout.Duration(),
		WriteTimeout:     sc.WriteTimeout.Duration(),
	}
}

// Enabled 是否配置了信令服务器
func (c Config) Enabled() bool {
	return c.URL != ""
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	return nil
}
