package rpc

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
)

// Config 传输层配置
type Config struct {
	// PingTimeout 等待 pong 的最长时间
	// 默认值: 10 秒
	PingTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		PingTimeout: 10 * time.Second,
	}
}

// ConfigFromUnified 从统一配置创建传输层配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	return Config{PingTimeout: cfg.DHT.PingTimeout.Duration()}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.PingTimeout <= 0 {
		return fmt.Errorf("%w: ping timeout must be positive", ErrInvalidConfig)
	}
	return nil
}

// ============================================================================
//                              选项
// ============================================================================

// Option 传输层选项
type Option func(*Transport)

// WithClock 替换时间源（测试使用 clock.NewMock）
func WithClock(c clock.Clock) Option {
	return func(t *Transport) {
		if c != nil {
			t.clock = c
		}
	}
}

// WithBlocklist 设置屏蔽列表，被屏蔽节点的 ping 不会得到响应
func WithBlocklist(b interfaces.Blocklist) Option {
	return func(t *Transport) {
		t.blocklist = b
	}
}

// WithReporter 设置流量统计
func WithReporter(r metrics.Reporter) Option {
	return func(t *Transport) {
		t.reporter = r
	}
}
