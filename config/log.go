package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dep2p/go-meshchat/pkg/lib/log"
)

// LogConfig 日志配置
type LogConfig struct {
	// Level 级别，格式 "subsystem=level,...,default"
	// 默认值: "info"
	Level string `json:"level"`

	// Format 输出格式 text|json
	// 默认值: "text"
	Format string `json:"format"`
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "text",
	}
}

// Validate 验证日志配置
func (c LogConfig) Validate() error {
	for _, part := range strings.Split(c.Level, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, v, ok := strings.Cut(part, "="); ok {
			part = v
		}
		if _, ok := log.ParseLevel(part); !ok {
			return fmt.Errorf("unknown log level %q: %w", part, ErrInvalidConfig)
		}
	}
	switch strings.ToLower(c.Format) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format %q: %w", c.Format, ErrInvalidConfig)
	}
}

// Apply 安装日志 handler，环境变量 MESHCHAT_LOG_LEVEL 优先于配置
func (c LogConfig) Apply() {
	spec := c.Level
	if env := os.Getenv("MESHCHAT_LOG_LEVEL"); env != "" {
		spec = env
	}
	format := c.Format
	if env := os.Getenv("MESHCHAT_LOG_FORMAT"); env != "" {
		format = env
	}
	log.Setup(nil, log.ParseLevels(spec), log.ParseFormat(format))
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Enabled 是否收集指标
	Enabled bool `json:"enabled"`

	// Namespace 指标命名空间
	// 默认值: "meshchat"
	Namespace string `json:"namespace"`
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "meshchat",
	}
}
