package webrtc

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/dep2p/go-meshchat/config"
)

// 数据通道标签
const (
	LabelDHT = "dht"
	LabelPEX = "pex"
)

// Config 连接器配置
type Config struct {
	// ICEServers STUN/TURN 服务器地址
	ICEServers []string

	// ConnectTimeout 会话在此时间内未打开两条通道则关闭
	// 默认值: 30 秒
	ConnectTimeout time.Duration

	// IncludeLoopback 收集回环地址候选（本机测试用）
	IncludeLoopback bool
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return ConfigFromUnified(nil)
}

// ConfigFromUnified 从统一配置创建连接器配置
func ConfigFromUnified(cfg *config.Config) Config {
	wc := config.DefaultWebRTCConfig()
	if cfg != nil {
		wc = cfg.WebRTC
	}
	return Config{
		ICEServers:     append([]string(nil), wc.ICEServers...),
		ConnectTimeout: 30 * time.Second,
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect timeout must be positive", ErrInvalidConfig)
	}
	for _, s := range c.ICEServers {
		if s == "" {
			return fmt.Errorf("%w: empty ice server", ErrInvalidConfig)
		}
	}
	return nil
}

// rtcConfiguration 转换为 pion 配置
func (c Config) rtcConfiguration() webrtc.Configuration {
	var servers []webrtc.ICEServer
	if len(c.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: c.ICEServers}}
	}
	return webrtc.Configuration{ICEServers: servers}
}

// api 按配置创建 pion API
func (c Config) api() *webrtc.API {
	var se webrtc.SettingEngine
	if c.IncludeLoopback {
		se.SetIncludeLoopbackCandidate(true)
	}
	return webrtc.NewAPI(webrtc.WithSettingEngine(se))
}
