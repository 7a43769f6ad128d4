package config

import (
	"fmt"
	"net/url"
	"time"
)

// SignalingConfig 信令服务器配置
//
// 信令服务器只用于首次接触；之后的信令经覆盖网络中继。
type SignalingConfig struct {
	// URL 信令服务器 WebSocket 地址，为空则不连接
	URL string `json:"url,omitempty"`

	// HandshakeTimeout 握手超时
	// 默认值: 10s
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// WriteTimeout 单次写超时
	// 默认值: 5s
	WriteTimeout Duration `json:"write_timeout"`
}

// DefaultSignalingConfig 返回默认信令配置
func DefaultSignalingConfig() SignalingConfig {
	return SignalingConfig{
		HandshakeTimeout: Duration(10 * time.Second),
		WriteTimeout:     Duration(5 * time.Second),
	}
}

// Validate 验证信令配置
func (c SignalingConfig) Validate() error {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url scheme must be ws or wss: %w", ErrInvalidConfig)
		}
	}
	if c.HandshakeTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive: %w", ErrInvalidConfig)
	}
	return nil
}

// WebRTCConfig WebRTC 配置
type WebRTCConfig struct {
	// ICEServers STUN/TURN 服务器地址
	ICEServers []string `json:"ice_servers"`
}

// DefaultWebRTCConfig 返回默认 WebRTC 配置
func DefaultWebRTCConfig() WebRTCConfig {
	return WebRTCConfig{
		ICEServers: []string{"stun:stun.l.google.com:19302"},
	}
}

// Validate 验证 WebRTC 配置
func (c WebRTCConfig) Validate() error {
	for _, s := range c.ICEServers {
		if s == "" {
			return fmt.Errorf("empty ice server: %w", ErrInvalidConfig)
		}
	}
	return nil
}
