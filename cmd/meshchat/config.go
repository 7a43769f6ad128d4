package main

import (
	"os"

	"github.com/dep2p/go-meshchat/config"
)

// ============================================================================
//                              环境变量（CLI 专用）
// ============================================================================

const (
	envPrefix       = "MESHCHAT_"
	envNodeID       = "NODE_ID"
	envPublicKey    = "PUBLIC_KEY"
	envSignalingURL = "SIGNALING_URL"
	envDataDir      = "DATA_DIR"
	envSecret       = "SECRET"
)

// envValues 不属于 config.Config 的环境变量
type envValues struct {
	secret string
}

// applyEnvOverrides 应用环境变量覆盖配置
//
// 环境变量优先级高于配置文件，但低于命令行参数。
// 支持的环境变量（均使用 MESHCHAT_ 前缀）：
//   - MESHCHAT_NODE_ID: 节点 ID
//   - MESHCHAT_PUBLIC_KEY: 公钥，未指定节点 ID 时由其派生
//   - MESHCHAT_SIGNALING_URL: 信令服务器地址
//   - MESHCHAT_DATA_DIR: 快照数据目录
//   - MESHCHAT_SECRET: 共享秘密
func applyEnvOverrides(cfg *config.Config) envValues {
	if v := os.Getenv(envPrefix + envNodeID); v != "" {
		cfg.Identity.NodeID = v
	}
	if v := os.Getenv(envPrefix + envPublicKey); v != "" {
		cfg.Identity.PublicKey = v
	}
	if v := os.Getenv(envPrefix + envSignalingURL); v != "" {
		cfg.Signaling.URL = v
	}
	if v := os.Getenv(envPrefix + envDataDir); v != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.DataDir = v
	}
	return envValues{secret: os.Getenv(envPrefix + envSecret)}
}
