package config

import (
	"fmt"
	"path/filepath"
)

// StorageConfig 存储配置
//
// 路由表与消息缓存快照保存在 BadgerDB 中，按本节点 ID 分区。
//
//	${DataDir}/
//	└── meshchat.db/        # BadgerDB 数据库
type StorageConfig struct {
	// Enabled 是否持久化快照
	// 默认值: true
	Enabled bool `json:"enabled"`

	// DataDir 数据目录路径
	// 默认值: "./data"
	DataDir string `json:"data_dir"`

	// InMemory 使用内存模式（测试用）
	InMemory bool `json:"in_memory,omitempty"`

	// SyncWrites 每次写入都同步到磁盘
	SyncWrites bool `json:"sync_writes,omitempty"`
}

// DefaultStorageConfig 返回默认的存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Enabled: true,
		DataDir: "./data",
	}
}

// Validate 验证存储配置的有效性
func (c StorageConfig) Validate() error {
	if c.Enabled && !c.InMemory && c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty: %w", ErrInvalidConfig)
	}
	return nil
}

// DBPath 返回数据库目录
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "meshchat.db")
}
