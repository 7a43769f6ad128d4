package types

import (
	"errors"
	"time"
)

// ============================================================================
//                              MessageDTO - 聊天消息载荷
// ============================================================================

// ErrInvalidMessage 消息缺少必填字段
var ErrInvalidMessage = errors.New("invalid message: missing id")

// MessageDTO 端到端加密的聊天消息
//
// 对路由核心不透明；加解密由 internal/chat 完成。
type MessageDTO struct {
	// ID 消息唯一标识，转发去重和缓存的键
	ID string `json:"id"`

	// Timestamp 毫秒时间戳
	Timestamp int64 `json:"timestamp"`

	// SenderID 发送者 NodeID（十六进制）
	SenderID string `json:"senderId"`

	// EncryptedMessage base64 密文
	EncryptedMessage string `json:"encryptedMessage"`

	// AuthTag base64 认证标签
	AuthTag string `json:"authTag"`
}

// Validate 检查消息是否可被路由
func (m *MessageDTO) Validate() error {
	if m == nil || m.ID == "" {
		return ErrInvalidMessage
	}
	return nil
}

// ============================================================================
//                              QueuedMessage - 缓存条目
// ============================================================================

// QueuedMessage 为离线接收者缓存的消息
type QueuedMessage struct {
	ID        string      `json:"id"`
	Sender    NodeID      `json:"sender"`
	Recipient NodeID      `json:"recipient"`
	Payload   *MessageDTO `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Expired 检查条目在 now 时刻是否已超过 maxTTL
func (q *QueuedMessage) Expired(now time.Time, maxTTL time.Duration) bool {
	return now.Sub(q.Timestamp) > maxTTL
}
