package signaling

import "errors"

// 信令错误定义
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("signaling: invalid config")

	// ErrNotConnected 尚未连接信令服务器
	ErrNotConnected = errors.New("signaling: not connected")

	// ErrClosed 客户端已关闭
	ErrClosed = errors.New("signaling: client closed")

	// ErrUndeliverable 没有路径能把载荷送达目标
	ErrUndeliverable = errors.New("signaling: payload undeliverable")

	// ErrInvalidRecipient 目标节点 ID 为空
	ErrInvalidRecipient = errors.New("signaling: invalid recipient")
)
