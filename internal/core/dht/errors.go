package dht

import "errors"

// DHT 错误定义
var (
	// ErrClosed DHT 已关闭
	ErrClosed = errors.New("dht: closed")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("dht: invalid config")

	// ErrInvalidRecipient 接收者为空
	ErrInvalidRecipient = errors.New("dht: invalid recipient")
)
