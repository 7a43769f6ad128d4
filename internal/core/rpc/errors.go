package rpc

import "errors"

// 传输层错误定义
var (
	// ErrClosed 传输层已关闭
	ErrClosed = errors.New("rpc: transport closed")

	// ErrNoChannel 没有到目标节点的可用信道
	ErrNoChannel = errors.New("rpc: no open channel to peer")

	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("rpc: invalid config")
)
