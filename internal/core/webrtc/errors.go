package webrtc

import "errors"

// WebRTC 错误定义
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("webrtc: invalid config")

	// ErrClosed 连接器已关闭
	ErrClosed = errors.New("webrtc: connector closed")

	// ErrNoSignaler 没有可用的信令路径
	ErrNoSignaler = errors.New("webrtc: no signaler")

	// ErrInvalidSignal 信令载荷无法解析
	ErrInvalidSignal = errors.New("webrtc: invalid signaling payload")

	// ErrUnknownSession 信令对应的会话不存在
	ErrUnknownSession = errors.New("webrtc: unknown session")

	// ErrChannelNotOpen 数据通道未打开
	ErrChannelNotOpen = errors.New("webrtc: data channel not open")
)
