package connmgr

import "errors"

// 连接管理器错误定义
var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("connmgr: invalid config")

	// ErrSelfPeer 不能登记本节点
	ErrSelfPeer = errors.New("connmgr: cannot add self")

	// ErrInvalidPeer 节点 ID 为空
	ErrInvalidPeer = errors.New("connmgr: invalid peer id")

	// ErrPeerBlocked 节点被屏蔽
	ErrPeerBlocked = errors.New("connmgr: peer blocked")

	// ErrInvalidPEX PEX 消息无法解析
	ErrInvalidPEX = errors.New("connmgr: invalid pex message")

	// ErrManagerClosed 管理器已关闭
	ErrManagerClosed = errors.New("connmgr: manager closed")
)
