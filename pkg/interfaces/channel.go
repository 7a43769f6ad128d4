package interfaces

import (
	"context"
	"encoding/json"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// Channel 一个已打开的、有序的双向消息信道
//
// 信道的建立和生命周期由外部（WebRTC 数据通道）负责；
// 入站数据由信道提供者推送给 rpc.Transport.Receive。
type Channel interface {
	// Send 发送一帧数据
	Send(data []byte) error

	// IsOpen 信道当前是否可写
	IsOpen() bool

	// Close 关闭信道
	Close() error
}

// Blocklist 只读的屏蔽节点集合
type Blocklist interface {
	IsBlocked(id types.NodeID) bool
}

// BlocklistFunc 函数适配器
type BlocklistFunc func(id types.NodeID) bool

// IsBlocked 实现 Blocklist
func (f BlocklistFunc) IsBlocked(id types.NodeID) bool {
	return f(id)
}

// Signaler 把 WebRTC 信令载荷送达目标节点
type Signaler interface {
	Signal(ctx context.Context, to types.NodeID, payload json.RawMessage) error
}

// SnapshotStore 按本地节点 ID 持久化路由表和消息缓存
type SnapshotStore interface {
	LoadRoutingTable(self types.NodeID) ([]types.Node, error)
	SaveRoutingTable(self types.NodeID, nodes []types.Node) error
	LoadCache(self types.NodeID) ([]types.QueuedMessage, error)
	SaveCache(self types.NodeID, entries []types.QueuedMessage) error
}
