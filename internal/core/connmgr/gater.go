package connmgr

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Gater 屏蔽节点集合
//
// 同时用作传输层的 Blocklist（被屏蔽节点的 ping 不回复）
// 和连接管理器的拨号拦截。
type Gater struct {
	mu      sync.RWMutex
	blocked map[types.NodeID]struct{}

	// 统计
	interceptedDials int64
}

var _ interfaces.Blocklist = (*Gater)(nil)

// NewGater 创建屏蔽集合
func NewGater() *Gater {
	return &Gater{
		blocked: make(map[types.NodeID]struct{}),
	}
}

// BlockPeer 屏蔽节点
func (g *Gater) BlockPeer(peer types.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blocked[peer] = struct{}{}
}

// UnblockPeer 解除屏蔽
func (g *Gater) UnblockPeer(peer types.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.blocked, peer)
}

// IsBlocked 检查节点是否被屏蔽
func (g *Gater) IsBlocked(peer types.NodeID) bool {
	if g == nil {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	_, blocked := g.blocked[peer]
	return blocked
}

// InterceptPeerDial 发起连接前检查，返回 false 表示拒绝
func (g *Gater) InterceptPeerDial(peer types.NodeID) bool {
	if g.IsBlocked(peer) {
		atomic.AddInt64(&g.interceptedDials, 1)
		return false
	}
	return true
}

// BlockedPeers 返回所有被屏蔽的节点（按 ID 排序）
func (g *Gater) BlockedPeers() []types.NodeID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	peers := make([]types.NodeID, 0, len(g.blocked))
	for peer := range g.blocked {
		peers = append(peers, peer)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].String() < peers[j].String()
	})
	return peers
}

// Clear 清空屏蔽集合
func (g *Gater) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.blocked = make(map[types.NodeID]struct{})
}

// GaterStats 屏蔽统计
type GaterStats struct {
	BlockedPeers     int
	InterceptedDials int64
}

// Stats 返回统计信息
func (g *Gater) Stats() GaterStats {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return GaterStats{
		BlockedPeers:     len(g.blocked),
		InterceptedDials: atomic.LoadInt64(&g.interceptedDials),
	}
}
