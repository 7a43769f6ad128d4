// Package routing 实现 Kademlia 风格的路由表
//
// 路由表按 XOR 距离的数量级分为 160 个 K 桶，桶索引为
// XORDistance(self, id) 最高置位的位置。每个桶最多 k 个节点，
// 满桶时先进先出淘汰最旧节点（不做存活检查）。
package routing

import (
	"sort"
	"sync"

	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/routing")

// ============================================================================
//                              常量定义
// ============================================================================

const (
	// BucketCount K 桶数量
	BucketCount = types.NodeIDBits

	// DefaultBucketSize 默认 K 桶大小
	DefaultBucketSize = 20
)

// BucketIndex 返回 remote 相对 local 应放入的桶索引
//
// local == remote 时返回 -1。
func BucketIndex(local, remote types.NodeID) int {
	return types.XORDistance(local, remote).BitLen() - 1
}

// ============================================================================
//                              K 桶
// ============================================================================

// kbucket 按插入顺序保存节点（最旧的在前）
type kbucket struct {
	nodes []types.Node
}

func (b *kbucket) indexOf(id types.NodeID) int {
	for i, n := range b.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

// ============================================================================
//                              路由表
// ============================================================================

// Table 路由表
//
// 并发安全。自身永远不是成员；任意 Add 序列之后每个桶不超过 k 个节点。
type Table struct {
	self    types.NodeID
	k       int
	buckets [BucketCount]kbucket
	mu      sync.RWMutex
}

// NewTable 创建路由表，k <= 0 时使用 DefaultBucketSize
func NewTable(self types.NodeID, k int) *Table {
	if k <= 0 {
		k = DefaultBucketSize
	}
	return &Table{self: self, k: k}
}

// Self 返回本地节点 ID
func (t *Table) Self() types.NodeID {
	return t.self
}

// K 返回桶容量
func (t *Table) K() int {
	return t.k
}

// Add 添加节点，返回是否发生了插入
//
// 自身或已存在的节点是空操作。满桶淘汰最旧的节点后追加。
func (t *Table) Add(node types.Node) bool {
	idx := BucketIndex(t.self, node.ID)
	if idx < 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := &t.buckets[idx]
	if b.indexOf(node.ID) >= 0 {
		return false
	}

	if len(b.nodes) >= t.k {
		evicted := b.nodes[0]
		b.nodes = append(b.nodes[:0], b.nodes[1:]...)
		logger.Debug("K 桶已满，淘汰最旧节点",
			"bucket", idx,
			"evicted", evicted.ID.ShortString(),
			"added", node.ID.ShortString())
	}
	b.nodes = append(b.nodes, node)
	return true
}

// Remove 移除节点
func (t *Table) Remove(id types.NodeID) bool {
	idx := BucketIndex(t.self, id)
	if idx < 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := &t.buckets[idx]
	i := b.indexOf(id)
	if i < 0 {
		return false
	}
	b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
	return true
}

// Find 查找节点
func (t *Table) Find(id types.NodeID) (types.Node, bool) {
	idx := BucketIndex(t.self, id)
	if idx < 0 {
		return types.Node{}, false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	b := &t.buckets[idx]
	if i := b.indexOf(id); i >= 0 {
		return b.nodes[i], true
	}
	return types.Node{}, false
}

// Has 检查节点是否是成员
func (t *Table) Has(id types.NodeID) bool {
	_, ok := t.Find(id)
	return ok
}

// Closest 返回距离 target 最近的 count 个节点，按距离升序
func (t *Table) Closest(target types.NodeID, count int) []types.Node {
	all := t.All()
	sort.Slice(all, func(i, j int) bool {
		return types.CompareDistance(all[i].ID, all[j].ID, target) < 0
	})
	if count >= 0 && len(all) > count {
		all = all[:count]
	}
	return all
}

// All 返回所有节点（按桶索引、桶内插入顺序）
func (t *Table) All() []types.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var all []types.Node
	for i := range t.buckets {
		all = append(all, t.buckets[i].nodes...)
	}
	return all
}

// Size 返回节点总数
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for i := range t.buckets {
		total += len(t.buckets[i].nodes)
	}
	return total
}

// BucketSize 返回指定桶的节点数
func (t *Table) BucketSize(idx int) int {
	if idx < 0 || idx >= BucketCount {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.buckets[idx].nodes)
}
