package forward

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// SeenSet 已转发消息 ID 集合
//
// 容量和 TTL 都有上限；检查并插入在同一临界区内完成，
// 保证每个节点对每条消息至多做一次转发决策。
type SeenSet struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, struct{}]
}

// NewSeenSet 创建集合，ttl <= 0 表示只按容量淘汰
func NewSeenSet(capacity int, ttl time.Duration) *SeenSet {
	return &SeenSet{
		lru: expirable.NewLRU[string, struct{}](capacity, nil, ttl),
	}
}

// MarkIfAbsent 若 id 未出现过则标记并返回 true
func (s *SeenSet) MarkIfAbsent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lru.Contains(id) {
		return false
	}
	s.lru.Add(id, struct{}{})
	return true
}

// Has 检查 id 是否已标记
func (s *SeenSet) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Contains(id)
}

// Len 返回当前条目数
func (s *SeenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Purge 清空集合
func (s *SeenSet) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
}
