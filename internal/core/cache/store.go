package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// store 有界的消息缓存，按插入顺序淘汰
//
// simplelru 只在 Get 时调整顺序：插入不刷新旧条目，
// 投递失败时用 Get 把条目移到队尾。
type store struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, types.QueuedMessage]
	clock clock.Clock

	delivering atomic.Bool
	// rerun 投递进行中又收到请求，当前轮结束后再跑一轮
	rerun atomic.Bool
}

func newStore(capacity int, clk clock.Clock) (*store, error) {
	lru, err := simplelru.NewLRU[string, types.QueuedMessage](capacity, func(id string, q types.QueuedMessage) {
		logger.Debug("缓存已满，淘汰最旧消息", "id", id, "recipient", q.Recipient.ShortString())
	})
	if err != nil {
		return nil, err
	}
	return &store{lru: lru, clock: clk}, nil
}

// insert 插入新条目，重复 ID 返回 false
func (s *store) insert(q types.QueuedMessage) bool {
	if q.Timestamp.IsZero() {
		q.Timestamp = s.clock.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lru.Contains(q.ID) {
		return false
	}
	s.lru.Add(q.ID, q)
	return true
}

// Has 检查 ID 是否已缓存
func (s *store) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Contains(id)
}

// Len 返回缓存条目数
func (s *store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

// Clear 清空缓存
func (s *store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Purge()
}

// Snapshot 按从旧到新的顺序返回所有条目
func (s *store) Snapshot() []types.QueuedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.lru.Keys()
	out := make([]types.QueuedMessage, 0, len(keys))
	for _, k := range keys {
		if q, ok := s.lru.Peek(k); ok {
			out = append(out, q)
		}
	}
	return out
}

// AddCachedMessages 合并外部条目，已存在的 ID 保留原值
func (s *store) AddCachedMessages(entries []types.QueuedMessage) int {
	added := 0
	for _, q := range entries {
		if q.ID == "" {
			continue
		}
		if s.insert(q) {
			added++
		}
	}
	return added
}

// Sweep 删除超过 maxTTL 的条目，返回删除数
func (s *store) Sweep(maxTTL time.Duration) int {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, k := range s.lru.Keys() {
		q, ok := s.lru.Peek(k)
		if ok && q.Expired(now, maxTTL) {
			s.lru.Remove(k)
			removed++
		}
	}
	if removed > 0 {
		logger.Debug("清除过期缓存", "removed", removed)
	}
	return removed
}

// TryToDeliverCachedMessages 尝试投递所有缓存条目
//
// 过期条目直接删除；接收者可达且发送成功的条目删除并返回；
// 其余条目移到队尾。同一时刻只有一轮投递在执行，
// 进行中收到的请求由正在执行的调用方补跑一轮。
func (s *store) TryToDeliverCachedMessages(ctx context.Context, findAndPing FindAndPingFunc,
	send SendFunc, maxTTL time.Duration) []types.QueuedMessage {
	if !s.delivering.CompareAndSwap(false, true) {
		s.rerun.Store(true)
		logger.Debug("已有投递在进行，稍后补跑")
		return nil
	}

	var delivered []types.QueuedMessage
	for {
		for {
			s.rerun.Store(false)
			delivered = append(delivered, s.deliverOnce(ctx, findAndPing, send, maxTTL)...)
			if !s.rerun.Load() || ctx.Err() != nil {
				break
			}
		}
		s.delivering.Store(false)

		// 释放前后之间到达的请求
		if ctx.Err() != nil || !s.rerun.Load() || !s.delivering.CompareAndSwap(false, true) {
			return delivered
		}
	}
}

// deliverOnce 按当前快照投递一轮
func (s *store) deliverOnce(ctx context.Context, findAndPing FindAndPingFunc,
	send SendFunc, maxTTL time.Duration) []types.QueuedMessage {
	var delivered []types.QueuedMessage
	for _, q := range s.Snapshot() {
		if ctx.Err() != nil {
			break
		}

		if q.Expired(s.clock.Now(), maxTTL) {
			s.remove(q.ID)
			continue
		}

		if !findAndPing(ctx, q.Recipient) {
			logger.Debug("接收者不可达，保留缓存", "id", q.ID, "recipient", q.Recipient.ShortString())
			s.touch(q.ID)
			continue
		}
		if !send(ctx, q) {
			logger.Debug("投递发送失败，保留缓存", "id", q.ID, "recipient", q.Recipient.ShortString())
			s.touch(q.ID)
			continue
		}

		s.remove(q.ID)
		delivered = append(delivered, q)
	}
	return delivered
}

func (s *store) remove(id string) {
	s.mu.Lock()
	s.lru.Remove(id)
	s.mu.Unlock()
}

// touch 把条目移到队尾
func (s *store) touch(id string) {
	s.mu.Lock()
	s.lru.Get(id)
	s.mu.Unlock()
}
