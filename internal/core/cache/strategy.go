// Package cache 实现离线接收者的存储转发缓存策略
//
// 当直接发送和转发都无法确认送达时，消息被缓存在本地，
// 之后周期性地重试投递，直到成功、过期（TTL）或因容量被淘汰。
//
// 准入规则：
//   - 同一 ID 不会被缓存两次
//   - 接收者是路由表成员时无条件缓存
//   - 否则 DistanceBased 要求 XORDistance(self, recipient) <= threshold，
//     DistanceBasedProbabilistic 再附加一次固定概率的伯努利试验
package cache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/cache")

// ============================================================================
//                              接口定义
// ============================================================================

// Membership 路由表成员查询
type Membership interface {
	Has(id types.NodeID) bool
}

// FindAndPingFunc 查找接收者并探测存活
type FindAndPingFunc func(ctx context.Context, recipient types.NodeID) bool

// SendFunc 向接收者直接发送缓存的消息
type SendFunc func(ctx context.Context, q types.QueuedMessage) bool

// Strategy 缓存策略
type Strategy interface {
	// Name 策略名称
	Name() string

	// TryCache 按准入规则缓存消息，返回是否缓存
	TryCache(q types.QueuedMessage) bool

	// TryToDeliverCachedMessages 重试投递，返回投递成功的条目
	TryToDeliverCachedMessages(ctx context.Context, findAndPing FindAndPingFunc,
		send SendFunc, maxTTL time.Duration) []types.QueuedMessage

	// AddCachedMessages 合并外部条目（先写入者优先），返回新增数
	AddCachedMessages(entries []types.QueuedMessage) int

	// Sweep 只按 TTL 删除过期条目
	Sweep(maxTTL time.Duration) int

	// Has 检查 ID 是否已缓存
	Has(id string) bool

	// Snapshot 按从旧到新的顺序返回所有条目
	Snapshot() []types.QueuedMessage

	// Len 返回条目数
	Len() int

	// Clear 清空缓存
	Clear()
}

// ============================================================================
//                              选项
// ============================================================================

type options struct {
	clock clock.Clock
	rnd   func() float64
}

// Option 缓存策略选项
type Option func(*options)

// WithClock 替换时间源
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithRand 替换 [0,1) 随机数源
func WithRand(rnd func() float64) Option {
	return func(o *options) {
		o.rnd = rnd
	}
}

// New 按配置构造缓存策略
func New(cfg config.CacheConfig, self types.NodeID, members Membership, opts ...Option) (Strategy, error) {
	o := options{clock: clock.New(), rnd: rand.Float64}
	for _, opt := range opts {
		opt(&o)
	}

	st, err := newStore(cfg.Capacity, o.clock)
	if err != nil {
		return nil, fmt.Errorf("create cache store: %w", err)
	}
	db := &DistanceBased{store: st, self: self, members: members, threshold: cfg.Threshold}

	switch cfg.Policy {
	case config.CacheDistanceBased:
		return db, nil
	case config.CacheDistanceProbabilistic:
		return &DistanceBasedProbabilistic{DistanceBased: db, probability: cfg.Probability, rnd: o.rnd}, nil
	default:
		return nil, fmt.Errorf("%w: cache policy %q", config.ErrInvalidConfig, cfg.Policy)
	}
}

// ============================================================================
//                              DistanceBased
// ============================================================================

// DistanceBased 按距离阈值准入
type DistanceBased struct {
	*store
	self      types.NodeID
	members   Membership
	threshold types.Distance
}

// Name 实现 Strategy
func (s *DistanceBased) Name() string {
	return "distance"
}

// withinThreshold 未知接收者的距离检查
func (s *DistanceBased) withinThreshold(recipient types.NodeID) bool {
	return types.XORDistance(s.self, recipient).Cmp(s.threshold) <= 0
}

// TryCache 实现 Strategy
func (s *DistanceBased) TryCache(q types.QueuedMessage) bool {
	if q.ID == "" {
		return false
	}
	if !s.members.Has(q.Recipient) && !s.withinThreshold(q.Recipient) {
		logger.Debug("接收者超出缓存距离", "id", q.ID, "recipient", q.Recipient.ShortString())
		return false
	}
	return s.insert(q)
}

// ============================================================================
//                              DistanceBasedProbabilistic
// ============================================================================

// DistanceBasedProbabilistic 距离阈值加伯努利准入
type DistanceBasedProbabilistic struct {
	*DistanceBased
	probability float64
	rnd         func() float64
}

// Name 实现 Strategy
func (s *DistanceBasedProbabilistic) Name() string {
	return "distance-probabilistic"
}

// TryCache 实现 Strategy
func (s *DistanceBasedProbabilistic) TryCache(q types.QueuedMessage) bool {
	if q.ID == "" {
		return false
	}
	if !s.members.Has(q.Recipient) {
		if !s.withinThreshold(q.Recipient) {
			return false
		}
		if s.rnd() >= s.probability {
			logger.Debug("未通过概率准入", "id", q.ID)
			return false
		}
	}
	return s.insert(q)
}
