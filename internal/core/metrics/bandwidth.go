package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// Stats 带宽统计快照
type Stats struct {
	TotalIn  int64   // 总入站字节
	TotalOut int64   // 总出站字节
	RateIn   float64 // 入站速率（字节/秒）
	RateOut  float64 // 出站速率（字节/秒）
}

// Reporter 传输层流量记录接口
type Reporter interface {
	// LogSent 记录发往 peer 的一帧
	LogSent(size int64, typ types.EnvelopeType, peer types.NodeID)

	// LogRecv 记录来自 peer 的一帧
	LogRecv(size int64, typ types.EnvelopeType, peer types.NodeID)
}

// 确保 BandwidthCounter 实现 Reporter 接口
var _ Reporter = (*BandwidthCounter)(nil)

// meterPair 一个维度的入站/出站统计
type meterPair struct {
	in, out         atomic.Int64
	inRate, outRate *RateMeter
}

func newMeterPair(clk clock.Clock) *meterPair {
	return &meterPair{inRate: NewRateMeter(clk), outRate: NewRateMeter(clk)}
}

func (p *meterPair) stats() Stats {
	return Stats{
		TotalIn:  p.in.Load(),
		TotalOut: p.out.Load(),
		RateIn:   p.inRate.Rate(),
		RateOut:  p.outRate.Rate(),
	}
}

// ============================================================================
//                              BandwidthCounter
// ============================================================================

// BandwidthCounter 按信封类型和节点统计流量
type BandwidthCounter struct {
	clock   clock.Clock
	metrics *Metrics

	total *meterPair

	mu     sync.RWMutex
	byType map[types.EnvelopeType]*meterPair
	byPeer map[types.NodeID]*meterPair
}

// NewBandwidthCounter 创建计数器，m 非 nil 时同步写入 prometheus
func NewBandwidthCounter(m *Metrics) *BandwidthCounter {
	return NewBandwidthCounterWithClock(m, clock.New())
}

// NewBandwidthCounterWithClock 使用指定时间源创建计数器
func NewBandwidthCounterWithClock(m *Metrics, clk clock.Clock) *BandwidthCounter {
	return &BandwidthCounter{
		clock:   clk,
		metrics: m,
		total:   newMeterPair(clk),
		byType:  make(map[types.EnvelopeType]*meterPair),
		byPeer:  make(map[types.NodeID]*meterPair),
	}
}

func (b *BandwidthCounter) pairs(typ types.EnvelopeType, peer types.NodeID) (*meterPair, *meterPair) {
	b.mu.RLock()
	tp, pp := b.byType[typ], b.byPeer[peer]
	b.mu.RUnlock()
	if tp != nil && pp != nil {
		return tp, pp
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tp = b.byType[typ]; tp == nil {
		tp = newMeterPair(b.clock)
		b.byType[typ] = tp
	}
	if pp = b.byPeer[peer]; pp == nil {
		pp = newMeterPair(b.clock)
		b.byPeer[peer] = pp
	}
	return tp, pp
}

// LogSent 实现 Reporter
func (b *BandwidthCounter) LogSent(size int64, typ types.EnvelopeType, peer types.NodeID) {
	tp, pp := b.pairs(typ, peer)
	for _, p := range []*meterPair{b.total, tp, pp} {
		p.out.Add(size)
		p.outRate.Add(size)
	}
	b.metrics.Bytes("out", string(typ), size)
}

// LogRecv 实现 Reporter
func (b *BandwidthCounter) LogRecv(size int64, typ types.EnvelopeType, peer types.NodeID) {
	tp, pp := b.pairs(typ, peer)
	for _, p := range []*meterPair{b.total, tp, pp} {
		p.in.Add(size)
		p.inRate.Add(size)
	}
	b.metrics.Bytes("in", string(typ), size)
}

// Totals 返回总带宽统计
func (b *BandwidthCounter) Totals() Stats {
	return b.total.stats()
}

// ForType 返回某类信封的统计
func (b *BandwidthCounter) ForType(typ types.EnvelopeType) Stats {
	b.mu.RLock()
	p := b.byType[typ]
	b.mu.RUnlock()
	if p == nil {
		return Stats{}
	}
	return p.stats()
}

// ForPeer 返回某个节点的统计
func (b *BandwidthCounter) ForPeer(peer types.NodeID) Stats {
	b.mu.RLock()
	p := b.byPeer[peer]
	b.mu.RUnlock()
	if p == nil {
		return Stats{}
	}
	return p.stats()
}

// TrimIdle 删除 since 之后没有流量的节点统计
func (b *BandwidthCounter) TrimIdle(since time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	trimmed := 0
	for id, p := range b.byPeer {
		if p.inRate.LastUpdate().Before(since) && p.outRate.LastUpdate().Before(since) {
			delete(b.byPeer, id)
			trimmed++
		}
	}
	return trimmed
}
