package dht

import (
	"context"

	"go.uber.org/multierr"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// ============================================================================
//                              缓存清扫
// ============================================================================

// sweepLoop 每个 SweepInterval 执行一次清扫
func (d *DHT) sweepLoop(ctx context.Context) {
	ticker := d.clock.Ticker(d.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep 先按 TTL 删除过期条目，再重试投递，返回投递成功数
func (d *DHT) Sweep(ctx context.Context) int {
	if d.IsClosed() {
		return 0
	}
	if n := d.cache.Sweep(d.cfg.MaxTTL); n > 0 {
		logger.Debug("清除过期缓存", "count", n)
		d.metrics.CacheExpired(n)
	}
	return d.deliverCached(ctx)
}

// deliverCached 重试投递缓存的消息
func (d *DHT) deliverCached(ctx context.Context) int {
	delivered := d.cache.TryToDeliverCachedMessages(ctx, d.findAndPing, d.sendCached, d.cfg.MaxTTL)
	for _, q := range delivered {
		d.events.Publish(types.EvtDelivered{MessageID: q.ID, Recipient: q.Recipient})
	}
	if len(delivered) > 0 {
		logger.Debug("缓存消息已投递", "count", len(delivered))
		d.metrics.MessageDelivered(len(delivered))
	}
	d.metrics.SetCachedMessages(d.cache.Len())
	return len(delivered)
}

// findAndPing 接收者在路由表中且响应 ping
func (d *DHT) findAndPing(ctx context.Context, recipient types.NodeID) bool {
	if !d.table.Has(recipient) {
		return false
	}
	ok := d.transport.Ping(ctx, recipient)
	d.metrics.Ping(ok)
	return ok
}

func (d *DHT) sendCached(_ context.Context, q types.QueuedMessage) bool {
	return d.transport.SendMessage(q.Recipient, q.Sender, q.Recipient, q.Payload)
}

// ============================================================================
//                              持久化
// ============================================================================

// LoadState 从存储恢复路由表与缓存
//
// 恢复的节点处于已知未验证状态，直到下一次 ping 成功。
func (d *DHT) LoadState() error {
	if d.store == nil {
		return nil
	}
	if d.IsClosed() {
		return ErrClosed
	}

	var err error
	nodes, lerr := d.store.LoadRoutingTable(d.self)
	if lerr != nil {
		err = multierr.Append(err, lerr)
	}
	added := 0
	for _, n := range nodes {
		if d.table.Add(n) {
			added++
		}
	}

	entries, lerr := d.store.LoadCache(d.self)
	if lerr != nil {
		err = multierr.Append(err, lerr)
	}
	merged := d.cache.AddCachedMessages(entries)

	d.metrics.SetRoutingTableSize(d.table.Size())
	d.metrics.SetCachedMessages(d.cache.Len())
	logger.Info("已恢复 DHT 状态", "nodes", added, "cached", merged)
	return err
}

// SaveState 把路由表与缓存写入存储
func (d *DHT) SaveState() error {
	if d.store == nil {
		return nil
	}
	return multierr.Combine(
		d.store.SaveRoutingTable(d.self, d.table.All()),
		d.store.SaveCache(d.self, d.cache.Snapshot()),
	)
}
