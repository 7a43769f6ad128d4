package connmgr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// PEX 消息类型
const (
	PEXRequest       = "request"
	PEXAdvertisement = "advertisement"
)

// PEXMessage PEX 信道上的消息
type PEXMessage struct {
	Type             string          `json:"type"`
	MaxNumberOfPeers int             `json:"maxNumberOfPeers,omitempty"`
	Peers            []types.PeerDTO `json:"peers,omitempty"`
}

// ============================================================================
//                              引导
// ============================================================================

// Bootstrap 执行一次性引导，重复调用直接返回
//
// 三个任务并发执行，各自等待配置的延迟：
// 记录资料快照、发送 PEX 请求、通过 DHT 重连路由表节点。
func (m *Manager) Bootstrap(ctx context.Context) error {
	if !m.bootstrapped.CompareAndSwap(false, true) {
		logger.Debug("引导已执行，跳过")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.sleep(gctx, m.cfg.SnapshotDelay); err != nil {
			return err
		}
		m.snapshotProfiles()
		return nil
	})
	g.Go(func() error {
		if err := m.sleep(gctx, m.cfg.PEXDelay); err != nil {
			return err
		}
		m.RequestPeers(gctx)
		return nil
	})
	g.Go(func() error {
		if err := m.sleep(gctx, m.cfg.ReconnectDelay); err != nil {
			return err
		}
		m.Reconnect(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("引导完成", "connected", m.Count())
	return nil
}

// Bootstrapped 检查引导是否已执行
func (m *Manager) Bootstrapped() bool {
	return m.bootstrapped.Load()
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := m.clock.Timer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestPeers 向选中的 PEX 信道请求 MinConnections 个节点
func (m *Manager) RequestPeers(_ context.Context) bool {
	id, ch, ok := m.SelectPEXChannel()
	if !ok {
		logger.Debug("没有可用的 PEX 信道")
		return false
	}
	data, err := json.Marshal(PEXMessage{Type: PEXRequest, MaxNumberOfPeers: m.cfg.MinConnections})
	if err != nil {
		return false
	}
	if err := ch.Send(data); err != nil {
		logger.Debug("发送 PEX 请求失败", "peer", id.ShortString(), "error", err)
		return false
	}
	logger.Debug("已发送 PEX 请求", "peer", id.ShortString(), "max", m.cfg.MinConnections)
	return true
}

// Reconnect 通过 DHT 中继信令重连最多 K 个路由表节点，返回发起数
func (m *Manager) Reconnect(ctx context.Context) int {
	if m.router == nil {
		return 0
	}
	nodes := m.router.Closest(m.self.PeerID, m.cfg.K)
	peers := make([]types.PeerDTO, 0, len(nodes))
	for _, n := range nodes {
		if m.IsConnected(n.ID) {
			continue
		}
		peers = append(peers, types.PeerDTO{PeerID: n.ID})
	}
	n := m.connectAll(ctx, peers, nil, true)
	logger.Debug("重连路由表节点", "candidates", len(peers), "initiated", n)
	return n
}

// ============================================================================
//                              PEX 处理
// ============================================================================

// HandlePEXMessage 处理来自 from 的 PEX 信道消息
func (m *Manager) HandlePEXMessage(ctx context.Context, from types.NodeID, data []byte) error {
	var msg PEXMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPEX, err)
	}

	switch msg.Type {
	case PEXRequest:
		m.answerRequest(from, msg.MaxNumberOfPeers)
		return nil
	case PEXAdvertisement:
		var via interfaces.Signaler
		if m.signalerFor != nil {
			via = m.signalerFor(from)
		}
		m.HandlePEXAdvertisement(ctx, msg.Peers, via)
		return nil
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidPEX, msg.Type)
	}
}

// answerRequest 用已连接节点的资料回答请求
func (m *Manager) answerRequest(from types.NodeID, max int) {
	m.mu.RLock()
	p := m.peers[from]
	m.mu.RUnlock()
	if p == nil || p.PEX == nil || !p.PEX.IsOpen() {
		logger.Debug("请求方没有打开的 PEX 信道", "peer", from.ShortString())
		return
	}

	peers := make([]types.PeerDTO, 0)
	for _, profile := range m.Connected() {
		if profile.PeerID == from {
			continue
		}
		peers = append(peers, profile)
	}
	if max > 0 && len(peers) > max {
		peers = peers[:max]
	}

	data, err := json.Marshal(PEXMessage{Type: PEXAdvertisement, Peers: peers})
	if err != nil {
		return
	}
	if err := p.PEX.Send(data); err != nil {
		logger.Debug("发送 PEX 公告失败", "peer", from.ShortString(), "error", err)
		return
	}
	logger.Debug("已回答 PEX 请求", "peer", from.ShortString(), "peers", len(peers))
}

// HandlePEXAdvertisement 处理节点公告，返回发起的连接数
//
// 去掉本节点、已连接、连接中和被屏蔽的节点后按 FilterPeer 过滤，
// 向通过的节点发起连接。仍不足 MinConnections 时，
// 从被过滤掉的节点中补齐差额。
func (m *Manager) HandlePEXAdvertisement(ctx context.Context, peers []types.PeerDTO, via interfaces.Signaler) int {
	seen := make(map[types.NodeID]struct{}, len(peers))
	var admitted, rejected []types.PeerDTO

	for _, p := range peers {
		id := p.PeerID
		if id.IsEmpty() || id == m.self.PeerID {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if m.IsConnected(id) || m.isPending(id) || m.gater.IsBlocked(id) {
			continue
		}
		if m.FilterPeer(p) {
			admitted = append(admitted, p)
		} else {
			rejected = append(rejected, p)
		}
	}

	initiated := m.connectAll(ctx, admitted, via, false)

	shortfall := m.cfg.MinConnections - m.Count() - initiated
	if shortfall > 0 && len(rejected) > 0 {
		if shortfall < len(rejected) {
			rejected = rejected[:shortfall]
		}
		logger.Debug("连接数不足，放宽过滤", "shortfall", shortfall, "extra", len(rejected))
		initiated += m.connectAll(ctx, rejected, via, false)
	}

	logger.Debug("处理 PEX 公告",
		"received", len(peers),
		"admitted", len(admitted),
		"initiated", initiated)
	return initiated
}
