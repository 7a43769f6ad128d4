package connmgr

import (
	"context"
	"errors"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/internal/core/metrics"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/connmgr")

// maxParallelDials 同时发起的连接数上限
const maxParallelDials = 8

// ============================================================================
//                              协作接口
// ============================================================================

//go:generate mockgen -destination=mock_connector_test.go -package=connmgr . Connector

// Connector 建立到节点的会话
//
// via 是转发信令的通道（PEX 公告者）；useDHT 为 true 时信令经覆盖网络中继，
// 此时 via 可以为 nil。
type Connector interface {
	InitiateConnection(ctx context.Context, peer types.PeerDTO, via interfaces.Signaler, useDHT bool) error
}

// Session 已建立的会话，管理器只读取连接状态
type Session interface {
	Connected() bool
}

// Router 路由表查询
type Router interface {
	Closest(target types.NodeID, count int) []types.Node
}

// Peer 已登记的节点
type Peer struct {
	Profile types.PeerDTO
	PEX     interfaces.Channel
	Session Session
	AddedAt time.Time
}

// ============================================================================
//                              选项
// ============================================================================

// Option 管理器选项
type Option func(*Manager)

// WithRouter 设置重连使用的路由表
func WithRouter(r Router) Option {
	return func(m *Manager) {
		m.router = r
	}
}

// WithGater 设置屏蔽集合
func WithGater(g *Gater) Option {
	return func(m *Manager) {
		if g != nil {
			m.gater = g
		}
	}
}

// WithSignalerFor 设置经指定节点转发信令的构造函数
func WithSignalerFor(fn func(via types.NodeID) interfaces.Signaler) Option {
	return func(m *Manager) {
		m.signalerFor = fn
	}
}

// WithClock 替换时间源
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithRand 替换随机选择函数，返回 [0, n) 内的整数
func WithRand(fn func(n int) int) Option {
	return func(m *Manager) {
		if fn != nil {
			m.rnd = fn
		}
	}
}

// WithMetrics 设置指标
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// ============================================================================
//                              Manager
// ============================================================================

// Manager 连接管理器
type Manager struct {
	cfg         Config
	self        types.PeerDTO
	connector   Connector
	router      Router
	gater       *Gater
	signalerFor func(types.NodeID) interfaces.Signaler
	metrics     *metrics.Metrics
	clock       clock.Clock
	rnd         func(n int) int

	mu       sync.RWMutex
	peers    map[types.NodeID]*Peer
	pending  map[types.NodeID]struct{}
	snapshot []types.PeerDTO
	closed   bool

	bootstrapped atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建连接管理器
func New(cfg Config, self types.PeerDTO, connector Connector, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if connector == nil {
		return nil, errors.New("connmgr: connector is required")
	}

	m := &Manager{
		cfg:       cfg,
		self:      self,
		connector: connector,
		gater:     NewGater(),
		clock:     clock.New(),
		rnd:       rand.IntN,
		peers:     make(map[types.NodeID]*Peer),
		pending:   make(map[types.NodeID]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Gater 返回屏蔽集合
func (m *Manager) Gater() *Gater {
	return m.gater
}

// Start 在后台执行一次引导
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := m.Bootstrap(m.ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("引导失败", "error", err)
		}
	}()
}

// Close 取消引导并停止接受新节点
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

// ============================================================================
//                              节点登记
// ============================================================================

// AddPeer 登记已连接的节点
//
// 同一节点再次登记会替换原有记录。
func (m *Manager) AddPeer(profile types.PeerDTO, pex interfaces.Channel, session Session) error {
	id := profile.PeerID
	if id.IsEmpty() {
		return ErrInvalidPeer
	}
	if id == m.self.PeerID {
		return ErrSelfPeer
	}
	if m.gater.IsBlocked(id) {
		return ErrPeerBlocked
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	m.peers[id] = &Peer{
		Profile: profile,
		PEX:     pex,
		Session: session,
		AddedAt: m.clock.Now(),
	}
	delete(m.pending, id)
	count := len(m.peers)
	m.mu.Unlock()

	m.metrics.SetConnectedPeers(count)
	logger.Debug("登记节点", "peer", id.ShortString(), "connected", count)
	return nil
}

// RemovePeer 注销节点
func (m *Manager) RemovePeer(id types.NodeID) bool {
	m.mu.Lock()
	_, ok := m.peers[id]
	delete(m.peers, id)
	count := len(m.peers)
	m.mu.Unlock()

	if ok {
		m.metrics.SetConnectedPeers(count)
		logger.Debug("注销节点", "peer", id.ShortString(), "connected", count)
	}
	return ok
}

// IsConnected 检查节点是否已登记
func (m *Manager) IsConnected(id types.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.peers[id]
	return ok
}

// Count 返回已登记节点数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// Connected 返回所有已登记节点的资料（按 ID 排序）
func (m *Manager) Connected() []types.PeerDTO {
	m.mu.RLock()
	out := make([]types.PeerDTO, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p.Profile)
	}
	m.mu.RUnlock()

	sortProfiles(out)
	return out
}

// ProfileSnapshot 返回引导时记录的已连接节点资料
func (m *Manager) ProfileSnapshot() []types.PeerDTO {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.PeerDTO(nil), m.snapshot...)
}

// snapshotProfiles 记录会话处于连接状态的节点资料
func (m *Manager) snapshotProfiles() {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := make([]types.PeerDTO, 0, len(m.peers))
	for _, p := range m.peers {
		if p.Session != nil && !p.Session.Connected() {
			continue
		}
		snap = append(snap, p.Profile)
	}
	sortProfiles(snap)
	m.snapshot = snap
	logger.Debug("记录已连接节点资料", "count", len(snap))
}

func sortProfiles(ps []types.PeerDTO) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].PeerID.String() < ps[j].PeerID.String()
	})
}

// ============================================================================
//                              信道选择
// ============================================================================

// SelectPEXChannel 选择用于 PEX 请求的节点
//
// closest 选择与本节点 XOR 距离最小的节点，random 均匀随机选择。
// 只考虑 PEX 信道打开的节点。
func (m *Manager) SelectPEXChannel() (types.NodeID, interfaces.Channel, bool) {
	m.mu.RLock()
	ids := make([]types.NodeID, 0, len(m.peers))
	chans := make(map[types.NodeID]interfaces.Channel, len(m.peers))
	for id, p := range m.peers {
		if p.PEX != nil && p.PEX.IsOpen() {
			ids = append(ids, id)
			chans[id] = p.PEX
		}
	}
	m.mu.RUnlock()

	if len(ids) == 0 {
		return types.NodeID{}, nil, false
	}

	self := m.self.PeerID
	sort.Slice(ids, func(i, j int) bool {
		return types.CompareDistance(ids[i], ids[j], self) < 0
	})

	id := ids[0]
	if m.cfg.ChannelSelection == config.SelectRandom {
		id = ids[m.rnd(len(ids))]
	}
	return id, chans[id], true
}

// ============================================================================
//                              发起连接
// ============================================================================

// connect 通过 Connector 发起一次连接
//
// 已连接、连接中或被屏蔽的节点直接跳过。
func (m *Manager) connect(ctx context.Context, p types.PeerDTO, via interfaces.Signaler, useDHT bool) bool {
	id := p.PeerID
	if id.IsEmpty() || id == m.self.PeerID || !m.gater.InterceptPeerDial(id) {
		return false
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.peers[id]; ok {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.pending[id]; ok {
		m.mu.Unlock()
		return false
	}
	m.pending[id] = struct{}{}
	m.mu.Unlock()

	err := m.connector.InitiateConnection(ctx, p, via, useDHT)

	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()

	if err != nil {
		logger.Debug("发起连接失败", "peer", id.ShortString(), "dht", useDHT, "error", err)
		return false
	}
	logger.Debug("已发起连接", "peer", id.ShortString(), "dht", useDHT)
	return true
}

// connectAll 并发发起连接，返回成功数
func (m *Manager) connectAll(ctx context.Context, peers []types.PeerDTO, via interfaces.Signaler, useDHT bool) int {
	var (
		g  errgroup.Group
		ok atomic.Int64
	)
	g.SetLimit(maxParallelDials)
	for _, p := range peers {
		g.Go(func() error {
			if m.connect(ctx, p, via, useDHT) {
				ok.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(ok.Load())
}

func (m *Manager) isPending(id types.NodeID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pending[id]
	return ok
}
