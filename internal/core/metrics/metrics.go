package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 覆盖网络 prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	messagesSent      prometheus.Counter
	messagesForwarded prometheus.Counter
	messagesDelivered prometheus.Counter
	chatReceived      prometheus.Counter
	warnings          prometheus.Counter
	pings             *prometheus.CounterVec
	forwardSkipped    prometheus.Counter
	cacheAdmitted     prometheus.Counter
	cacheExpired      prometheus.Counter
	bytes             *prometheus.CounterVec
	routingTableSize  prometheus.Gauge
	cachedMessages    prometheus.Gauge
	connectedPeers    prometheus.Gauge
}

// New 创建指标并注册到新的私有 Registry
func New(namespace string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "messages_sent_total",
			Help: "Messages sent directly to their recipient.",
		}),
		messagesForwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "messages_forwarded_total",
			Help: "Messages relayed to a closer peer.",
		}),
		messagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "messages_delivered_total",
			Help: "Cached messages delivered to their recipient.",
		}),
		chatReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "chat_received_total",
			Help: "Chat messages addressed to this node.",
		}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dht", Name: "warnings_total",
			Help: "Malformed or undecodable inbound envelopes.",
		}),
		pings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "pings_total",
			Help: "Liveness probes by result.",
		}, []string{"result"}),
		forwardSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "forward", Name: "skipped_total",
			Help: "Forward requests skipped because the id was already seen.",
		}),
		cacheAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "admitted_total",
			Help: "Messages admitted to the store-and-forward cache.",
		}),
		cacheExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "expired_total",
			Help: "Cached messages dropped by TTL.",
		}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "rpc", Name: "bytes_total",
			Help: "Envelope bytes by direction and type.",
		}, []string{"direction", "type"}),
		routingTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "routing", Name: "table_size",
			Help: "Nodes in the routing table.",
		}),
		cachedMessages: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "messages",
			Help: "Messages currently cached.",
		}),
		connectedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connmgr", Name: "connected_peers",
			Help: "Peers with an open channel.",
		}),
	}

	m.registry.MustRegister(
		m.messagesSent,
		m.messagesForwarded,
		m.messagesDelivered,
		m.chatReceived,
		m.warnings,
		m.pings,
		m.forwardSkipped,
		m.cacheAdmitted,
		m.cacheExpired,
		m.bytes,
		m.routingTableSize,
		m.cachedMessages,
		m.connectedPeers,
	)
	return m
}

// Registry 返回私有 Registry，供 HTTP 导出使用
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ============================================================================
//                              记录方法（nil 安全）
// ============================================================================

// MessageSent 直接发送计数
func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

// MessageForwarded 中继计数
func (m *Metrics) MessageForwarded(n int) {
	if m != nil {
		m.messagesForwarded.Add(float64(n))
	}
}

// MessageDelivered 缓存投递计数
func (m *Metrics) MessageDelivered(n int) {
	if m != nil {
		m.messagesDelivered.Add(float64(n))
	}
}

// ChatReceived 本地接收计数
func (m *Metrics) ChatReceived() {
	if m != nil {
		m.chatReceived.Inc()
	}
}

// Warning 警告计数
func (m *Metrics) Warning() {
	if m != nil {
		m.warnings.Inc()
	}
}

// Ping 记录探测结果
func (m *Metrics) Ping(ok bool) {
	if m == nil {
		return
	}
	result := "timeout"
	if ok {
		result = "ok"
	}
	m.pings.WithLabelValues(result).Inc()
}

// ForwardSkipped 跳过转发计数
func (m *Metrics) ForwardSkipped() {
	if m != nil {
		m.forwardSkipped.Inc()
	}
}

// CacheAdmitted 缓存准入计数
func (m *Metrics) CacheAdmitted() {
	if m != nil {
		m.cacheAdmitted.Inc()
	}
}

// CacheExpired 缓存过期计数
func (m *Metrics) CacheExpired(n int) {
	if m != nil {
		m.cacheExpired.Add(float64(n))
	}
}

// Bytes 记录流量
func (m *Metrics) Bytes(direction, typ string, n int64) {
	if m != nil {
		m.bytes.WithLabelValues(direction, typ).Add(float64(n))
	}
}

// SetRoutingTableSize 更新路由表大小
func (m *Metrics) SetRoutingTableSize(n int) {
	if m != nil {
		m.routingTableSize.Set(float64(n))
	}
}

// SetCachedMessages 更新缓存条目数
func (m *Metrics) SetCachedMessages(n int) {
	if m != nil {
		m.cachedMessages.Set(float64(n))
	}
}

// SetConnectedPeers 更新已连接节点数
func (m *Metrics) SetConnectedPeers(n int) {
	if m != nil {
		m.connectedPeers.Set(float64(n))
	}
}
