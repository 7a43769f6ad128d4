// Package metrics 提供覆盖网络的监控指标
//
// 两部分：
//   - Metrics: prometheus 计数器和仪表，注册在私有 Registry 上
//   - BandwidthCounter: 按信封类型和节点统计流量与速率
//
// # 快速开始
//
//	m := metrics.New("meshchat")
//	m.MessageSent()
//	m.SetRoutingTableSize(12)
//
//	bw := metrics.NewBandwidthCounter(m)
//	bw.LogSent(512, types.EnvelopeMessage, peer)
//	stats := bw.Totals()
//
// 所有 *Metrics 方法在接收者为 nil 时是空操作，组件可以在关闭指标时传 nil。
package metrics
