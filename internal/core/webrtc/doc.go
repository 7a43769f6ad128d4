// Package webrtc 用 WebRTC 数据通道承载覆盖网络连接
//
// 每个会话是一条 PeerConnection，带两条有序数据通道：
//
//   - dht：承载 rpc.Transport 的信封
//   - pex：承载 connmgr 的 PEX 消息
//
// Connector 实现 connmgr.Connector：发起方创建通道并发送 offer，
// 应答方在收到 offer 后回复 answer，ICE 候选以 trickle 方式交换。
// 信令载荷经 interfaces.Signaler 送出，入站信令由 HandleSignal 处理。
package webrtc
