// Package signaling 传递 WebRTC 信令载荷
//
// 信令有三条路径：
//
//   - Client：信令服务器的 WebSocket 客户端，只用于首次接触
//   - DHTSignaler：信令信封经覆盖网络按 XOR 距离中继
//   - ChannelSignaler：经某个已连接节点（PEX 公告者）的信道转交
//
// 三者都实现 interfaces.Signaler，收到的载荷统一以 types.EvtSignaling
// 发布到事件总线。Hub 是配套的信令服务器实现。
package signaling
