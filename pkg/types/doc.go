// Package types 定义 meshchat 覆盖网络的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
//
// # 文件组织
//
//   - ids.go       - NodeID, Node
//   - distance.go  - XOR 距离及其比较
//   - envelope.go  - 线路信封（ping/pong/message/signaling）
//   - message.go   - MessageDTO, QueuedMessage
//   - peer.go      - PeerDTO（PEX 交换的节点描述）
//   - events.go    - 事件总线上发布的事件类型
package types
