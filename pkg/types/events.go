package types

import "encoding/json"

// ============================================================================
//                              覆盖网络事件
// ============================================================================
//
// 事件以值类型发布到事件总线，订阅时传入指针类型：
//
//	sub, _ := bus.Subscribe(new(types.EvtChatMessage))
//	evt := (<-sub.Out()).(types.EvtChatMessage)

// EvtReady 节点通过存活探测，已可用于路由
type EvtReady struct {
	Node NodeID
}

// EvtChatMessage 本节点是接收者的聊天消息
type EvtChatMessage struct {
	From    NodeID
	Message *MessageDTO
}

// EvtSent 即将（或已经）向某个节点发送消息
type EvtSent struct {
	MessageID string
	Peer      NodeID
	Recipient NodeID
}

// EvtForward 消息已中继给某个节点
type EvtForward struct {
	MessageID string
	Peer      NodeID
	Recipient NodeID
}

// EvtDelivered 缓存的消息已投递给接收者
type EvtDelivered struct {
	MessageID string
	Recipient NodeID
}

// EvtWarning 畸形或无法解码的输入被丢弃
type EvtWarning struct {
	Origin NodeID
	Reason string
}

// EvtClose DHT 已关闭
type EvtClose struct{}

// EvtNodeProcessesMessage 本节点正在处理一条入站消息（投递或中继）
type EvtNodeProcessesMessage struct {
	MessageID string
	Origin    NodeID
	Sender    NodeID
	Recipient NodeID
}

// EvtSignaling 发给本节点的信令载荷
type EvtSignaling struct {
	From    NodeID
	Payload json.RawMessage
}
