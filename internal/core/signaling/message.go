package signaling

import (
	"encoding/json"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// 服务器协议消息类型
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeSignal     = "signal"
	TypeError      = "error"
)

// Message 客户端与信令服务器之间的 JSON 消息
//
// register 只带 From；signal 带 From、To 和 Payload；
// error 带 Error 说明。
type Message struct {
	Type    string          `json:"type"`
	From    types.NodeID    `json:"from"`
	To      types.NodeID    `json:"to"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}
