package types

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
//                              Envelope - 线路信封
// ============================================================================

// EnvelopeType 信封类型
type EnvelopeType string

const (
	// EnvelopePing 存活探测请求（传输层内部）
	EnvelopePing EnvelopeType = "ping"
	// EnvelopePong 存活探测响应（传输层内部）
	EnvelopePong EnvelopeType = "pong"
	// EnvelopeMessage 聊天消息
	EnvelopeMessage EnvelopeType = "message"
	// EnvelopeSignaling 经覆盖网络中继的 WebRTC 信令
	EnvelopeSignaling EnvelopeType = "signaling"
)

// ErrUnknownEnvelope 未知信封类型
var ErrUnknownEnvelope = errors.New("unknown envelope type")

// Envelope 有序信道上传输的 JSON 信封
//
// Sender 始终是消息的原始发送者，而不是上一跳。
type Envelope struct {
	Type             EnvelopeType    `json:"type"`
	Sender           NodeID          `json:"sender"`
	Recipient        NodeID          `json:"recipient"`
	Message          *MessageDTO     `json:"message,omitempty"`
	SignalingMessage json.RawMessage `json:"signalingMessage,omitempty"`
	ID               string          `json:"id,omitempty"`
}

// IsApplication 检查信封是否跨越应用边界（message/signaling）
func (e *Envelope) IsApplication() bool {
	return e.Type == EnvelopeMessage || e.Type == EnvelopeSignaling
}

// Marshal 编码信封
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope 解码信封并检查类型
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Type {
	case EnvelopePing, EnvelopePong, EnvelopeMessage, EnvelopeSignaling:
		return &env, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEnvelope, env.Type)
	}
}
