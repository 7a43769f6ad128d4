package webrtc

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// 信令载荷类型
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal 信令载荷
//
// offer 携带发起方资料；Via 非空表示 offer 经该节点转交，
// 应答沿同一路径返回。
type Signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Profile   *types.PeerDTO           `json:"profile,omitempty"`
	Via       *types.NodeID            `json:"via,omitempty"`
}

// ParseSignal 解析并检查信令载荷
func ParseSignal(data []byte) (*Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return nil, fmt.Errorf("%w: %s without sdp", ErrInvalidSignal, s.Type)
		}
	case SignalCandidate:
		if s.Candidate == nil {
			return nil, fmt.Errorf("%w: candidate missing", ErrInvalidSignal)
		}
	default:
		return nil, fmt.Errorf("%w: type %q", ErrInvalidSignal, s.Type)
	}
	return &s, nil
}

// sessionDescription 转换为 pion 会话描述
func (s *Signal) sessionDescription() webrtc.SessionDescription {
	typ := webrtc.SDPTypeOffer
	if s.Type == SignalAnswer {
		typ = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: typ, SDP: s.SDP}
}
