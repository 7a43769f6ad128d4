package webrtc

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Session 到一个节点的 WebRTC 会话
type Session struct {
	peer      types.NodeID
	profile   types.PeerDTO
	initiator bool
	pc        *webrtc.PeerConnection
	signaler  interfaces.Signaler

	mu            sync.Mutex
	dht           *DataChannel
	pex           *DataChannel
	remoteSet     bool
	pendingRemote []webrtc.ICECandidateInit
	ready         bool
	pendingLocal  []webrtc.ICECandidateInit
	opened        bool
	closed        bool
	timer         *clock.Timer
}

// Peer 返回对端节点 ID
func (s *Session) Peer() types.NodeID {
	return s.peer
}

// Profile 返回对端资料
//
// 应答方的资料取自 offer；发起方的资料取自 PEX 公告。
func (s *Session) Profile() types.PeerDTO {
	return s.profile
}

// Initiator 本节点是否是发起方
func (s *Session) Initiator() bool {
	return s.initiator
}

// DHT 返回 dht 通道，未打开时为 nil
func (s *Session) DHT() *DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dht
}

// PEX 返回 pex 通道，未打开时为 nil
func (s *Session) PEX() *DataChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pex
}

// Connected 实现 connmgr.Session
func (s *Session) Connected() bool {
	return s.pc.ConnectionState() == webrtc.PeerConnectionStateConnected
}

// Opened 两条数据通道是否都已打开
func (s *Session) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// setChannel 记录打开的通道，两条都打开时返回 true（只返回一次）
func (s *Session) setChannel(ch *DataChannel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ch.Label() {
	case LabelDHT:
		s.dht = ch
	case LabelPEX:
		s.pex = ch
	}
	if s.opened || s.closed || s.dht == nil || s.pex == nil {
		return false
	}
	s.opened = true
	if s.timer != nil {
		s.timer.Stop()
	}
	return true
}

// ============================================================================
//                              ICE 候选
// ============================================================================

// addRemoteCandidate 远端描述未设置时暂存候选
func (s *Session) addRemoteCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	if !s.remoteSet {
		s.pendingRemote = append(s.pendingRemote, c)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.pc.AddICECandidate(c)
}

// setRemoteDescription 设置远端描述并应用暂存的候选
func (s *Session) setRemoteDescription(sd webrtc.SessionDescription) error {
	if err := s.pc.SetRemoteDescription(sd); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pendingRemote
	s.pendingRemote = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			logger.Debug("应用暂存候选失败", "peer", s.peer.ShortString(), "error", err)
		}
	}
	return nil
}

// queueLocalCandidate 本地描述发出前暂存候选，返回是否可以立即发送
func (s *Session) queueLocalCandidate(c webrtc.ICECandidateInit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !s.ready {
		s.pendingLocal = append(s.pendingLocal, c)
		return false
	}
	return true
}

// markReady 本地描述已发出，发送暂存的候选
func (s *Session) markReady(ctx context.Context) {
	s.mu.Lock()
	s.ready = true
	pending := s.pendingLocal
	s.pendingLocal = nil
	s.mu.Unlock()

	for _, c := range pending {
		s.sendCandidate(ctx, c)
	}
}

func (s *Session) sendCandidate(ctx context.Context, c webrtc.ICECandidateInit) {
	if err := s.signal(ctx, Signal{Type: SignalCandidate, Candidate: &c}); err != nil {
		logger.Debug("发送候选失败", "peer", s.peer.ShortString(), "error", err)
	}
}

func (s *Session) signal(ctx context.Context, sig Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return s.signaler.Signal(ctx, s.peer, data)
}

// markClosed 标记关闭，返回关闭前是否已打开；重复调用返回 false, false
func (s *Session) markClosed() (first, wasOpened bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	return true, s.opened
}
