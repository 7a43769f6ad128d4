package signaling

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// ============================================================================
//                              覆盖网络信令
// ============================================================================

// Relay 经覆盖网络中继信令（*dht.DHT）
type Relay interface {
	SendSignaling(ctx context.Context, recipient types.NodeID, payload json.RawMessage) bool
}

// DHTSignaler 把信令信封交给覆盖网络中继
type DHTSignaler struct {
	relay Relay
}

// NewDHTSignaler 创建覆盖网络信令
func NewDHTSignaler(r Relay) *DHTSignaler {
	return &DHTSignaler{relay: r}
}

// Signal 实现 interfaces.Signaler
func (s *DHTSignaler) Signal(ctx context.Context, to types.NodeID, payload json.RawMessage) error {
	if to.IsEmpty() {
		return ErrInvalidRecipient
	}
	if !s.relay.SendSignaling(ctx, to, payload) {
		return fmt.Errorf("%w: no overlay route to %s", ErrUndeliverable, to.ShortString())
	}
	return nil
}

// ============================================================================
//                              经指定节点的信令
// ============================================================================

// ChannelSender 经指定节点的信道发送信令信封（*rpc.Transport）
type ChannelSender interface {
	Self() types.NodeID
	SendSignaling(peer, sender, recipient types.NodeID, payload json.RawMessage) bool
}

// ChannelSignaler 把信令交给 via 节点转交
//
// via 通常是 PEX 公告者，它与被公告的节点已有连接。
type ChannelSignaler struct {
	sender ChannelSender
	via    types.NodeID
}

// NewChannelSignaler 创建经 via 转交的信令
func NewChannelSignaler(sender ChannelSender, via types.NodeID) *ChannelSignaler {
	return &ChannelSignaler{sender: sender, via: via}
}

// Via 返回转交节点
func (s *ChannelSignaler) Via() types.NodeID {
	return s.via
}

// Signal 实现 interfaces.Signaler
func (s *ChannelSignaler) Signal(_ context.Context, to types.NodeID, payload json.RawMessage) error {
	if to.IsEmpty() {
		return ErrInvalidRecipient
	}
	if !s.sender.SendSignaling(s.via, s.sender.Self(), to, payload) {
		return fmt.Errorf("%w: via %s", ErrUndeliverable, s.via.ShortString())
	}
	return nil
}

// ChannelSignalerFor 返回按转交节点构造信令的函数
func ChannelSignalerFor(sender ChannelSender) func(types.NodeID) interfaces.Signaler {
	return func(via types.NodeID) interfaces.Signaler {
		return NewChannelSignaler(sender, via)
	}
}

// ============================================================================
//                              Chain
// ============================================================================

// Chain 依次尝试多条信令路径，第一条成功即返回
type Chain []interfaces.Signaler

// Signal 实现 interfaces.Signaler
func (c Chain) Signal(ctx context.Context, to types.NodeID, payload json.RawMessage) error {
	var errs error
	for _, s := range c {
		if s == nil {
			continue
		}
		err := s.Signal(ctx, to, payload)
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	if errs == nil {
		return fmt.Errorf("%w: no signaling path", ErrUndeliverable)
	}
	return errs
}
