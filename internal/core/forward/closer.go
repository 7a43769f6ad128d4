package forward

import (
	"context"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// ForwardToAllCloser 转发给比本节点更接近接收者的所有候选节点
//
// Exhaustive 为 true 时不做“更近”判断，转发给全部候选。
type ForwardToAllCloser struct {
	base
	exhaustive bool
}

// NewForwardToAllCloser 创建策略
func NewForwardToAllCloser(deps Deps, exhaustive bool) *ForwardToAllCloser {
	return &ForwardToAllCloser{base: newBase(deps), exhaustive: exhaustive}
}

// Name 实现 Strategy
func (s *ForwardToAllCloser) Name() string {
	if s.exhaustive {
		return "exhaustive"
	}
	return "all-closer"
}

// Forward 实现 Strategy
func (s *ForwardToAllCloser) Forward(ctx context.Context, req Request) (Result, error) {
	return s.run(ctx, req, func(candidates []types.Node) []types.Node {
		if s.exhaustive {
			return candidates
		}
		own := types.XORDistance(s.Self, req.Recipient)
		closer := candidates[:0]
		for _, n := range candidates {
			if types.XORDistance(n.ID, req.Recipient).Less(own) {
				closer = append(closer, n)
			}
		}
		return closer
	})
}
