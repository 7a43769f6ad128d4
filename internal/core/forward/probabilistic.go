package forward

import (
	"context"
	"math/big"
	"math/rand/v2"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// Probabilistic 按距离衰减的 gossip 转发
//
// 中继节点以 p = T/(d+T) 的概率独立地选中每个候选，
// d 是本节点到接收者的 XOR 距离。原始发送者总是 p = 1。
type Probabilistic struct {
	base
	threshold types.Distance
	rnd       func() float64
}

// NewProbabilistic 创建策略，rnd 为 nil 时使用 math/rand/v2
func NewProbabilistic(deps Deps, threshold types.Distance, rnd func() float64) *Probabilistic {
	if rnd == nil {
		rnd = rand.Float64
	}
	return &Probabilistic{base: newBase(deps), threshold: threshold, rnd: rnd}
}

// Name 实现 Strategy
func (s *Probabilistic) Name() string {
	return "probabilistic"
}

// Probability 返回本节点对 req 的转发概率
func (s *Probabilistic) Probability(req Request) float64 {
	if req.Sender == s.Self {
		return 1
	}
	return ForwardProbability(types.XORDistance(s.Self, req.Recipient), s.threshold)
}

// Forward 实现 Strategy
func (s *Probabilistic) Forward(ctx context.Context, req Request) (Result, error) {
	p := s.Probability(req)
	return s.run(ctx, req, func(candidates []types.Node) []types.Node {
		if p >= 1 {
			return candidates
		}
		picked := candidates[:0]
		for _, n := range candidates {
			if s.rnd() < p {
				picked = append(picked, n)
			}
		}
		return picked
	})
}

// ForwardProbability 计算 T/(d+T)
//
// d 和 T 都为零时返回 1。
func ForwardProbability(d, threshold types.Distance) float64 {
	t := threshold.BigInt()
	denom := new(big.Int).Add(d.BigInt(), t)
	if denom.Sign() == 0 {
		return 1
	}
	p, _ := new(big.Float).Quo(new(big.Float).SetInt(t), new(big.Float).SetInt(denom)).Float64()
	return p
}
