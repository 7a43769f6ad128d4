// Package forward 实现消息转发策略
//
// 当接收者不是本节点的直接邻居时，转发策略决定哪些已知节点负责中继。
// 两种策略共享同一约定：
//   - 没有 ID 的消息不会被转发
//   - 已在 SeenSet 中的 ID 不会被重新评估
//   - 决策开始时立即标记 ID，即使最终一个节点也没选中
//
// 没有跳数限制，环路避免完全依赖 SeenSet。
package forward

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/forward")

// ============================================================================
//                              依赖接口
// ============================================================================

// Sender 发送信封
type Sender interface {
	Send(peer types.NodeID, env *types.Envelope) error
}

// Router 路由表查询
type Router interface {
	Closest(target types.NodeID, count int) []types.Node
}

// Deps 策略依赖
type Deps struct {
	Self   types.NodeID
	K      int
	Router Router
	Sender Sender
	Seen   *SeenSet
	Events interfaces.Publisher
}

// ============================================================================
//                              请求与结果
// ============================================================================

// Request 一次转发请求
type Request struct {
	// Sender 消息的原始发送者
	Sender types.NodeID
	// Recipient 最终接收者
	Recipient types.NodeID
	// Message 消息载荷
	Message *types.MessageDTO
	// Marked 调用方已在 SeenSet 中标记该 ID，本次决策不再检查
	Marked bool
}

// Result 转发结果
type Result struct {
	// Skipped 没有做决策（缺少 ID 或已转发过）
	Skipped bool
	// Targets 发送成功的节点
	Targets []types.NodeID
}

// Strategy 转发策略
type Strategy interface {
	// Name 策略名称
	Name() string

	// Forward 执行一次转发决策
	//
	// 返回的 error 聚合了所有发送失败；此时 ID 已被标记。
	Forward(ctx context.Context, req Request) (Result, error)
}

// New 按配置构造策略
func New(cfg config.ForwardConfig, deps Deps) (Strategy, error) {
	switch cfg.Policy {
	case config.ForwardToAllCloser:
		return NewForwardToAllCloser(deps, false), nil
	case config.ForwardExhaustive:
		return NewForwardToAllCloser(deps, true), nil
	case config.ForwardProbabilistic:
		return NewProbabilistic(deps, cfg.Threshold, nil), nil
	default:
		return nil, fmt.Errorf("%w: forward policy %q", config.ErrInvalidConfig, cfg.Policy)
	}
}

// ============================================================================
//                              公共流程
// ============================================================================

type nopPublisher struct{}

func (nopPublisher) Publish(interface{}) {}

// base 两种策略共享的决策流程
type base struct {
	Deps
}

func newBase(deps Deps) base {
	if deps.Events == nil {
		deps.Events = nopPublisher{}
	}
	return base{Deps: deps}
}

// candidates 返回接收者的 k 个最近节点，去掉原始发送者和自身
func (b *base) candidates(req Request) []types.Node {
	closest := b.Router.Closest(req.Recipient, b.K)
	out := closest[:0]
	for _, n := range closest {
		if n.ID == req.Sender || n.ID == b.Self {
			continue
		}
		out = append(out, n)
	}
	return out
}

// run 检查并标记 ID，然后对 selectFn 选出的节点依次发送
func (b *base) run(ctx context.Context, req Request, selectFn func([]types.Node) []types.Node) (Result, error) {
	if err := req.Message.Validate(); err != nil {
		logger.Warn("丢弃没有 ID 的消息", "sender", req.Sender.ShortString())
		return Result{Skipped: true}, nil
	}
	id := req.Message.ID

	if !req.Marked && !b.Seen.MarkIfAbsent(id) {
		logger.Debug("消息已转发过", "id", id)
		return Result{Skipped: true}, nil
	}

	selected := selectFn(b.candidates(req))
	if len(selected) == 0 {
		logger.Debug("没有可转发的节点", "id", id, "recipient", req.Recipient.ShortString())
		return Result{}, nil
	}

	env := &types.Envelope{
		Type:      types.EnvelopeMessage,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Message:   req.Message,
	}

	var (
		res  Result
		errs error
	)
	for _, n := range selected {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		b.Events.Publish(types.EvtSent{MessageID: id, Peer: n.ID, Recipient: req.Recipient})
		if err := b.Sender.Send(n.ID, env); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("forward to %s: %w", n.ID.ShortString(), err))
			continue
		}
		b.Events.Publish(types.EvtForward{MessageID: id, Peer: n.ID, Recipient: req.Recipient})
		res.Targets = append(res.Targets, n.ID)
	}

	logger.Debug("转发完成",
		"id", id,
		"selected", len(selected),
		"delivered", len(res.Targets))
	return res, errs
}
