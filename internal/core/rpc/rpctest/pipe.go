// Package rpctest 提供内存信道，用于在测试中连接多个传输层
package rpctest

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// ErrChannelClosed 信道已关闭
var ErrChannelClosed = errors.New("rpctest: channel closed")

// ErrSendFailed 人为注入的发送失败
var ErrSendFailed = errors.New("rpctest: send failed")

// Endpoint 可以挂接内存信道的一端
type Endpoint interface {
	Self() types.NodeID
	AddChannel(peer types.NodeID, ch interfaces.Channel) error
	Receive(origin types.NodeID, data []byte)
}

// ============================================================================
//                              Channel
// ============================================================================

// Channel 单向有序内存信道，发送的帧由独立 goroutine 依次投递
type Channel struct {
	deliver func([]byte)

	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	open      atomic.Bool

	// Drop 为 true 时 Send 成功但丢弃数据
	Drop atomic.Bool
	// Fail 为 true 时 Send 返回 ErrSendFailed
	Fail atomic.Bool

	sent atomic.Int64
}

// NewChannel 创建信道，deliver 在投递 goroutine 中调用
func NewChannel(deliver func([]byte)) *Channel {
	c := &Channel{
		deliver: deliver,
		queue:   make(chan []byte, 256),
		done:    make(chan struct{}),
	}
	c.open.Store(true)
	go c.loop()
	return c
}

func (c *Channel) loop() {
	for {
		select {
		case data := <-c.queue:
			c.deliver(data)
		case <-c.done:
			return
		}
	}
}

// Send 实现 interfaces.Channel
func (c *Channel) Send(data []byte) error {
	if !c.open.Load() {
		return ErrChannelClosed
	}
	if c.Fail.Load() {
		return ErrSendFailed
	}
	c.sent.Add(1)
	if c.Drop.Load() {
		return nil
	}
	buf := append([]byte(nil), data...)
	select {
	case c.queue <- buf:
		return nil
	case <-c.done:
		return ErrChannelClosed
	}
}

// IsOpen 实现 interfaces.Channel
func (c *Channel) IsOpen() bool {
	return c.open.Load()
}

// Close 实现 interfaces.Channel
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
	})
	return nil
}

// Sent 返回 Send 成功的次数
func (c *Channel) Sent() int64 {
	return c.sent.Load()
}

// Connect 用一对内存信道连接 a 和 b
//
// 返回 a→b 和 b→a 两个方向的信道。
func Connect(a, b Endpoint) (ab, ba *Channel, err error) {
	aID, bID := a.Self(), b.Self()
	ab = NewChannel(func(data []byte) { b.Receive(aID, data) })
	ba = NewChannel(func(data []byte) { a.Receive(bID, data) })

	if err = a.AddChannel(bID, ab); err != nil {
		ab.Close()
		ba.Close()
		return nil, nil, err
	}
	if err = b.AddChannel(aID, ba); err != nil {
		ab.Close()
		ba.Close()
		return nil, nil, err
	}
	return ab, ba, nil
}

// ============================================================================
//                              Recorder
// ============================================================================

// Recorder 记录所有发送帧的信道，不投递
type Recorder struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	Err    error
}

// Send 实现 interfaces.Channel
func (r *Recorder) Send(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrChannelClosed
	}
	if r.Err != nil {
		return r.Err
	}
	r.frames = append(r.frames, append([]byte(nil), data...))
	return nil
}

// IsOpen 实现 interfaces.Channel
func (r *Recorder) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed
}

// Close 实现 interfaces.Channel
func (r *Recorder) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Envelopes 解码已记录的帧
func (r *Recorder) Envelopes() []*types.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*types.Envelope, 0, len(r.frames))
	for _, f := range r.frames {
		if env, err := types.UnmarshalEnvelope(f); err == nil {
			out = append(out, env)
		}
	}
	return out
}
