package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/lib/log"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var logger = log.Logger("core/signaling")

// ============================================================================
//                              Client
// ============================================================================

// Client 信令服务器客户端
//
// 连接后以本节点 ID 注册，发给本节点的 signal 消息作为
// types.EvtSignaling 发布。gorilla/websocket 只允许一个并发写者，
// 所有写操作都在 writeMu 下进行。
type Client struct {
	cfg    Config
	self   types.NodeID
	events interfaces.Publisher
	dialer *websocket.Dialer

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewClient 创建信令客户端，不发起连接
func NewClient(cfg Config, self types.NodeID, events interfaces.Publisher) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if events == nil {
		events = nopPublisher{}
	}
	return &Client{
		cfg:    cfg,
		self:   self,
		events: events,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// Connect 连接信令服务器并注册本节点
//
// 已连接时直接返回。注册应答必须在握手超时内到达。
func (c *Client) Connect(ctx context.Context) error {
	if !c.cfg.Enabled() {
		return fmt.Errorf("%w: url is empty", ErrInvalidConfig)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial signaling server: %w", err)
	}

	if err := c.register(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	if c.closed || c.conn != nil {
		c.mu.Unlock()
		conn.Close()
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.conn = conn
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)
	logger.Info("已连接信令服务器", "url", c.cfg.URL, "self", c.self.ShortString())
	return nil
}

// register 发送注册消息并等待应答
func (c *Client) register(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteJSON(Message{Type: TypeRegister, From: c.self}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	var resp Message
	if err := conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	if resp.Type != TypeRegistered {
		return fmt.Errorf("register: unexpected reply %q: %s", resp.Type, resp.Error)
	}
	return nil
}

// Connected 是否已连接
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Signal 经信令服务器把载荷发给 to，实现 interfaces.Signaler
func (c *Client) Signal(ctx context.Context, to types.NodeID, payload json.RawMessage) error {
	if to.IsEmpty() {
		return ErrInvalidRecipient
	}

	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(Message{Type: TypeSignal, From: c.self, To: to, Payload: payload}); err != nil {
		return fmt.Errorf("signal %s: %w", to.ShortString(), err)
	}
	return nil
}

// readLoop 读取服务器消息直到连接断开
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	defer c.dropConn(conn)

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("信令连接读取失败", "error", err)
			}
			return
		}

		switch msg.Type {
		case TypeSignal:
			if msg.From.IsEmpty() || len(msg.Payload) == 0 {
				logger.Debug("丢弃不完整的信令消息")
				continue
			}
			if !msg.To.IsEmpty() && msg.To != c.self {
				logger.Debug("丢弃发给其他节点的信令", "to", msg.To.ShortString())
				continue
			}
			c.events.Publish(types.EvtSignaling{From: msg.From, Payload: msg.Payload})
		case TypeError:
			logger.Debug("信令服务器返回错误", "error", msg.Error)
		default:
			logger.Debug("忽略未知信令消息", "type", msg.Type)
		}
	}
}

// dropConn 连接断开后清除引用
func (c *Client) dropConn(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}

// Close 关闭连接并等待读循环退出
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.wg.Wait()
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(interface{}) {}
