package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// hubWriteTimeout 服务器单次写超时
const hubWriteTimeout = 5 * time.Second

// Hub 信令服务器
//
// 每个连接先以 register 声明节点 ID，之后的 signal 消息按 To 转交。
// 转交时 From 由服务器填写为注册的 ID。
type Hub struct {
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	peers map[types.NodeID]*hubPeer
}

type hubPeer struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (p *hubPeer) write(msg Message) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
	return p.conn.WriteJSON(msg)
}

// NewHub 创建信令服务器
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		peers: make(map[types.NodeID]*hubPeer),
	}
}

// Count 返回已注册节点数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// ServeHTTP 升级为 WebSocket 并处理信令消息
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("websocket 升级失败", "error", err)
		return
	}
	defer conn.Close()

	peer := &hubPeer{conn: conn}
	var id types.NodeID

	defer func() {
		if !id.IsEmpty() {
			h.unregister(id, peer)
		}
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("信令连接读取失败", "error", err)
			}
			return
		}

		switch msg.Type {
		case TypeRegister:
			if msg.From.IsEmpty() {
				_ = peer.write(Message{Type: TypeError, Error: "missing node id"})
				continue
			}
			if !id.IsEmpty() && id != msg.From {
				h.unregister(id, peer)
			}
			id = msg.From
			h.register(id, peer)
			if err := peer.write(Message{Type: TypeRegistered, From: id}); err != nil {
				return
			}

		case TypeSignal:
			if id.IsEmpty() {
				_ = peer.write(Message{Type: TypeError, Error: "not registered"})
				continue
			}
			target := h.lookup(msg.To)
			if target == nil {
				_ = peer.write(Message{Type: TypeError, Error: "unknown peer " + msg.To.String()})
				continue
			}
			if err := target.write(Message{Type: TypeSignal, From: id, To: msg.To, Payload: msg.Payload}); err != nil {
				logger.Debug("转交信令失败", "to", msg.To.ShortString(), "error", err)
			}

		default:
			_ = peer.write(Message{Type: TypeError, Error: "unknown message type: " + msg.Type})
		}
	}
}

func (h *Hub) register(id types.NodeID, p *hubPeer) {
	h.mu.Lock()
	h.peers[id] = p
	h.mu.Unlock()
	logger.Debug("节点注册", "peer", id.ShortString())
}

// unregister 只移除仍指向该连接的记录
func (h *Hub) unregister(id types.NodeID, p *hubPeer) {
	h.mu.Lock()
	if h.peers[id] == p {
		delete(h.peers, id)
	}
	h.mu.Unlock()
}

func (h *Hub) lookup(id types.NodeID) *hubPeer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.peers[id]
}
