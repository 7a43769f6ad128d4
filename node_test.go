package meshchat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshchat/internal/core/rpc/rpctest"
	"github.com/dep2p/go-meshchat/pkg/interfaces"
	"github.com/dep2p/go-meshchat/pkg/types"
)

var testSecret = []byte("correct horse battery staple")

// nodeEndpoint 让 Node 满足 rpctest.Endpoint
type nodeEndpoint struct {
	*Node
}

func (e nodeEndpoint) AddChannel(peer types.NodeID, ch interfaces.Channel) error {
	return e.AttachChannel(peer, ch)
}

func newTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	opts = append([]Option{WithoutStorage(), WithSecret(testSecret)}, opts...)
	n, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func startTestNode(t *testing.T, opts ...Option) *Node {
	t.Helper()
	n := newTestNode(t, opts...)
	require.NoError(t, n.Start(context.Background()))
	return n
}

// TestNode_Lifecycle 测试启动和关闭的状态转换
func TestNode_Lifecycle(t *testing.T) {
	n := newTestNode(t)
	assert.Equal(t, StateIdle, n.State())
	assert.False(t, n.Self().IsEmpty())

	_, err := n.Send(context.Background(), types.RandomNodeID(), &types.MessageDTO{})
	assert.ErrorIs(t, err, ErrNotStarted)

	require.NoError(t, n.Start(context.Background()))
	assert.Equal(t, StateRunning, n.State())
	assert.ErrorIs(t, n.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, n.Close())
	assert.Equal(t, StateStopped, n.State())
	require.NoError(t, n.Close())
	assert.ErrorIs(t, n.Start(context.Background()), ErrNodeClosed)
}

// TestNode_Options 测试选项校验
func TestNode_Options(t *testing.T) {
	_, err := New(WithNodeID("not-hex"))
	assert.Error(t, err)

	_, err = New(WithSecret(nil))
	assert.ErrorIs(t, err, ErrNoSecret)

	id := types.RandomNodeID()
	n := newTestNode(t, WithNodeID(id.String()))
	assert.Equal(t, id, n.Self())
	assert.Equal(t, id, n.Profile().PeerID)
}

// TestNode_SendTextWithoutSecret 测试未配置秘密时拒绝加密
func TestNode_SendTextWithoutSecret(t *testing.T) {
	n, err := New(WithoutStorage())
	require.NoError(t, err)
	defer n.Close()
	require.NoError(t, n.Start(context.Background()))

	_, _, err = n.SendText(context.Background(), types.RandomNodeID(), "hi")
	assert.ErrorIs(t, err, ErrNoSecret)
}

// TestNode_SendText 测试两个节点经内存信道收发加密消息
func TestNode_SendText(t *testing.T) {
	a := startTestNode(t)
	b := startTestNode(t)

	_, _, err := rpctest.Connect(nodeEndpoint{a}, nodeEndpoint{b})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.True(t, a.Bootstrap(ctx, b.Self()))

	sub, err := b.Subscribe(new(types.EvtChatMessage))
	require.NoError(t, err)
	defer sub.Close()

	msg, res, err := a.SendText(ctx, b.Self(), "hello over the mesh")
	require.NoError(t, err)
	assert.True(t, res.Direct)
	assert.Equal(t, a.Self().String(), msg.SenderID)

	select {
	case evt := <-sub.Out():
		got := evt.(types.EvtChatMessage)
		assert.Equal(t, msg.ID, got.Message.ID)
		text, err := b.ReadText(got.Message)
		require.NoError(t, err)
		assert.Equal(t, "hello over the mesh", text)
	case <-ctx.Done():
		t.Fatal("message not delivered")
	}

	assert.Contains(t, a.RoutingTable(), types.Node{ID: b.Self()})
}

// TestNode_ReadTextWrongSecret 测试秘密不同的节点无法解密
func TestNode_ReadTextWrongSecret(t *testing.T) {
	a := startTestNode(t)
	b := newTestNode(t, WithSecret([]byte("another secret")))

	msg, _, err := a.SendText(context.Background(), b.Self(), "secret")
	require.NoError(t, err)

	_, err = b.ReadText(msg)
	assert.Error(t, err)
}
