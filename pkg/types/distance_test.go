package types

import (
	"bytes"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
//                              NodeID 测试
// ============================================================================

func TestParseNodeID(t *testing.T) {
	id, err := ParseNodeID("0x00000000000000000000000000000000000000ff")
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), id[NodeIDSize-1])
	assert.Equal(t, "00000000000000000000000000000000000000ff", id.String())
	assert.Equal(t, "00000000", id.ShortString())

	_, err = ParseNodeID("abc")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = ParseNodeID("zz000000000000000000000000000000000000ff")
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

func TestNodeID_JSON(t *testing.T) {
	id := RandomNodeID()
	data, err := json.Marshal(Node{ID: id})
	require.NoError(t, err)

	var got Node
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, id, got.ID)
}

func TestNodeIDFromPublicKey(t *testing.T) {
	a := NodeIDFromPublicKey([]byte("key-a"))
	b := NodeIDFromPublicKey([]byte("key-a"))
	c := NodeIDFromPublicKey([]byte("key-b"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsEmpty())
}

// ============================================================================
//                              Distance 测试
// ============================================================================

func TestXORDistance_Properties(t *testing.T) {
	for i := 0; i < 50; i++ {
		a, b := RandomNodeID(), RandomNodeID()

		// 对称性
		assert.Equal(t, XORDistance(a, b), XORDistance(b, a))
		// 自身距离为零
		assert.True(t, XORDistance(a, a).IsZero())
		if a != b {
			assert.False(t, XORDistance(a, b).IsZero())
		}
	}
}

func TestDistance_TotalOrder(t *testing.T) {
	target := RandomNodeID()
	ids := make([]NodeID, 30)
	for i := range ids {
		ids[i] = RandomNodeID()
	}

	sort.Slice(ids, func(i, j int) bool {
		return CompareDistance(ids[i], ids[j], target) < 0
	})

	// 字节序比较与大整数比较一致
	for i := 1; i < len(ids); i++ {
		prev := XORDistance(ids[i-1], target)
		cur := XORDistance(ids[i], target)
		assert.LessOrEqual(t, prev.BigInt().Cmp(cur.BigInt()), 0)
		assert.LessOrEqual(t, bytes.Compare(prev[:], cur[:]), 0)
	}
}

func TestDistance_BitLen(t *testing.T) {
	assert.Equal(t, 0, Distance{}.BitLen())
	assert.Equal(t, 1, DistanceFromUint64(1).BitLen())
	assert.Equal(t, 2, DistanceFromUint64(3).BitLen())
	assert.Equal(t, 9, DistanceFromUint64(256).BitLen())
	assert.Equal(t, NodeIDBits, MaxDistance.BitLen())
}

func TestParseDistance(t *testing.T) {
	d, err := ParseDistance("ff")
	require.NoError(t, err)
	assert.Equal(t, DistanceFromUint64(255), d)

	d, err = ParseDistance("0x100")
	require.NoError(t, err)
	assert.Equal(t, DistanceFromUint64(256), d)

	_, err = ParseDistance("")
	assert.ErrorIs(t, err, ErrInvalidDistance)
}

// ============================================================================
//                              Envelope 测试
// ============================================================================

func TestUnmarshalEnvelope(t *testing.T) {
	sender := RandomNodeID()
	recipient := RandomNodeID()
	env := &Envelope{
		Type:      EnvelopeMessage,
		Sender:    sender,
		Recipient: recipient,
		Message:   &MessageDTO{ID: "m1", Timestamp: 1700000000000, SenderID: sender.String()},
	}
	data, err := env.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, sender, got.Sender)
	assert.Equal(t, recipient, got.Recipient)
	assert.Equal(t, "m1", got.Message.ID)
	assert.True(t, got.IsApplication())

	_, err = UnmarshalEnvelope([]byte(`{"type":"bogus"}`))
	assert.ErrorIs(t, err, ErrUnknownEnvelope)

	_, err = UnmarshalEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestQueuedMessage_Expired(t *testing.T) {
	q := &QueuedMessage{ID: "m"}
	now := q.Timestamp
	assert.False(t, q.Expired(now, 0))
	assert.True(t, q.Expired(now.Add(2), 1))
}
