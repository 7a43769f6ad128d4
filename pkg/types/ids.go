package types

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec // 节点坐标只需要 160 位均匀分布
	"encoding/hex"
	"errors"
	"strings"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

const (
	// NodeIDSize NodeID 字节长度
	NodeIDSize = 20

	// NodeIDBits NodeID 位数，同时也是 K 桶数量
	NodeIDBits = NodeIDSize * 8
)

// NodeID 160 位节点标识，既是身份也是 DHT 坐标
//
// 外部表示为 40 个小写十六进制字符。
type NodeID [NodeIDSize]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be 40 hex characters")

// String 返回 NodeID 的十六进制表示
func (id NodeID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回前 8 个十六进制字符，用于日志
func (id NodeID) ShortString() string {
	return id.String()[:8]
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// MarshalText 实现 encoding.TextMarshaler
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
//
// 空字符串解析为 EmptyNodeID，便于可选字段。
func (id *NodeID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*id = EmptyNodeID
		return nil
	}
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseNodeID 从十六进制字符串解析 NodeID（允许 0x 前缀）
func ParseNodeID(s string) (NodeID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != NodeIDSize*2 {
		return EmptyNodeID, ErrInvalidNodeID
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// MustParseNodeID 解析 NodeID，失败时 panic（用于常量和测试）
func MustParseNodeID(s string) NodeID {
	id, err := ParseNodeID(s)
	if err != nil {
		panic(err)
	}
	return id
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != NodeIDSize {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// NodeIDFromPublicKey 从公钥派生 NodeID（SHA-1）
func NodeIDFromPublicKey(pub []byte) NodeID {
	return NodeID(sha1.Sum(pub)) //nolint:gosec
}

// RandomNodeID 生成随机 NodeID
func RandomNodeID() NodeID {
	var id NodeID
	if _, err := rand.Read(id[:]); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return id
}

// ============================================================================
//                              Node - 路由表成员
// ============================================================================

// Node 覆盖网络中的节点
//
// 只包含身份；地址等连接信息由外部信道提供者持有。
type Node struct {
	ID NodeID `json:"id"`
}

// String 返回节点的短标识
func (n Node) String() string {
	return n.ID.ShortString()
}
