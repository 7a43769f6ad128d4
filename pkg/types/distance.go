package types

import (
	"bytes"
	"encoding/hex"
	"errors"
	"math/big"
	"math/bits"
	"strings"
)

// ============================================================================
//                              Distance - XOR 距离
// ============================================================================

// Distance 两个 NodeID 之间的 XOR 距离
//
// 定长大端序无符号数，因此字节序比较即数值比较。
type Distance [NodeIDSize]byte

// ErrInvalidDistance 无效的距离字符串
var ErrInvalidDistance = errors.New("invalid distance: must be at most 40 hex characters")

// MaxDistance 最大距离（全 1）
var MaxDistance = func() Distance {
	var d Distance
	for i := range d {
		d[i] = 0xff
	}
	return d
}()

// XORDistance 计算两个 NodeID 的 XOR 距离
//
// 对称；当且仅当 a == b 时为零。
func XORDistance(a, b NodeID) Distance {
	var d Distance
	for i := 0; i < NodeIDSize; i++ {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance 比较 a 和 b 到 target 的距离
//
// 返回 -1、0、1，语义同 bytes.Compare。
func CompareDistance(a, b, target NodeID) int {
	da := XORDistance(a, target)
	db := XORDistance(b, target)
	return da.Cmp(db)
}

// Cmp 比较两个距离
func (d Distance) Cmp(other Distance) int {
	return bytes.Compare(d[:], other[:])
}

// Less 检查 d 是否严格小于 other
func (d Distance) Less(other Distance) bool {
	return d.Cmp(other) < 0
}

// IsZero 检查距离是否为零
func (d Distance) IsZero() bool {
	return d == Distance{}
}

// BitLen 返回最高置位的位置加一；零距离返回 0
//
// BitLen()-1 即 K 桶索引。
func (d Distance) BitLen() int {
	for i, b := range d {
		if b != 0 {
			return (NodeIDSize-i-1)*8 + bits.Len8(b)
		}
	}
	return 0
}

// BigInt 返回距离的大整数表示
func (d Distance) BigInt() *big.Int {
	return new(big.Int).SetBytes(d[:])
}

// String 返回十六进制表示
func (d Distance) String() string {
	return hex.EncodeToString(d[:])
}

// MarshalText 实现 encoding.TextMarshaler
func (d Distance) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (d *Distance) UnmarshalText(text []byte) error {
	parsed, err := ParseDistance(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDistance 解析十六进制距离，不足 40 位时左侧补零
func ParseDistance(s string) (Distance, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > NodeIDSize*2 {
		return Distance{}, ErrInvalidDistance
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Distance{}, ErrInvalidDistance
	}
	var d Distance
	copy(d[NodeIDSize-len(b):], b)
	return d, nil
}

// DistanceFromUint64 从整数构造距离（阈值配置和测试使用）
func DistanceFromUint64(v uint64) Distance {
	var d Distance
	for i := 0; i < 8; i++ {
		d[NodeIDSize-1-i] = byte(v >> (8 * i))
	}
	return d
}
