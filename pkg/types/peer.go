package types

// ============================================================================
//                              PeerDTO - PEX 节点描述
// ============================================================================

// PeerDTO PEX 协议交换的节点描述
//
// 仅用于准入过滤，不参与路由。可选字段为 nil 表示对方未声明。
// Sex 和 Searching 是位掩码。
type PeerDTO struct {
	PeerID    NodeID   `json:"peerId"`
	PublicKey string   `json:"publicKey"`
	Age       *int     `json:"age,omitempty"`
	Sex       *int     `json:"sex,omitempty"`
	Searching *int     `json:"searching,omitempty"`
	X         *float64 `json:"x,omitempty"`
	Y         *float64 `json:"y,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// HasLocation 检查是否声明了经纬度
func (p *PeerDTO) HasLocation() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// IntPtr 返回 v 的指针，便于构造可选字段
func IntPtr(v int) *int {
	return &v
}

// FloatPtr 返回 v 的指针
func FloatPtr(v float64) *float64 {
	return &v
}
