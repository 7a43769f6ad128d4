package config

import (
	"fmt"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// IdentityConfig 身份配置
//
// 节点 ID 的来源优先级：NodeID > PublicKey 的 SHA-1 > 随机生成。
type IdentityConfig struct {
	// NodeID 十六进制节点 ID（40 个字符，可选）
	NodeID string `json:"node_id,omitempty"`

	// PublicKey 公钥（base64，可选），在 PEX 中公布
	PublicKey string `json:"public_key,omitempty"`

	// Profile 在 PEX 中公布的本节点资料
	Profile ProfileConfig `json:"profile"`
}

// ProfileConfig 本节点资料，未设置的字段不公布
type ProfileConfig struct {
	Age       *int     `json:"age,omitempty"`
	Sex       *int     `json:"sex,omitempty"`
	Searching *int     `json:"searching,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.NodeID != "" {
		if _, err := types.ParseNodeID(c.NodeID); err != nil {
			return fmt.Errorf("node_id: %w", err)
		}
	}
	return nil
}

// ResolveNodeID 按优先级解析本节点 ID
func (c IdentityConfig) ResolveNodeID() (types.NodeID, error) {
	switch {
	case c.NodeID != "":
		return types.ParseNodeID(c.NodeID)
	case c.PublicKey != "":
		return types.NodeIDFromPublicKey([]byte(c.PublicKey)), nil
	default:
		return types.RandomNodeID(), nil
	}
}

// PeerDTO 把本节点资料转换为 PEX 描述
func (c IdentityConfig) PeerDTO(self types.NodeID) types.PeerDTO {
	return types.PeerDTO{
		PeerID:    self,
		PublicKey: c.PublicKey,
		Age:       c.Profile.Age,
		Sex:       c.Profile.Sex,
		Searching: c.Profile.Searching,
		Latitude:  c.Profile.Latitude,
		Longitude: c.Profile.Longitude,
	}
}
