package config

import "fmt"

// ForwardPolicy 转发策略
type ForwardPolicy string

const (
	// ForwardToAllCloser 转发给比本节点更接近接收者的所有已知节点
	ForwardToAllCloser ForwardPolicy = "all-closer"

	// ForwardExhaustive 转发给 k 个最近的已知节点，不要求更近
	ForwardExhaustive ForwardPolicy = "exhaustive"

	// ForwardProbabilistic 按距离衰减的概率转发
	ForwardProbabilistic ForwardPolicy = "probabilistic"
)

// ParseForwardPolicy 解析转发策略
func ParseForwardPolicy(s string) (ForwardPolicy, error) {
	switch p := ForwardPolicy(s); p {
	case ForwardToAllCloser, ForwardExhaustive, ForwardProbabilistic:
		return p, nil
	default:
		return "", fmt.Errorf("unknown forward policy %q: %w", s, ErrInvalidConfig)
	}
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *ForwardPolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseForwardPolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// CachePolicy 缓存策略
type CachePolicy string

const (
	// CacheDistanceBased 按距离阈值准入
	CacheDistanceBased CachePolicy = "distance"

	// CacheDistanceProbabilistic 距离阈值加伯努利准入
	CacheDistanceProbabilistic CachePolicy = "distance-probabilistic"
)

// ParseCachePolicy 解析缓存策略
func ParseCachePolicy(s string) (CachePolicy, error) {
	switch p := CachePolicy(s); p {
	case CacheDistanceBased, CacheDistanceProbabilistic:
		return p, nil
	default:
		return "", fmt.Errorf("unknown cache policy %q: %w", s, ErrInvalidConfig)
	}
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *CachePolicy) UnmarshalText(text []byte) error {
	parsed, err := ParseCachePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ChannelSelection PEX 信道选择方式
type ChannelSelection string

const (
	// SelectClosest 选择 XOR 距离最近的节点
	SelectClosest ChannelSelection = "closest"

	// SelectRandom 均匀随机选择
	SelectRandom ChannelSelection = "random"
)

// UnmarshalText 实现 encoding.TextUnmarshaler
func (s *ChannelSelection) UnmarshalText(text []byte) error {
	switch v := ChannelSelection(text); v {
	case SelectClosest, SelectRandom:
		*s = v
		return nil
	default:
		return fmt.Errorf("unknown channel selection %q: %w", text, ErrInvalidConfig)
	}
}
