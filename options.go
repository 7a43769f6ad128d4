package meshchat

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/dep2p/go-meshchat/config"
	"github.com/dep2p/go-meshchat/pkg/types"
)

// Option 用户配置选项函数
type Option func(*nodeConfig) error

// nodeConfig 节点构建配置
type nodeConfig struct {
	config        *config.Config
	secret        []byte
	userFxOptions []fx.Option
}

func newNodeConfig() *nodeConfig {
	return &nodeConfig{config: config.NewConfig()}
}

// WithConfig 使用完整配置替换默认值，后续选项在其上继续修改
func WithConfig(cfg *config.Config) Option {
	return func(c *nodeConfig) error {
		if cfg == nil {
			return fmt.Errorf("nil config")
		}
		c.config = cfg
		return nil
	}
}

// WithConfigFile 从 JSON 文件加载配置
func WithConfigFile(path string) Option {
	return func(c *nodeConfig) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		c.config = cfg
		return nil
	}
}

// WithNodeID 指定十六进制节点 ID
func WithNodeID(id string) Option {
	return func(c *nodeConfig) error {
		if _, err := types.ParseNodeID(id); err != nil {
			return fmt.Errorf("node id: %w", err)
		}
		c.config.Identity.NodeID = id
		return nil
	}
}

// WithProfile 设置在 PEX 中公布的资料
func WithProfile(p config.ProfileConfig) Option {
	return func(c *nodeConfig) error {
		c.config.Identity.Profile = p
		return nil
	}
}

// WithSignalingURL 设置信令服务器地址
func WithSignalingURL(url string) Option {
	return func(c *nodeConfig) error {
		c.config.Signaling.URL = url
		return nil
	}
}

// WithDataDir 设置快照数据目录
func WithDataDir(dir string) Option {
	return func(c *nodeConfig) error {
		c.config.Storage.Enabled = true
		c.config.Storage.DataDir = dir
		return nil
	}
}

// WithInMemoryStorage 快照只保存在内存中
func WithInMemoryStorage() Option {
	return func(c *nodeConfig) error {
		c.config.Storage.Enabled = true
		c.config.Storage.InMemory = true
		return nil
	}
}

// WithoutStorage 不保存快照
func WithoutStorage() Option {
	return func(c *nodeConfig) error {
		c.config.Storage.Enabled = false
		return nil
	}
}

// WithSecret 设置派生会话密钥的共享秘密
func WithSecret(secret []byte) Option {
	return func(c *nodeConfig) error {
		if len(secret) == 0 {
			return ErrNoSecret
		}
		c.secret = append([]byte(nil), secret...)
		return nil
	}
}

// WithFxOption 追加自定义 Fx 选项
func WithFxOption(opts ...fx.Option) Option {
	return func(c *nodeConfig) error {
		c.userFxOptions = append(c.userFxOptions, opts...)
		return nil
	}
}
