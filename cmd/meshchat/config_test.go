package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dep2p/go-meshchat/config"
)

// TestApplyEnvOverrides 测试环境变量覆盖配置
func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("MESHCHAT_SIGNALING_URL", "ws://127.0.0.1:8080/ws")
	t.Setenv("MESHCHAT_DATA_DIR", "/tmp/meshchat")
	t.Setenv("MESHCHAT_SECRET", "s3cret")

	cfg := config.NewConfig()
	env := applyEnvOverrides(cfg)

	assert.Equal(t, "ws://127.0.0.1:8080/ws", cfg.Signaling.URL)
	assert.True(t, cfg.Storage.Enabled)
	assert.Equal(t, "/tmp/meshchat", cfg.Storage.DataDir)
	assert.Equal(t, "s3cret", env.secret)
}

// TestSplitList 测试逗号分隔参数解析
func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b "))
	assert.Nil(t, splitList(""))
}
