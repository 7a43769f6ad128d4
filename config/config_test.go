package config

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-meshchat/pkg/types"
)

// TestNewConfig 测试创建默认配置
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.DHT.K)
	assert.Equal(t, 10*time.Second, cfg.DHT.PingTimeout.Duration())
	assert.Equal(t, 48*time.Hour, cfg.DHT.MaxTTL.Duration())
	assert.Equal(t, 5*time.Minute, cfg.DHT.SweepInterval.Duration())
	assert.Equal(t, ForwardToAllCloser, cfg.Forward.Policy)
	assert.Equal(t, CacheDistanceBased, cfg.Cache.Policy)
	assert.Equal(t, types.MaxDistance, cfg.Cache.Threshold)
	assert.False(t, cfg.ConnMgr.Geo.Enabled)

	t.Log("✅ NewConfig 测试通过")
}

// TestFromJSON 测试从 JSON 加载并保留默认值
func TestFromJSON(t *testing.T) {
	data := []byte(`{
		"dht": {"k": 8, "sweep_interval": "1m"},
		"forward": {"policy": "probabilistic", "threshold": "ff"},
		"cache": {"policy": "distance-probabilistic", "probability": 0.25},
		"conn_mgr": {"min_connections": 3, "channel_selection": "random"}
	}`)

	cfg, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.DHT.K)
	assert.Equal(t, time.Minute, cfg.DHT.SweepInterval.Duration())
	assert.Equal(t, 10*time.Second, cfg.DHT.PingTimeout.Duration(), "未指定字段保留默认值")
	assert.Equal(t, ForwardProbabilistic, cfg.Forward.Policy)
	assert.Equal(t, types.DistanceFromUint64(0xff), cfg.Forward.Threshold)
	assert.Equal(t, CacheDistanceProbabilistic, cfg.Cache.Policy)
	assert.Equal(t, 0.25, cfg.Cache.Probability)
	assert.Equal(t, SelectRandom, cfg.ConnMgr.ChannelSelection)
}

// TestFromJSON_Invalid 测试非法配置被拒绝
func TestFromJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown forward policy", `{"forward": {"policy": "flood"}}`},
		{"unknown cache policy", `{"cache": {"policy": "lru"}}`},
		{"zero k", `{"dht": {"k": 0}}`},
		{"bad duration", `{"dht": {"max_ttl": "forever"}}`},
		{"age range", `{"conn_mgr": {"age_min": 50, "age_max": 20}}`},
		{"min above k", `{"dht": {"k": 2}, "conn_mgr": {"min_connections": 5}}`},
		{"signaling scheme", `{"signaling": {"url": "http://example.com"}}`},
		{"log level", `{"log": {"level": "core/dht=loud"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromJSON([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

// TestConfig_SaveAndLoad 测试文件往返
func TestConfig_SaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meshchat.json")

	cfg := NewConfig()
	cfg.Identity.NodeID = types.RandomNodeID().String()
	cfg.Identity.Profile.Age = types.IntPtr(30)
	require.NoError(t, cfg.SaveFile(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Identity.NodeID, loaded.Identity.NodeID)
	require.NotNil(t, loaded.Identity.Profile.Age)
	assert.Equal(t, 30, *loaded.Identity.Profile.Age)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

// TestDuration_JSON 测试 Duration 的两种 JSON 形式
func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1h30m"`), &d))
	assert.Equal(t, 90*time.Minute, d.Duration())

	require.NoError(t, json.Unmarshal([]byte(`1000`), &d))
	assert.Equal(t, time.Microsecond, d.Duration())

	out, err := json.Marshal(Duration(5 * time.Minute))
	require.NoError(t, err)
	assert.Equal(t, `"5m0s"`, string(out))

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))
}

// TestIdentityConfig_ResolveNodeID 测试节点 ID 来源优先级
func TestIdentityConfig_ResolveNodeID(t *testing.T) {
	id := types.RandomNodeID()

	got, err := IdentityConfig{NodeID: id.String(), PublicKey: "pk"}.ResolveNodeID()
	require.NoError(t, err)
	assert.Equal(t, id, got)

	got, err = IdentityConfig{PublicKey: "pk"}.ResolveNodeID()
	require.NoError(t, err)
	assert.Equal(t, types.NodeIDFromPublicKey([]byte("pk")), got)

	got, err = IdentityConfig{}.ResolveNodeID()
	require.NoError(t, err)
	assert.False(t, got.IsEmpty())

	assert.Error(t, IdentityConfig{NodeID: "zz"}.Validate())
}
