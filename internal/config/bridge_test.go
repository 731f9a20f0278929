package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depth.relay/internal/dai/params"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultBridgeConfig(t *testing.T) {
	cfg := DefaultBridgeConfig()
	empty := EmptyBridgeConfig()

	// Defaults set explicitly must agree with the Get* fallbacks.
	assert.Equal(t, empty.GetPipelineType(), cfg.GetPipelineType())
	assert.Equal(t, empty.GetTFPrefix(), cfg.GetTFPrefix())
	assert.Equal(t, empty.GetListen(), cfg.GetListen())
	assert.Equal(t, empty.GetGRPCAddr(), cfg.GetGRPCAddr())
	assert.Equal(t, empty.GetDBPath(), cfg.GetDBPath())
	assert.Equal(t, empty.GetSyntheticFPS(), cfg.GetSyntheticFPS())
	assert.Equal(t, empty.GetDebug(), cfg.GetDebug())
	assert.Equal(t, empty.GetSchemaDir(), cfg.GetSchemaDir())

	assert.Equal(t, PipelineDepth, cfg.GetPipelineType())
	assert.Equal(t, "oak", cfg.GetTFPrefix())
	assert.NoError(t, cfg.Validate())
}

func TestLoadBridgeConfig(t *testing.T) {
	path := writeConfig(t, "relay.json", `{
  "pipeline_type": "ToF",
  "tf_prefix": "front",
  "synthetic_fps": 5,
  "params": {
    "tof": {"i_freq_mod_used": "F_MOD_MIN", "i_max_q_size": 8},
    "left": {"i_fps": 10}
  }
}`)

	cfg, err := LoadBridgeConfig(path)
	require.NoError(t, err)
	assert.Equal(t, PipelineToF, cfg.GetPipelineType())
	assert.Equal(t, "front", cfg.GetTFPrefix())
	assert.Equal(t, 5.0, cfg.GetSyntheticFPS())
	assert.Equal(t, ":8080", cfg.GetListen())

	src, err := cfg.ParamSource()
	require.NoError(t, err)
	assert.Len(t, src, 3)

	v, ok := src.Lookup("tof.i_freq_mod_used")
	require.True(t, ok)
	assert.Equal(t, "F_MOD_MIN", v.Str())

	// JSON numbers arrive as floats and are narrowed at declare time.
	v, ok = src.Lookup("tof.i_max_q_size")
	require.True(t, ok)
	assert.Equal(t, params.TypeFloat, v.Type())
	n, err := v.As(params.TypeInt)
	require.NoError(t, err)
	assert.Equal(t, 8, n.Int())
}

func TestLoadBridgeConfigExample(t *testing.T) {
	cfg, err := LoadBridgeConfig(filepath.Join("..", "..", DefaultConfigPath))
	require.NoError(t, err)
	assert.Equal(t, PipelineDepth, cfg.GetPipelineType())

	src, err := cfg.ParamSource()
	require.NoError(t, err)
	v, ok := src.Lookup("stereo.i_subpixel")
	require.True(t, ok)
	assert.True(t, v.Bool())
}

func TestLoadBridgeConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{"wrong extension", "relay.yaml", `{}`},
		{"invalid json", "relay.json", `{"pipeline_type": `},
		{"unknown pipeline", "relay.json", `{"pipeline_type": "RGBD"}`},
		{"zero fps", "relay.json", `{"synthetic_fps": 0}`},
		{"slash in prefix", "relay.json", `{"tf_prefix": "a/b"}`},
		{"nested param value", "relay.json", `{"params": {"stereo": {"i_width": [1, 2]}}}`},
		{"empty node", "relay.json", `{"params": {"": {"i_width": 1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadBridgeConfig(writeConfig(t, tt.file, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadBridgeConfigMissing(t *testing.T) {
	_, err := LoadBridgeConfig("/nonexistent/path/to/relay.json")
	assert.Error(t, err)
}

func TestLoadBridgeConfigTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.json")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(2*1024*1024))
	require.NoError(t, f.Close())

	_, err = LoadBridgeConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too large")
}
