package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/banshee-data/depth.relay/internal/config"
)

// withFlags sets flag values for one test and restores them afterwards.
func withFlags(t *testing.T, set func()) {
	t.Helper()
	saved := []any{*configPath, *listen, *grpcAddr, *dbPath, *pipelineType, *syntheticFPS, *debugLog, *schemaDir}
	t.Cleanup(func() {
		*configPath = saved[0].(string)
		*listen = saved[1].(string)
		*grpcAddr = saved[2].(string)
		*dbPath = saved[3].(string)
		*pipelineType = saved[4].(string)
		*syntheticFPS = saved[5].(float64)
		*debugLog = saved[6].(bool)
		*schemaDir = saved[7].(string)
	})
	set()
}

// TestFlagDefaults verifies that unset flags leave the config defaults in
// charge.
func TestFlagDefaults(t *testing.T) {
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.GetListen(); got != ":8080" {
		t.Errorf("listen = %q, want :8080", got)
	}
	if got := cfg.GetPipelineType(); got != config.PipelineDepth {
		t.Errorf("pipeline = %q, want %q", got, config.PipelineDepth)
	}
	if *devMode {
		t.Error("dev mode should default to false")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.json")
	body := `{"listen": ":9000", "pipeline_type": "Depth", "synthetic_fps": 5}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	withFlags(t, func() {
		*configPath = path
		*pipelineType = config.PipelineToF
		*syntheticFPS = 30
	})

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.GetListen(); got != ":9000" {
		t.Errorf("listen = %q, want :9000 from the file", got)
	}
	if got := cfg.GetPipelineType(); got != config.PipelineToF {
		t.Errorf("pipeline = %q, want ToF from the flag", got)
	}
	if got := cfg.GetSyntheticFPS(); got != 30 {
		t.Errorf("fps = %v, want 30 from the flag", got)
	}
}

func TestInvalidPipelineFlag(t *testing.T) {
	withFlags(t, func() { *pipelineType = "Lidar" })
	if _, err := loadConfig(); err == nil {
		t.Error("expected an error for an unknown pipeline type")
	}
}

func TestSchemaDirFlag(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")
	withFlags(t, func() { *schemaDir = dir })
	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if got := cfg.GetSchemaDir(); got != dir {
		t.Errorf("schema dir = %q, want %q", got, dir)
	}

	*schemaDir = "/proc/self"
	if _, err := loadConfig(); err == nil {
		t.Error("expected a schema dir outside the working and temp directories to be rejected")
	}
}

func TestOpenDevice(t *testing.T) {
	if _, _, err := openDevice(false); err == nil {
		t.Error("expected an error without -dev")
	}
	dev, mock, err := openDevice(true)
	if err != nil {
		t.Fatalf("openDevice(true) error = %v", err)
	}
	if dev == nil || mock == nil {
		t.Fatal("expected a mock device")
	}
	dev.Close()
}
