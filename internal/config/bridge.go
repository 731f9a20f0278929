package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/banshee-data/depth.relay/internal/dai/params"
)

// DefaultConfigPath is the path to the example bridge configuration.
const DefaultConfigPath = "config/depth-relay.example.json"

// Pipeline types understood by the driver.
const (
	PipelineDepth = "Depth"
	PipelineToF   = "ToF"
)

// BridgeConfig is the root configuration of the relay. Every field is
// optional; the Get* methods supply defaults for anything left out.
type BridgeConfig struct {
	PipelineType *string  `json:"pipeline_type,omitempty"` // "Depth" or "ToF"
	TFPrefix     *string  `json:"tf_prefix,omitempty"`
	Listen       *string  `json:"listen,omitempty"`
	GRPCAddr     *string  `json:"grpc_addr,omitempty"`
	DBPath       *string  `json:"db_path,omitempty"`
	SchemaDir    *string  `json:"schema_dir,omitempty"` // per-build graph archive; empty disables
	SyntheticFPS *float64 `json:"synthetic_fps,omitempty"` // dev mode only
	Debug        *bool    `json:"debug,omitempty"`

	// Params holds startup parameter values keyed by node, then by
	// parameter name, e.g. {"stereo": {"i_subpixel": true}}.
	Params map[string]map[string]any `json:"params,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }

// EmptyBridgeConfig returns a BridgeConfig with all fields unset.
func EmptyBridgeConfig() *BridgeConfig {
	return &BridgeConfig{}
}

// DefaultBridgeConfig returns a BridgeConfig with every field set to its
// default.
func DefaultBridgeConfig() *BridgeConfig {
	return &BridgeConfig{
		PipelineType: ptrString(PipelineDepth),
		TFPrefix:     ptrString("oak"),
		Listen:       ptrString(":8080"),
		GRPCAddr:     ptrString("localhost:50061"),
		DBPath:       ptrString("depth_relay.db"),
		SyntheticFPS: ptrFloat64(15),
		Debug:        ptrBool(false),
	}
}

// LoadBridgeConfig loads a BridgeConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadBridgeConfig(path string) (*BridgeConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyBridgeConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid. Parameter values
// are only checked for type here; ranges and enums are checked when the
// owning node declares them.
func (c *BridgeConfig) Validate() error {
	if c.PipelineType != nil {
		switch *c.PipelineType {
		case PipelineDepth, PipelineToF:
		default:
			return fmt.Errorf("pipeline_type must be %q or %q, got %q", PipelineDepth, PipelineToF, *c.PipelineType)
		}
	}

	if c.SyntheticFPS != nil {
		if *c.SyntheticFPS <= 0 || *c.SyntheticFPS > 120 {
			return fmt.Errorf("synthetic_fps must be in (0, 120], got %f", *c.SyntheticFPS)
		}
	}

	if c.TFPrefix != nil && strings.ContainsAny(*c.TFPrefix, " /") {
		return fmt.Errorf("tf_prefix must not contain spaces or slashes, got %q", *c.TFPrefix)
	}

	_, err := c.ParamSource()
	return err
}

// GetPipelineType returns the pipeline_type value or the default.
func (c *BridgeConfig) GetPipelineType() string {
	if c.PipelineType == nil || *c.PipelineType == "" {
		return PipelineDepth
	}
	return *c.PipelineType
}

// GetTFPrefix returns the tf_prefix value or the default.
func (c *BridgeConfig) GetTFPrefix() string {
	if c.TFPrefix == nil || *c.TFPrefix == "" {
		return "oak"
	}
	return *c.TFPrefix
}

// GetListen returns the HTTP listen address or the default.
func (c *BridgeConfig) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return ":8080"
	}
	return *c.Listen
}

// GetGRPCAddr returns the frame stream address or the default.
func (c *BridgeConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil || *c.GRPCAddr == "" {
		return "localhost:50061"
	}
	return *c.GRPCAddr
}

// GetDBPath returns the parameter store path or the default.
func (c *BridgeConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "depth_relay.db"
	}
	return *c.DBPath
}

// GetSchemaDir returns the schema archive directory, empty when disabled.
func (c *BridgeConfig) GetSchemaDir() string {
	if c.SchemaDir == nil {
		return ""
	}
	return *c.SchemaDir
}

// GetSyntheticFPS returns the synthetic_fps value or the default.
func (c *BridgeConfig) GetSyntheticFPS() float64 {
	if c.SyntheticFPS == nil {
		return 15
	}
	return *c.SyntheticFPS
}

// GetDebug returns the debug value or the default.
func (c *BridgeConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// ParamSource flattens Params into full "<node>.<param>" names.
func (c *BridgeConfig) ParamSource() (params.MapSource, error) {
	src := make(params.MapSource)
	nodes := make([]string, 0, len(c.Params))
	for node := range c.Params {
		nodes = append(nodes, node)
	}
	sort.Strings(nodes)

	for _, node := range nodes {
		if node == "" {
			return nil, fmt.Errorf("params: empty node name")
		}
		for name, raw := range c.Params[node] {
			v, err := params.FromAny(raw)
			if err != nil {
				return nil, fmt.Errorf("params.%s.%s: %w", node, name, err)
			}
			src[node+"."+name] = v
		}
	}
	return src, nil
}
