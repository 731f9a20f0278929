package driver

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/security"
)

// SchemaArchive is the file written per build into Options.SchemaDir.
type SchemaArchive struct {
	BuildID      string          `json:"build_id"`
	PipelineType string          `json:"pipeline_type"`
	TFPrefix     string          `json:"tf_prefix"`
	WrittenAt    time.Time       `json:"written_at"`
	Schema       pipeline.Schema `json:"schema"`
}

// SchemaFilename returns the archive name for a build.
func SchemaFilename(pipelineType, buildID string) string {
	return security.SanitizeFilename(pipelineType+"_"+buildID) + ".json"
}

func (d *Driver) archiveSchema(buildID string, schema pipeline.Schema) (string, error) {
	data, err := json.MarshalIndent(SchemaArchive{
		BuildID:      buildID,
		PipelineType: d.opts.PipelineType,
		TFPrefix:     d.opts.TFPrefix,
		WrittenAt:    time.Now().UTC(),
		Schema:       schema,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding schema: %w", err)
	}
	if err := d.opts.FS.MkdirAll(d.opts.SchemaDir, 0o755); err != nil {
		return "", err
	}
	name := filepath.Join(d.opts.SchemaDir, SchemaFilename(d.opts.PipelineType, buildID))
	if err := d.opts.FS.WriteFile(name, data, 0o644); err != nil {
		return "", err
	}
	return name, nil
}
