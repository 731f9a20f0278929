// Package driver owns one device and the pipeline running on it. It builds
// the node graph for the configured pipeline type, binds the output
// streams, routes runtime parameter batches to the nodes and rebuilds the
// pipeline when build-time parameters have changed.
package driver

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.relay/internal/config"
	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/nodes"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/fsutil"
	"github.com/banshee-data/depth.relay/internal/monitoring"
	"github.com/banshee-data/depth.relay/internal/paramstore"
	"github.com/banshee-data/depth.relay/internal/publish"
)

var (
	ErrNotRunning     = errors.New("driver not running")
	ErrAlreadyRunning = errors.New("driver already running")
	ErrClosed         = errors.New("driver closed")
	ErrEmptyBatch     = errors.New("empty parameter batch")
)

// Node names used for each pipeline type.
const (
	StereoNodeName = "stereo"
	ToFNodeName    = "tof"
)

// Options configures a Driver.
type Options struct {
	PipelineType string // config.PipelineDepth or config.PipelineToF
	TFPrefix     string
	// Source supplies startup parameter values, usually the config file.
	Source    params.Source
	Transport publish.Transport
	// Store, when set, records builds and runtime batches and supplies the
	// latest accepted values to every build.
	Store *paramstore.Store
	// SchemaDir, when set, receives one JSON file per successful build
	// holding the committed graph. FS defaults to the OS filesystem.
	SchemaDir string
	FS        fsutil.FileSystem
}

// Driver serialises builds, rebuilds and runtime updates. Frames flow on
// the queues' own goroutines and are never blocked by the driver lock.
type Driver struct {
	dev  device.Device
	opts Options

	mu        sync.Mutex
	pipe      *pipeline.Pipeline
	nodes     []nodes.Node
	buildID   string
	running   bool
	closed    bool
	overrides params.MapSource
}

func New(dev device.Device, opts Options) *Driver {
	if opts.PipelineType == "" {
		opts.PipelineType = config.PipelineDepth
	}
	if opts.FS == nil {
		opts.FS = fsutil.OSFileSystem{}
	}
	return &Driver{dev: dev, opts: opts, overrides: make(params.MapSource)}
}

// Start builds the pipeline, starts it on the device and binds every
// output stream.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.running {
		return ErrAlreadyRunning
	}
	return d.build(ctx)
}

// Rebuild closes the running pipeline's queues and builds a fresh pipeline
// with every accepted value, including pending build-time ones.
func (d *Driver) Rebuild(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if d.running {
		monitoring.Logf("[Driver] rebuilding %s pipeline (build %s)", d.opts.PipelineType, d.buildID)
		d.stop()
	}
	return d.build(ctx)
}

// source layers in-process overrides over the store's latest values over
// the configured source.
func (d *Driver) source(ctx context.Context) params.Source {
	layers := params.Layered{maps.Clone(d.overrides)}
	if d.opts.Store != nil {
		latest, err := d.opts.Store.Latest(ctx)
		if err != nil {
			monitoring.Logf("[Driver] reading stored parameters: %v", err)
		} else {
			layers = append(layers, latest)
		}
	}
	return append(layers, d.opts.Source)
}

func (d *Driver) build(ctx context.Context) (err error) {
	p := pipeline.New()
	env := nodes.Env{
		Pipeline:  p,
		Params:    d.source(ctx),
		Transport: d.opts.Transport,
		TFPrefix:  d.opts.TFPrefix,
	}
	rec := paramstore.Build{ID: uuid.NewString(), PipelineType: d.opts.PipelineType}
	defer func() {
		rec.NodeCount = len(p.Nodes())
		rec.Streams = p.Streams()
		if err != nil {
			rec.Err = err.Error()
			monitoring.Logf("[Driver] build %s failed: %v", rec.ID, err)
		}
		d.recordBuild(ctx, rec)
	}()

	var root nodes.Node
	switch d.opts.PipelineType {
	case config.PipelineDepth:
		root, err = nodes.NewStereo(env, StereoNodeName)
	case config.PipelineToF:
		root, err = nodes.NewToF(env, ToFNodeName)
	default:
		err = fmt.Errorf("unsupported pipeline type %q", d.opts.PipelineType)
	}
	if err != nil {
		return err
	}

	if err := d.dev.StartPipeline(p); err != nil {
		return fmt.Errorf("starting pipeline: %w", err)
	}
	if err := root.SetupQueues(d.dev); err != nil {
		return err
	}

	d.pipe = p
	d.nodes = []nodes.Node{root}
	d.buildID = rec.ID
	d.running = true
	monitoring.Logf("[Driver] build %s: %s pipeline running, %d nodes, streams %v", rec.ID, d.opts.PipelineType, len(p.Nodes()), p.Streams())
	if d.opts.SchemaDir != "" {
		if _, err := d.archiveSchema(rec.ID, p.Schema()); err != nil {
			monitoring.Logf("[Driver] archiving schema for build %s: %v", rec.ID, err)
		}
	}
	return nil
}

func (d *Driver) recordBuild(ctx context.Context, b paramstore.Build) {
	if d.opts.Store == nil {
		return
	}
	if err := d.opts.Store.RecordBuild(ctx, b); err != nil {
		monitoring.Logf("[Driver] recording build %s: %v", b.ID, err)
	}
}

// stop closes node queues in reverse build order.
func (d *Driver) stop() {
	for i := len(d.nodes) - 1; i >= 0; i-- {
		d.nodes[i].CloseQueues()
	}
	d.nodes = nil
	d.pipe = nil
	d.running = false
}

// Close stops the pipeline and closes the device.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.stop()
	return d.dev.Close()
}

// Running reports whether a pipeline is running.
func (d *Driver) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// BuildID identifies the running build.
func (d *Driver) BuildID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buildID
}

// PipelineType returns the configured pipeline type.
func (d *Driver) PipelineType() string { return d.opts.PipelineType }

// Nodes returns the top-level nodes of the running pipeline.
func (d *Driver) Nodes() []nodes.Node {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]nodes.Node(nil), d.nodes...)
}

// Handlers returns every parameter handler of the running pipeline,
// children included.
func (d *Driver) Handlers() []*params.Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers()
}

func (d *Driver) handlers() []*params.Handler {
	var out []*params.Handler
	for _, n := range d.nodes {
		out = append(out, n.Params()...)
	}
	return out
}

// Handler looks a parameter handler up by name.
func (d *Driver) Handler(name string) (*params.Handler, bool) {
	for _, h := range d.Handlers() {
		if h.Name() == name {
			return h, true
		}
	}
	return nil, false
}

// Schema snapshots the running pipeline graph.
func (d *Driver) Schema() (pipeline.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pipe == nil {
		return pipeline.Schema{}, ErrNotRunning
	}
	return d.pipe.Schema(), nil
}

// Streams returns the status of every bound stream.
func (d *Driver) Streams() []nodes.StreamStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []nodes.StreamStatus
	for _, n := range d.nodes {
		out = append(out, n.Streams()...)
	}
	return out
}
