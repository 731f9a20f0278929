// Package nodes composes pipeline descriptors into processing nodes: a
// node owns its descriptors and child sensors, links them at build time,
// binds its output streams to queues once the pipeline is committed, and
// forwards runtime parameter batches to its handler.
package nodes

import (
	"errors"
	"fmt"
	"sync"

	"github.com/banshee-data/depth.relay/internal/dai/convert"
	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/msgs"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/publish"
)

var (
	ErrUnsupportedLinkType = errors.New("unsupported link type")
	ErrNotCommitted        = errors.New("pipeline not committed")
	ErrQueuesBound         = errors.New("queues already bound")
	ErrNoDevice            = errors.New("node has no running device")
)

// LinkType selects one of several same-role inputs of a node.
type LinkType int

const (
	LinkLeft LinkType = iota
	LinkRight
)

func (t LinkType) String() string {
	switch t {
	case LinkLeft:
		return "left"
	case LinkRight:
		return "right"
	}
	return fmt.Sprintf("LinkType(%d)", int(t))
}

// State is the lifecycle position of a node.
type State int

const (
	StateConstructed State = iota
	StateLinked
	StateCommitted
	StateQueuesBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateLinked:
		return "linked"
	case StateCommitted:
		return "committed"
	case StateQueuesBound:
		return "queues_bound"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Node is the capability set shared by every processing node.
type Node interface {
	Name() string
	// Link connects the node's primary output to in.
	Link(in pipeline.Input, t LinkType) error
	// Input returns the input point selected by t.
	Input(t LinkType) (pipeline.Input, error)
	// SetupQueues binds output streams on a committed pipeline.
	SetupQueues(dev device.Device) error
	// UpdateParams applies a runtime batch and sends any resulting control.
	UpdateParams(batch []params.Parameter) error
	// CloseQueues releases the bound streams, children first.
	CloseQueues()
	State() State
	Params() []*params.Handler
	Streams() []StreamStatus
}

// Env is what nodes are built against.
type Env struct {
	Pipeline  *pipeline.Pipeline
	Params    params.Source
	Transport publish.Transport
	// TFPrefix names the device in frame ids, as in "oak_rgb_camera_optical_frame".
	TFPrefix string
}

func (e Env) frameID(frame string) string {
	prefix := e.TFPrefix
	if prefix == "" {
		prefix = "oak"
	}
	return prefix + "_" + frame + "_camera_optical_frame"
}

// Variant is the conversion a bound stream applies to its frames.
type Variant int

const (
	VariantNone Variant = iota
	// VariantDepth publishes depth or disparity frames as they arrive.
	VariantDepth
	// VariantCompressedDisparity decodes MJPEG disparity to mono8.
	VariantCompressedDisparity
	// VariantCompressedDepth decodes MJPEG disparity and converts it to depth.
	VariantCompressedDepth
	VariantMono
	VariantCompressedMono
)

func (v Variant) String() string {
	switch v {
	case VariantNone:
		return "none"
	case VariantDepth:
		return "depth"
	case VariantCompressedDisparity:
		return "compressed_disparity"
	case VariantCompressedDepth:
		return "compressed_depth"
	case VariantMono:
		return "mono"
	case VariantCompressedMono:
		return "compressed_mono"
	}
	return fmt.Sprintf("Variant(%d)", int(v))
}

// StreamStatus describes one bound stream.
type StreamStatus struct {
	Node    string                `json:"node"`
	Stream  string                `json:"stream"`
	Topic   string                `json:"topic"`
	FrameID string                `json:"frame_id"`
	Variant string                `json:"variant"`
	Queue   device.QueueStats     `json:"queue"`
	Convert convert.StatsSnapshot `json:"convert"`
}

// binding is an output stream bound to a queue and a publisher.
type binding struct {
	node    string
	stream  string
	variant Variant
	queue   *device.Queue
	cbID    int
	pub     publish.CameraPublisher
	conv    *convert.ImageConverter
	info    *convert.InfoCache
	stats   convert.Stats
}

type streamSpec struct {
	node     string
	stream   string
	pubName  string
	maxQ     int
	frameID  string
	socket   pipeline.Socket
	width    int
	height   int
	variant  Variant
	withInfo func(info *msgs.CameraInfo, calib *device.Calibration)
}

// bind acquires the stream's queue, computes its camera info once and
// registers the conversion callback for spec.variant. On error nothing is
// left registered.
func bind(env Env, dev device.Device, s streamSpec) (_ *binding, err error) {
	calib, err := dev.ReadCalibration()
	if err != nil {
		return nil, fmt.Errorf("%s: reading calibration: %w", s.node, err)
	}
	info, err := convert.CameraInfo(calib, s.socket, s.width, s.height, s.frameID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.node, err)
	}
	if s.withInfo != nil {
		s.withInfo(info, calib)
	}

	pub, err := env.Transport.CameraPublisher(s.pubName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.node, err)
	}
	defer func() {
		if err != nil {
			pub.Close()
		}
	}()

	q, err := dev.OutputQueue(s.stream, s.maxQ, false)
	if err != nil {
		return nil, fmt.Errorf("%s: acquiring queue %q: %w", s.node, s.stream, err)
	}

	b := &binding{
		node:    s.node,
		stream:  s.stream,
		variant: s.variant,
		queue:   q,
		pub:     pub,
		conv:    convert.NewImageConverter(s.frameID),
		info:    convert.NewInfoCache(info),
	}
	var cb device.Callback
	switch s.variant {
	case VariantDepth, VariantMono:
		cb = convert.ImageCallback(b.conv, pub, b.info, &b.stats)
	case VariantCompressedDisparity, VariantCompressedMono:
		cb = convert.CompressedImageCallback(b.conv, pub, b.info, &b.stats, device.FrameGray8)
	case VariantCompressedDepth:
		cb = convert.CompressedImageCallback(b.conv, pub, b.info, &b.stats, device.FrameRaw8)
	default:
		q.Close()
		return nil, fmt.Errorf("%s: no conversion for variant %s", s.node, s.variant)
	}
	b.cbID = q.AddCallback(cb)
	return b, nil
}

func (b *binding) close() {
	b.queue.Close()
	b.pub.Close()
}

func (b *binding) status() StreamStatus {
	return StreamStatus{
		Node:    b.node,
		Stream:  b.stream,
		Topic:   b.pub.Topic(),
		FrameID: b.conv.FrameID(),
		Variant: b.variant.String(),
		Queue:   b.queue.Stats(),
		Convert: b.stats.Snapshot(),
	}
}

// lifecycle is the state shared by every node implementation.
type lifecycle struct {
	mu    sync.Mutex
	state State
	dev   device.Device
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) set(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// checkSetup validates the pipeline is committed and queues not yet bound.
func (l *lifecycle) checkSetup(name string, p *pipeline.Pipeline) error {
	if !p.Committed() {
		return fmt.Errorf("%s: %w", name, ErrNotCommitted)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateQueuesBound:
		return fmt.Errorf("%s: %w", name, ErrQueuesBound)
	case StateClosed:
		return fmt.Errorf("%s: node closed", name)
	}
	l.state = StateCommitted
	return nil
}

func (l *lifecycle) running() device.Device {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dev
}

// sendControl forwards a non-empty control to the live descriptor.
func (l *lifecycle) sendControl(descriptor string, ctrl device.Control) error {
	if ctrl.Empty() {
		return nil
	}
	dev := l.running()
	if dev == nil {
		return fmt.Errorf("%s: %w", descriptor, ErrNoDevice)
	}
	if err := dev.SendControl(descriptor, ctrl); err != nil {
		return fmt.Errorf("%s: sending control: %w", descriptor, err)
	}
	return nil
}
