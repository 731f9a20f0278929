package nodes

import (
	"errors"
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/monitoring"
)

// ToF is a time-of-flight node: a camera feeding a ToF block whose depth is
// streamed as "<name>_tof".
type ToF struct {
	lifecycle
	name  string
	env   Env
	ph    *params.ToFHandler
	cam   *pipeline.Node
	tof   *pipeline.Node
	bound *binding
}

var _ Node = (*ToF)(nil)

func NewToF(env Env, name string) (*ToF, error) {
	cam, err := env.Pipeline.Create(pipeline.KindCamera, name+"_camera")
	if err != nil {
		return nil, err
	}
	tof, err := env.Pipeline.Create(pipeline.KindToF, name)
	if err != nil {
		return nil, err
	}
	t := &ToF{name: name, env: env, cam: cam, tof: tof, ph: params.NewToFHandler(name)}
	if err := t.ph.DeclareParams(env.Params, cam, tof); err != nil {
		return nil, err
	}

	raw, _ := cam.Out("raw")
	in, _ := tof.In("input")
	if err := raw.Link(in); err != nil {
		return nil, err
	}
	if t.ph.Snapshot().Bool("i_publish_topic") {
		xout, err := env.Pipeline.Create(pipeline.KindXLinkOut, t.StreamName())
		if err != nil {
			return nil, err
		}
		xout.XLinkOut().StreamName = t.StreamName()
		xin, _ := xout.In("input")
		if err := t.Link(xin, LinkLeft); err != nil {
			return nil, err
		}
	}
	t.set(StateLinked)
	monitoring.Debugf("[ToF] node %s created", name)
	return t, nil
}

func (t *ToF) Name() string { return t.name }

// StreamName is the device stream carrying ToF depth.
func (t *ToF) StreamName() string { return t.name + "_tof" }

// Descriptor returns the ToF block descriptor.
func (t *ToF) Descriptor() *pipeline.Node { return t.tof }

// Link connects the depth output to in; lt is not consulted.
func (t *ToF) Link(in pipeline.Input, lt LinkType) error {
	depth, _ := t.tof.Out("depth")
	return depth.Link(in)
}

// Input fails for every link type; the ToF block is fed internally.
func (t *ToF) Input(lt LinkType) (pipeline.Input, error) {
	return pipeline.Input{}, fmt.Errorf("%s: %w %s", t.name, ErrUnsupportedLinkType, lt)
}

func (t *ToF) SetupQueues(dev device.Device) error {
	if err := t.checkSetup(t.name, t.env.Pipeline); err != nil {
		return err
	}
	snap := t.ph.Snapshot()
	var b *binding
	if snap.Bool("i_publish_topic") {
		var err error
		b, err = bind(t.env, dev, streamSpec{
			node:    t.name,
			stream:  t.StreamName(),
			pubName: t.name,
			maxQ:    snap.Int("i_max_q_size"),
			frameID: t.env.frameID(t.name),
			socket:  pipeline.Socket(snap.Int("i_board_socket_id")),
			width:   snap.Int("i_width"),
			height:  snap.Int("i_height"),
			variant: VariantDepth,
		})
		if err != nil {
			return err
		}
	}
	t.mu.Lock()
	t.bound = b
	t.dev = dev
	t.state = StateQueuesBound
	t.mu.Unlock()
	return nil
}

func (t *ToF) UpdateParams(batch []params.Parameter) error {
	ctrl, err := t.ph.SetRuntimeParams(batch)
	return errors.Join(err, t.sendControl(t.tof.Name(), ctrl))
}

func (t *ToF) CloseQueues() {
	t.mu.Lock()
	b := t.bound
	t.bound = nil
	t.dev = nil
	t.state = StateClosed
	t.mu.Unlock()
	if b != nil {
		b.close()
	}
}

func (t *ToF) Params() []*params.Handler { return []*params.Handler{t.ph.Handler} }

func (t *ToF) Streams() []StreamStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bound == nil {
		return nil
	}
	return []StreamStatus{t.bound.status()}
}
