package nodes

import (
	"errors"
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/msgs"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/monitoring"
)

// Route is how the stereo result leaves the device.
type Route int

const (
	// RouteDirect streams depth frames as they are.
	RouteDirect Route = iota
	// RouteEncoded streams disparity through an MJPEG encoder.
	RouteEncoded
)

func (r Route) String() string {
	if r == RouteEncoded {
		return "encoded"
	}
	return "direct"
}

// Stereo is a stereo-depth node fed by a left and right sensor.
type Stereo struct {
	lifecycle
	name   string
	env    Env
	ph     *params.StereoHandler
	left   *Sensor
	right  *Sensor
	stereo *pipeline.Node
	enc    *pipeline.Node
	xout   *pipeline.Node
	route  Route
	bound  *binding
}

var _ Node = (*Stereo)(nil)

// NewStereo builds the stereo sub-graph: both sensors, the StereoDepth
// block and the output route chosen by i_low_bandwidth.
func NewStereo(env Env, name string) (*Stereo, error) {
	monitoring.Debugf("[Stereo] creating node %s", name)
	stereo, err := env.Pipeline.Create(pipeline.KindStereoDepth, name)
	if err != nil {
		return nil, err
	}
	s := &Stereo{name: name, env: env, stereo: stereo, ph: params.NewStereoHandler(name)}

	if s.left, err = NewSensor(env, "left", pipeline.SocketLeft, false); err != nil {
		return nil, err
	}
	if s.right, err = NewSensor(env, "right", pipeline.SocketRight, false); err != nil {
		return nil, err
	}
	if err := s.ph.DeclareParams(env.Params, stereo); err != nil {
		return nil, err
	}
	if err := s.setXinXout(); err != nil {
		return nil, err
	}

	for _, l := range []struct {
		t      LinkType
		sensor *Sensor
	}{{LinkLeft, s.left}, {LinkRight, s.right}} {
		in, err := s.Input(l.t)
		if err != nil {
			return nil, err
		}
		if err := l.sensor.Link(in, l.t); err != nil {
			return nil, err
		}
	}
	s.set(StateLinked)
	monitoring.Debugf("[Stereo] node %s created, route %s", name, s.route)
	return s, nil
}

// setXinXout decides the output route. It runs once per build.
func (s *Stereo) setXinXout() error {
	snap := s.ph.Snapshot()
	xout, err := s.env.Pipeline.Create(pipeline.KindXLinkOut, s.StreamName())
	if err != nil {
		return err
	}
	xout.XLinkOut().StreamName = s.StreamName()
	s.xout = xout
	in, _ := xout.In("input")

	if snap.Bool("i_low_bandwidth") {
		monitoring.Logf("[Stereo] %s: low bandwidth, encoding disparity at quality %d", s.name, snap.Int("i_low_bandwidth_quality"))
		disp, _ := s.stereo.Out("disparity")
		bits, err := createEncoder(s.env.Pipeline, s.name+"_encoder", disp, snap.Int("i_low_bandwidth_quality"))
		if err != nil {
			return err
		}
		s.enc = bits.Node()
		s.route = RouteEncoded
		return bits.Link(in)
	}
	depth, _ := s.stereo.Out("depth")
	s.route = RouteDirect
	return depth.Link(in)
}

func (s *Stereo) Name() string { return s.name }

// StreamName is the device stream carrying the stereo result.
func (s *Stereo) StreamName() string { return s.name + "_stereo" }

// Route returns the output route decided at build.
func (s *Stereo) Route() Route { return s.route }

// Descriptor returns the StereoDepth descriptor.
func (s *Stereo) Descriptor() *pipeline.Node { return s.stereo }

// Encoder returns the inserted encoder, or nil on the direct route.
func (s *Stereo) Encoder() *pipeline.Node { return s.enc }

// Sensors returns the left and right children.
func (s *Stereo) Sensors() (left, right *Sensor) { return s.left, s.right }

// Variant reports the conversion bound to the stereo stream, or VariantNone
// before SetupQueues.
func (s *Stereo) Variant() Variant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return VariantNone
	}
	return s.bound.variant
}

// Link connects the depth output to in. There is one primary output
// whatever the route, so t is not consulted.
func (s *Stereo) Link(in pipeline.Input, t LinkType) error {
	depth, _ := s.stereo.Out("depth")
	return depth.Link(in)
}

// Input returns the stereo block's left or right input.
func (s *Stereo) Input(t LinkType) (pipeline.Input, error) {
	switch t {
	case LinkLeft:
		return s.stereo.In("left")
	case LinkRight:
		return s.stereo.In("right")
	default:
		return pipeline.Input{}, fmt.Errorf("%s: %w %s", s.name, ErrUnsupportedLinkType, t)
	}
}

func (s *Stereo) variant(snap *params.Snapshot) Variant {
	switch {
	case s.route == RouteDirect:
		return VariantDepth
	case snap.Bool("i_output_disparity"):
		return VariantCompressedDisparity
	default:
		return VariantCompressedDepth
	}
}

// SetupQueues binds the children's streams and then the stereo stream. The
// camera info is computed here, once, with P[3] set to the baseline in
// millimetres.
func (s *Stereo) SetupQueues(dev device.Device) error {
	if err := s.checkSetup(s.name, s.env.Pipeline); err != nil {
		return err
	}
	if err := s.left.SetupQueues(dev); err != nil {
		return err
	}
	if err := s.right.SetupQueues(dev); err != nil {
		s.left.CloseQueues()
		return err
	}

	snap := s.ph.Snapshot()
	frame := "right"
	if snap.Bool("i_align_depth") {
		frame = "rgb"
	}
	b, err := bind(s.env, dev, streamSpec{
		node:    s.name,
		stream:  s.StreamName(),
		pubName: s.name,
		maxQ:    snap.Int("i_max_q_size"),
		frameID: s.env.frameID(frame),
		socket:  pipeline.Socket(snap.Int("i_board_socket_id")),
		width:   snap.Int("i_width"),
		height:  snap.Int("i_height"),
		variant: s.variant(snap),
		withInfo: func(info *msgs.CameraInfo, calib *device.Calibration) {
			info.P[3] = calib.BaselineDistance() * 10.0 // baseline in mm
		},
	})
	if err != nil {
		s.left.CloseQueues()
		s.right.CloseQueues()
		return err
	}

	s.mu.Lock()
	s.bound = b
	s.dev = dev
	s.state = StateQueuesBound
	s.mu.Unlock()
	monitoring.Logf("[Stereo] %s: stream %s bound (%s)", s.name, b.stream, b.variant)
	return nil
}

// UpdateParams applies the batch to the stereo handler and both sensors.
func (s *Stereo) UpdateParams(batch []params.Parameter) error {
	ctrl, err := s.ph.SetRuntimeParams(batch)
	return errors.Join(
		err,
		s.sendControl(s.stereo.Name(), ctrl),
		s.left.UpdateParams(batch),
		s.right.UpdateParams(batch),
	)
}

// CloseQueues closes the sensors' queues, then the stereo queue.
func (s *Stereo) CloseQueues() {
	s.left.CloseQueues()
	s.right.CloseQueues()

	s.mu.Lock()
	b := s.bound
	s.bound = nil
	s.dev = nil
	s.state = StateClosed
	s.mu.Unlock()
	if b != nil {
		b.close()
	}
}

func (s *Stereo) Params() []*params.Handler {
	return []*params.Handler{s.ph.Handler, s.left.ph.Handler, s.right.ph.Handler}
}

func (s *Stereo) Streams() []StreamStatus {
	out := append(s.left.Streams(), s.right.Streams()...)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound != nil {
		out = append(out, s.bound.status())
	}
	return out
}
