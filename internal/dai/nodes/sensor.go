package nodes

import (
	"errors"
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/monitoring"
)

// Sensor wraps one camera socket. It optionally publishes its own stream,
// "<name>_mono", directly or through an MJPEG encoder.
type Sensor struct {
	lifecycle
	name   string
	env    Env
	ph     *params.SensorHandler
	cam    *pipeline.Node
	stream string
	bound  *binding
}

var _ Node = (*Sensor)(nil)

// NewSensor creates the camera descriptor on socket and declares its
// parameters. publish is the default for i_publish_topic.
func NewSensor(env Env, name string, socket pipeline.Socket, publish bool) (*Sensor, error) {
	cam, err := env.Pipeline.Create(pipeline.KindCamera, name+"_camera")
	if err != nil {
		return nil, err
	}
	s := &Sensor{name: name, env: env, cam: cam, ph: params.NewSensorHandler(name)}
	if err := s.ph.DeclareParams(env.Params, cam, socket, publish); err != nil {
		return nil, err
	}

	snap := s.ph.Snapshot()
	if snap.Bool("i_publish_topic") {
		s.stream = name + "_mono"
		xout, err := env.Pipeline.Create(pipeline.KindXLinkOut, s.stream)
		if err != nil {
			return nil, err
		}
		xout.XLinkOut().StreamName = s.stream
		src, _ := cam.Out("out")
		if snap.Bool("i_low_bandwidth") {
			if src, err = createEncoder(env.Pipeline, name+"_encoder", src, snap.Int("i_low_bandwidth_quality")); err != nil {
				return nil, err
			}
		}
		in, _ := xout.In("input")
		if err := src.Link(in); err != nil {
			return nil, err
		}
	}
	s.set(StateLinked)
	monitoring.Debugf("[Sensor] %s created on %s", name, cam.Camera().BoardSocket)
	return s, nil
}

// createEncoder inserts an MJPEG encoder after src and returns its
// bitstream output.
func createEncoder(p *pipeline.Pipeline, name string, src pipeline.Output, quality int) (pipeline.Output, error) {
	enc, err := p.Create(pipeline.KindVideoEncoder, name)
	if err != nil {
		return pipeline.Output{}, err
	}
	cfg := enc.Encoder()
	cfg.Profile = pipeline.ProfileMJPEG
	cfg.Quality = quality
	in, _ := enc.In("input")
	if err := src.Link(in); err != nil {
		return pipeline.Output{}, err
	}
	return enc.Out("bitstream")
}

func (s *Sensor) Name() string { return s.name }

// Camera returns the camera descriptor.
func (s *Sensor) Camera() *pipeline.Node { return s.cam }

// Link connects the camera output to in. Sensors have one output, so t is
// not consulted.
func (s *Sensor) Link(in pipeline.Input, t LinkType) error {
	out, _ := s.cam.Out("out")
	return out.Link(in)
}

// Input fails for every link type; a sensor takes no data input.
func (s *Sensor) Input(t LinkType) (pipeline.Input, error) {
	return pipeline.Input{}, fmt.Errorf("%s: %w %s", s.name, ErrUnsupportedLinkType, t)
}

func (s *Sensor) SetupQueues(dev device.Device) error {
	if err := s.checkSetup(s.name, s.env.Pipeline); err != nil {
		return err
	}
	if s.stream != "" {
		snap := s.ph.Snapshot()
		variant := VariantMono
		if snap.Bool("i_low_bandwidth") {
			variant = VariantCompressedMono
		}
		b, err := bind(s.env, dev, streamSpec{
			node:    s.name,
			stream:  s.stream,
			pubName: s.name,
			maxQ:    snap.Int("i_max_q_size"),
			frameID: s.env.frameID(s.name),
			socket:  pipeline.Socket(snap.Int("i_board_socket_id")),
			width:   snap.Int("i_width"),
			height:  snap.Int("i_height"),
			variant: variant,
		})
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.bound = b
		s.mu.Unlock()
	}
	s.mu.Lock()
	s.dev = dev
	s.state = StateQueuesBound
	s.mu.Unlock()
	return nil
}

func (s *Sensor) UpdateParams(batch []params.Parameter) error {
	ctrl, err := s.ph.SetRuntimeParams(batch)
	return errors.Join(err, s.sendControl(s.cam.Name(), ctrl))
}

func (s *Sensor) CloseQueues() {
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

func (s *Sensor) Params() []*params.Handler { return []*params.Handler{s.ph.Handler} }

func (s *Sensor) Streams() []StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bound == nil {
		return nil
	}
	return []StreamStatus{s.bound.status()}
}
