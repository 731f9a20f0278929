package nodes

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/msgs"
	"github.com/banshee-data/depth.relay/internal/dai/params"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/publish"
)

func testEnv(src params.MapSource) (Env, *publish.Hub) {
	hub := publish.NewHub()
	return Env{Pipeline: pipeline.New(), Params: src, Transport: hub, TFPrefix: "oak"}, hub
}

// startStereo builds a stereo node, commits it on a mock device and binds
// its queues.
func startStereo(t *testing.T, src params.MapSource) (*Stereo, *device.MockDevice, *publish.Hub) {
	t.Helper()
	env, hub := testEnv(src)
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)
	dev := device.NewMockDevice(nil)
	require.NoError(t, dev.StartPipeline(env.Pipeline))
	require.NoError(t, s.SetupQueues(dev))
	t.Cleanup(func() {
		s.CloseQueues()
		dev.Close()
	})
	return s, dev, hub
}

func depthFrame(seq int64) *device.Frame {
	return &device.Frame{
		Type:      device.FrameRaw16,
		Width:     4,
		Height:    2,
		Data:      make([]byte, 16),
		Sequence:  seq,
		Timestamp: time.Unix(1000, seq),
	}
}

func jpegFrame(t *testing.T, seq int64) *device.Frame {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 50
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return &device.Frame{Type: device.FrameBitstream, Width: 8, Height: 8, Data: buf.Bytes(), Sequence: seq}
}

func recv(t *testing.T, sub *publish.Subscription) publish.Message {
	t.Helper()
	select {
	case m := <-sub.C:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
	}
	return publish.Message{}
}

func TestStereoInputLinkTypes(t *testing.T) {
	env, _ := testEnv(nil)
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)

	left, err := s.Input(LinkLeft)
	require.NoError(t, err)
	assert.Equal(t, "left", left.Port())
	right, err := s.Input(LinkRight)
	require.NoError(t, err)
	assert.Equal(t, "right", right.Port())

	before := len(env.Pipeline.Links())
	for _, lt := range []LinkType{-1, 2, 42} {
		_, err := s.Input(lt)
		if !errors.Is(err, ErrUnsupportedLinkType) {
			t.Errorf("Input(%d) err = %v, want ErrUnsupportedLinkType", lt, err)
		}
	}
	assert.Equal(t, before, len(env.Pipeline.Links()), "failed requests must not link")

	// Both inputs are already fed by the sensors.
	l, r := s.Sensors()
	assert.Equal(t, StateLinked, l.State())
	src, ok := env.Pipeline.Source(left)
	require.True(t, ok)
	assert.Equal(t, l.Camera(), src.Node())
	src, ok = env.Pipeline.Source(right)
	require.True(t, ok)
	assert.Equal(t, r.Camera(), src.Node())
}

func TestStereoRouteDirect(t *testing.T) {
	env, _ := testEnv(nil)
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)

	assert.Equal(t, RouteDirect, s.Route())
	assert.Nil(t, s.Encoder())
	xout, ok := env.Pipeline.StreamNode("stereo_stereo")
	require.True(t, ok)
	in, _ := xout.In("input")
	src, ok := env.Pipeline.Source(in)
	require.True(t, ok)
	assert.Equal(t, s.Descriptor(), src.Node())
	assert.Equal(t, "depth", src.Port())
}

func TestStereoRouteEncodedIsStable(t *testing.T) {
	s, _, _ := startStereo(t, params.MapSource{
		"stereo.i_low_bandwidth":         params.Bool(true),
		"stereo.i_low_bandwidth_quality": params.Int(80),
	})
	require.Equal(t, RouteEncoded, s.Route())
	require.NotNil(t, s.Encoder())
	assert.Equal(t, 80, s.Encoder().Encoder().Quality)

	// The build-time flag changing at runtime does not move the route.
	require.NoError(t, s.UpdateParams([]params.Parameter{{Name: "stereo.i_low_bandwidth", Value: params.Bool(false)}}))
	for i := 0; i < 3; i++ {
		assert.Equal(t, RouteEncoded, s.Route())
	}
	assert.Equal(t, VariantCompressedDepth, s.Variant())
	assert.Contains(t, s.ph.Pending(), "i_low_bandwidth")
}

func TestStereoVariants(t *testing.T) {
	tests := []struct {
		name      string
		lowBW     bool
		disparity bool
		want      Variant
	}{
		{"direct", false, false, VariantDepth},
		{"direct ignores disparity flag", false, true, VariantDepth},
		{"compressed disparity", true, true, VariantCompressedDisparity},
		{"compressed depth", true, false, VariantCompressedDepth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev, _ := startStereo(t, params.MapSource{
				"stereo.i_low_bandwidth":    params.Bool(tt.lowBW),
				"stereo.i_output_disparity": params.Bool(tt.disparity),
			})
			assert.Equal(t, tt.want, s.Variant())
			assert.Equal(t, StateQueuesBound, s.State())

			streams := s.Streams()
			require.Len(t, streams, 1)
			assert.Equal(t, tt.want.String(), streams[0].Variant)
			q, ok := dev.Queue("stereo_stereo")
			require.True(t, ok)
			assert.Equal(t, 1, q.Stats().Callbacks, "exactly one conversion bound")
		})
	}
}

func TestStereoBaselineInEveryFrame(t *testing.T) {
	s, dev, hub := startStereo(t, nil)
	sub, err := hub.Subscribe("stereo", 64)
	require.NoError(t, err)

	ctx := context.Background()
	const n = 20
	for i := int64(0); i < n; i++ {
		require.NoError(t, dev.Emit(ctx, s.StreamName(), depthFrame(i)))
	}
	for i := int64(0); i < n; i++ {
		m := recv(t, sub)
		assert.Equal(t, "stereo/image_raw", m.Topic)
		assert.Equal(t, i, m.Image.Header.Seq, "frames arrive in order")
		assert.Equal(t, 75.0, m.Info.P[3], "frame %d", i)
		assert.Equal(t, "oak_rgb_camera_optical_frame", m.Info.Header.FrameID)
		assert.Equal(t, m.Image.Header, m.Info.Header)
		// Mutating a delivered info must not leak into later frames.
		m.Info.P[3] = -1
	}
}

func TestStereoCompressedDepthFrames(t *testing.T) {
	s, dev, hub := startStereo(t, params.MapSource{
		"stereo.i_low_bandwidth": params.Bool(true),
		"stereo.i_align_depth":   params.Bool(false),
	})
	sub, err := hub.Subscribe("", 4)
	require.NoError(t, err)

	require.NoError(t, dev.Emit(context.Background(), s.StreamName(), jpegFrame(t, 1)))
	m := recv(t, sub)
	assert.Equal(t, msgs.Encoding16UC1, m.Image.Encoding)
	assert.Equal(t, "oak_right_camera_optical_frame", m.Image.Header.FrameID)
	assert.Equal(t, 75.0, m.Info.P[3])

	// A broken bitstream is dropped and delivery carries on.
	require.NoError(t, dev.Emit(context.Background(), s.StreamName(), &device.Frame{Type: device.FrameBitstream, Data: []byte("junk"), Sequence: 2}))
	require.NoError(t, dev.Emit(context.Background(), s.StreamName(), jpegFrame(t, 3)))
	m = recv(t, sub)
	assert.Equal(t, int64(3), m.Image.Header.Seq)
	assert.Equal(t, int64(1), s.Streams()[0].Convert.Failed)
}

func TestSetupQueuesBeforeCommit(t *testing.T) {
	env, _ := testEnv(nil)
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)
	err = s.SetupQueues(device.NewMockDevice(nil))
	assert.ErrorIs(t, err, ErrNotCommitted)
	assert.Equal(t, StateLinked, s.State())
}

func TestSetupQueuesCalibrationError(t *testing.T) {
	env, hub := testEnv(nil)
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)
	dev := device.NewMockDevice(nil)
	require.NoError(t, dev.StartPipeline(env.Pipeline))
	boom := errors.New("eeprom unreadable")
	dev.SetCalibrationError(boom)

	err = s.SetupQueues(dev)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, hub.Topics(), "no publisher left behind")
	_, ok := dev.Queue(s.StreamName())
	assert.False(t, ok)
}

func TestCloseBeforeDelivery(t *testing.T) {
	s, _, _ := startStereo(t, nil)
	done := make(chan struct{})
	go func() {
		s.CloseQueues()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseQueues blocked with no frames delivered")
	}
	assert.Equal(t, StateClosed, s.State())
	l, r := s.Sensors()
	assert.Equal(t, StateClosed, l.State())
	assert.Equal(t, StateClosed, r.State())
	s.CloseQueues()
}

// gatedTransport blocks every publish until release is closed.
type gatedTransport struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTransport) CameraPublisher(name string) (publish.CameraPublisher, error) {
	return &gatedPublisher{g: g, topic: publish.ImageTopic(name)}, nil
}

type gatedPublisher struct {
	g     *gatedTransport
	topic string
}

func (p *gatedPublisher) Publish(*msgs.Image, *msgs.CameraInfo) error {
	p.g.once.Do(func() { close(p.g.entered) })
	<-p.g.release
	return nil
}
func (p *gatedPublisher) Topic() string { return p.topic }
func (p *gatedPublisher) Close()        {}

func TestCloseDuringDelivery(t *testing.T) {
	gate := &gatedTransport{entered: make(chan struct{}), release: make(chan struct{})}
	env := Env{Pipeline: pipeline.New(), Transport: gate}
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)
	dev := device.NewMockDevice(nil)
	require.NoError(t, dev.StartPipeline(env.Pipeline))
	require.NoError(t, s.SetupQueues(dev))

	ctx := context.Background()
	for i := int64(0); i < 5; i++ {
		require.NoError(t, dev.Emit(ctx, s.StreamName(), depthFrame(i)))
	}
	<-gate.entered

	done := make(chan struct{})
	go func() {
		s.CloseQueues()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	close(gate.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseQueues deadlocked with a delivery in flight")
	}
	err = dev.Emit(ctx, s.StreamName(), depthFrame(9))
	assert.ErrorIs(t, err, device.ErrQueueClosed)
}

func TestStereoUpdateParamsMixedBatch(t *testing.T) {
	s, dev, _ := startStereo(t, nil)
	err := s.UpdateParams([]params.Parameter{
		{Name: "tof.i_freq_mod_used", Value: params.String("F_MOD_MIN")},
		{Name: "stereo.r_confidence_threshold", Value: params.Int(180)},
	})
	require.NoError(t, err)

	ctrls := dev.Controls()
	require.Len(t, ctrls, 1)
	assert.Equal(t, "stereo", ctrls[0].Node)
	v, ok := ctrls[0].Control.Get(device.CtrlConfidenceThreshold)
	require.True(t, ok)
	assert.Equal(t, 180, v)

	err = s.UpdateParams([]params.Parameter{
		{Name: "left.r_set_man_exposure", Value: params.Bool(true)},
		{Name: "stereo.r_median_filter", Value: params.String("KERNEL_9x9")},
	})
	require.ErrorIs(t, err, params.ErrUnknownEnum)
	ctrls = dev.Controls()
	require.Len(t, ctrls, 2)
	assert.Equal(t, "left_camera", ctrls[1].Node)
	assert.Equal(t, "KERNEL_7x7", s.ph.Snapshot().Str("r_median_filter"))
}

func TestUpdateParamsWithoutDevice(t *testing.T) {
	env, _ := testEnv(nil)
	s, err := NewStereo(env, "stereo")
	require.NoError(t, err)
	err = s.UpdateParams([]params.Parameter{{Name: "stereo.r_lrc_threshold", Value: params.Int(3)}})
	assert.ErrorIs(t, err, ErrNoDevice)
}

func TestSensorPublishesOwnStream(t *testing.T) {
	env, hub := testEnv(params.MapSource{"left.i_publish_topic": params.Bool(true)})
	s, err := NewSensor(env, "left", pipeline.SocketLeft, false)
	require.NoError(t, err)
	dev := device.NewMockDevice(nil)
	require.NoError(t, dev.StartPipeline(env.Pipeline))
	require.NoError(t, s.SetupQueues(dev))
	defer s.CloseQueues()

	_, err = s.Input(LinkLeft)
	assert.ErrorIs(t, err, ErrUnsupportedLinkType)

	sub, err := hub.Subscribe("left", 2)
	require.NoError(t, err)
	f := &device.Frame{Type: device.FrameGray8, Width: 2, Height: 2, Data: []byte{1, 2, 3, 4}}
	require.NoError(t, dev.Emit(context.Background(), "left_mono", f))
	m := recv(t, sub)
	assert.Equal(t, msgs.EncodingMono8, m.Image.Encoding)
	assert.Equal(t, "oak_left_camera_optical_frame", m.Image.Header.FrameID)
	assert.Equal(t, 0.0, m.Info.P[3])
}

func TestToFNode(t *testing.T) {
	env, hub := testEnv(params.MapSource{"tof.i_freq_mod_used": params.String("F_MOD_ALL")})
	n, err := NewToF(env, "tof")
	require.NoError(t, err)
	assert.Equal(t, pipeline.FreqModAll, n.Descriptor().ToF().FreqModUsed)
	_, err = n.Input(LinkRight)
	assert.ErrorIs(t, err, ErrUnsupportedLinkType)

	dev := device.NewMockDevice(nil)
	require.NoError(t, dev.StartPipeline(env.Pipeline))
	require.NoError(t, n.SetupQueues(dev))
	defer n.CloseQueues()
	assert.Equal(t, []string{"tof/image_raw"}, hub.Topics())

	sub, err := hub.Subscribe("tof", 2)
	require.NoError(t, err)
	require.NoError(t, dev.Emit(context.Background(), n.StreamName(), depthFrame(4)))
	m := recv(t, sub)
	assert.Equal(t, msgs.Encoding16UC1, m.Image.Encoding)
	assert.Equal(t, 640, m.Info.Width)

	require.NoError(t, n.UpdateParams([]params.Parameter{{Name: "tof.i_avg_phase_shuffle", Value: params.Bool(true)}}))
	assert.Empty(t, dev.Controls(), "ToF has no live controls")
}

func TestToFUnknownEnumFailsBuild(t *testing.T) {
	env, _ := testEnv(params.MapSource{"tof.i_freq_mod_used": params.String("F_MOD_HALF")})
	_, err := NewToF(env, "tof")
	assert.ErrorIs(t, err, params.ErrUnknownEnum)
}
