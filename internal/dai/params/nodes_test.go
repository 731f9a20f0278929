package params

import (
	"testing"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreate(t *testing.T, p *pipeline.Pipeline, k pipeline.Kind, name string) *pipeline.Node {
	t.Helper()
	n, err := p.Create(k, name)
	require.NoError(t, err)
	return n
}

func TestStereoDeclareParams(t *testing.T) {
	p := pipeline.New()
	n := mustCreate(t, p, pipeline.KindStereoDepth, "stereo")
	h := NewStereoHandler("stereo")
	require.NoError(t, h.DeclareParams(MapSource{
		"stereo.i_subpixel":       Bool(true),
		"stereo.i_width":          Int(640),
		"stereo.i_height":         Int(400),
		"stereo.r_median_filter": String("KERNEL_3x3"),
	}, n))

	cfg := n.Stereo()
	assert.Equal(t, pipeline.PresetHighAccuracy, cfg.Preset)
	assert.True(t, cfg.Subpixel)
	assert.Equal(t, pipeline.Kernel3x3, cfg.MedianFilter)
	assert.Equal(t, 240, cfg.ConfidenceThreshold)
	assert.Equal(t, pipeline.SocketRGB, cfg.DepthAlign)
	assert.Equal(t, 640, cfg.OutputWidth)
	assert.Equal(t, 400, cfg.OutputHeight)
	assert.Equal(t, int(pipeline.SocketRGB), h.Snapshot().Int("i_board_socket_id"))
}

func TestStereoUnalignedSocketDefault(t *testing.T) {
	p := pipeline.New()
	n := mustCreate(t, p, pipeline.KindStereoDepth, "stereo")
	h := NewStereoHandler("stereo")
	require.NoError(t, h.DeclareParams(MapSource{"stereo.i_align_depth": Bool(false)}, n))
	assert.Equal(t, int(pipeline.SocketRight), h.Snapshot().Int("i_board_socket_id"))
	assert.Equal(t, pipeline.SocketAuto, n.Stereo().DepthAlign)
	assert.Zero(t, n.Stereo().OutputWidth)
}

func TestStereoUnknownEnumLeavesDescriptor(t *testing.T) {
	p := pipeline.New()
	n := mustCreate(t, p, pipeline.KindStereoDepth, "stereo")
	before := *n.Stereo()

	h := NewStereoHandler("stereo")
	err := h.DeclareParams(MapSource{
		"stereo.i_subpixel":     Bool(true),
		"stereo.i_depth_preset": String("HIGH_SPEED"),
	}, n)
	require.ErrorIs(t, err, ErrUnknownEnum)
	assert.Contains(t, err.Error(), "stereo.i_depth_preset")
	assert.Equal(t, before, *n.Stereo())
}

func TestStereoWrongNodeKind(t *testing.T) {
	p := pipeline.New()
	n := mustCreate(t, p, pipeline.KindCamera, "cam")
	assert.Error(t, NewStereoHandler("cam").DeclareParams(nil, n))
}

func TestStereoRuntimeDelta(t *testing.T) {
	p := pipeline.New()
	n := mustCreate(t, p, pipeline.KindStereoDepth, "stereo")
	h := NewStereoHandler("stereo")
	require.NoError(t, h.DeclareParams(nil, n))

	ctrl, err := h.SetRuntimeParams([]Parameter{
		{Name: "left.r_exposure", Value: Int(500)},
		{Name: "stereo.r_confidence_threshold", Value: Int(200)},
	})
	require.NoError(t, err)
	assert.False(t, ctrl.Empty())
	assert.Equal(t, []string{device.CtrlConfidenceThreshold}, ctrl.Keys())
	v, _ := ctrl.Get(device.CtrlConfidenceThreshold)
	assert.Equal(t, 200, v)

	ctrl, err = h.SetRuntimeParams([]Parameter{
		{Name: "stereo.r_median_filter", Value: String("MEDIAN_OFF")},
		{Name: "stereo.r_lrc_threshold", Value: Int(99)},
	})
	require.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, []string{device.CtrlMedianFilter}, ctrl.Keys())
	v, _ = ctrl.Get(device.CtrlMedianFilter)
	assert.Equal(t, pipeline.MedianOff, v)
	assert.Equal(t, 10, h.Snapshot().Int("r_lrc_threshold"))

	ctrl, err = h.SetRuntimeParams([]Parameter{{Name: "stereo.r_confidence_threshold", Value: Int(200)}})
	require.NoError(t, err)
	assert.True(t, ctrl.Empty(), "unchanged value yields no delta")
}

func TestSensorExposureControl(t *testing.T) {
	p := pipeline.New()
	cam := mustCreate(t, p, pipeline.KindCamera, "left_camera")
	h := NewSensorHandler("left")
	require.NoError(t, h.DeclareParams(MapSource{"left.i_resolution": String("800P")}, cam, pipeline.SocketLeft, false))

	assert.Equal(t, pipeline.SocketLeft, cam.Camera().BoardSocket)
	assert.Equal(t, pipeline.Resolution800P, cam.Camera().Resolution)
	assert.Equal(t, 800, h.Snapshot().Int("i_height"))
	assert.False(t, h.Snapshot().Bool("i_publish_topic"))

	ctrl, err := h.SetRuntimeParams([]Parameter{{Name: "left.r_exposure", Value: Int(2000)}})
	require.NoError(t, err)
	assert.True(t, ctrl.Empty(), "exposure ignored in auto mode")

	ctrl, err = h.SetRuntimeParams([]Parameter{{Name: "left.r_set_man_exposure", Value: Bool(true)}})
	require.NoError(t, err)
	exp, _ := ctrl.Get(device.CtrlExposureTime)
	iso, _ := ctrl.Get(device.CtrlSensitivityISO)
	assert.Equal(t, 2000, exp)
	assert.Equal(t, 800, iso)

	ctrl, err = h.SetRuntimeParams([]Parameter{{Name: "left.r_set_man_exposure", Value: Bool(false)}})
	require.NoError(t, err)
	assert.Equal(t, []string{device.CtrlAutoExposure}, ctrl.Keys())
}

func TestToFDeclareParams(t *testing.T) {
	p := pipeline.New()
	cam := mustCreate(t, p, pipeline.KindCamera, "tof_camera")
	tof := mustCreate(t, p, pipeline.KindToF, "tof_block")
	h := NewToFHandler("tof")
	require.NoError(t, h.DeclareParams(MapSource{
		"tof.i_freq_mod_used":     String("F_MOD_MIN"),
		"tof.i_minimum_amplitude": Int(5),
	}, cam, tof))

	assert.Equal(t, pipeline.SocketCamA, cam.Camera().BoardSocket)
	assert.Equal(t, pipeline.FreqModMin, tof.ToF().FreqModUsed)
	assert.Equal(t, 5.0, tof.ToF().MinimumAmplitude)
	assert.False(t, tof.ToF().AvgPhaseShuffle)

	ctrl, err := h.SetRuntimeParams([]Parameter{{Name: "tof.i_avg_phase_shuffle", Value: Bool(true)}})
	require.NoError(t, err)
	assert.True(t, ctrl.Empty())
	assert.Contains(t, h.Pending(), "i_avg_phase_shuffle")
}

func TestToFUnknownFreqMod(t *testing.T) {
	p := pipeline.New()
	cam := mustCreate(t, p, pipeline.KindCamera, "tof_camera")
	tof := mustCreate(t, p, pipeline.KindToF, "tof_block")
	err := NewToFHandler("tof").DeclareParams(MapSource{"tof.i_freq_mod_used": String("F_MOD_MID")}, cam, tof)
	require.ErrorIs(t, err, ErrUnknownEnum)
	assert.Equal(t, pipeline.FreqModMax, tof.ToF().FreqModUsed)
	assert.Equal(t, pipeline.SocketAuto, cam.Camera().BoardSocket)
}
