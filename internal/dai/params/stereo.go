package params

import (
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
)

// StereoHandler owns the parameters of a stereo-depth node.
type StereoHandler struct {
	*Handler
}

func NewStereoHandler(name string) *StereoHandler {
	return &StereoHandler{Handler: NewHandler(name)}
}

// DeclareParams declares every stereo option, reading overrides from src,
// and writes the initial configuration onto the StereoDepth descriptor. On
// error the descriptor is left as it was.
func (h *StereoHandler) DeclareParams(src Source, stereo *pipeline.Node) error {
	cfg := stereo.Stereo()
	if cfg == nil {
		return fmt.Errorf("stereo params: node %q is a %s", stereo.Name(), stereo.Kind())
	}

	d := h.Declarer(src)
	d.Int("i_max_q_size", 30, Range(1, 1024), Describe("output queue depth"))
	d.Bool("i_low_bandwidth", false, Describe("route output through the on-device encoder"))
	d.Int("i_low_bandwidth_quality", 50, Range(1, 100))
	d.Enum("i_encoder_profile", "MJPEG", EncoderProfiles)
	d.Bool("i_output_disparity", false, Describe("publish disparity instead of depth when compressed"))
	align := d.Bool("i_align_depth", true)
	defSocket := pipeline.SocketRight
	if align {
		defSocket = pipeline.SocketRGB
	}
	d.Int("i_board_socket_id", int(defSocket), Range(0, 4), Describe("socket whose calibration is reported"))
	width := d.Int("i_width", 1280, Range(1, 4096))
	height := d.Int("i_height", 720, Range(1, 4096))
	preset := d.Enum("i_depth_preset", "HIGH_ACCURACY", DepthPresets)
	lrCheck := d.Bool("i_lr_check", true)
	subpixel := d.Bool("i_subpixel", false)
	extended := d.Bool("i_extended_disp", false)
	fill := d.Int("i_rectify_edge_fill_color", 0, Range(0, 255))
	conf := d.Int("r_confidence_threshold", 240, Range(0, 255), Runtime())
	lrc := d.Int("r_lrc_threshold", 10, Range(0, 10), Runtime())
	median := d.Enum("r_median_filter", "KERNEL_7x7", MedianFilters, Runtime())
	if err := d.Err(); err != nil {
		return err
	}

	cfg.Preset = pipeline.StereoPreset(preset)
	cfg.LRCheck = lrCheck
	cfg.Subpixel = subpixel
	cfg.ExtendedDisparity = extended
	cfg.RectifyEdgeFillColor = fill
	cfg.ConfidenceThreshold = conf
	cfg.LRCheckThreshold = lrc
	cfg.MedianFilter = pipeline.MedianFilter(median)
	if align {
		cfg.DepthAlign = pipeline.SocketRGB
		cfg.OutputWidth, cfg.OutputHeight = width, height
	} else {
		cfg.DepthAlign = pipeline.SocketAuto
		cfg.OutputWidth, cfg.OutputHeight = 0, 0
	}
	return nil
}

// SetRuntimeParams applies the owned entries of batch and returns the
// stereo control for the values that changed.
func (h *StereoHandler) SetRuntimeParams(batch []Parameter) (device.Control, error) {
	changed, err := h.Update(batch)
	var ctrl device.Control
	for _, p := range changed {
		switch p.Name {
		case "r_confidence_threshold":
			ctrl.Set(device.CtrlConfidenceThreshold, p.Value.Int())
		case "r_lrc_threshold":
			ctrl.Set(device.CtrlLRCheckThreshold, p.Value.Int())
		case "r_median_filter":
			ctrl.Set(device.CtrlMedianFilter, pipeline.MedianFilter(MedianFilters[p.Value.Str()]))
		}
	}
	return ctrl, err
}
