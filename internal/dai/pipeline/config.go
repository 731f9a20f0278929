package pipeline

// Config is the initial configuration carried by a node descriptor. The set
// of implementations is closed; one per Kind.
type Config interface {
	kind() Kind
}

// CameraConfig configures a Camera node.
type CameraConfig struct {
	BoardSocket Socket     `json:"board_socket"`
	Resolution  Resolution `json:"resolution"`
	FPS         float64    `json:"fps"`
}

// StereoConfig configures a StereoDepth node.
type StereoConfig struct {
	Preset               StereoPreset `json:"preset"`
	ConfidenceThreshold  int          `json:"confidence_threshold"`
	LRCheck              bool         `json:"lr_check"`
	LRCheckThreshold     int          `json:"lr_check_threshold"`
	Subpixel             bool         `json:"subpixel"`
	ExtendedDisparity    bool         `json:"extended_disparity"`
	MedianFilter         MedianFilter `json:"median_filter"`
	RectifyEdgeFillColor int          `json:"rectify_edge_fill_color"`
	// DepthAlign is SocketAuto when depth stays aligned to the rectified
	// right sensor.
	DepthAlign   Socket `json:"depth_align"`
	OutputWidth  int    `json:"output_width,omitempty"`
	OutputHeight int    `json:"output_height,omitempty"`
}

// EncoderConfig configures a VideoEncoder node.
type EncoderConfig struct {
	Profile   EncoderProfile `json:"profile"`
	Quality   int            `json:"quality"`
	FrameRate float64        `json:"frame_rate"`
}

// XLinkOutConfig configures the device-to-host stream endpoint.
type XLinkOutConfig struct {
	StreamName string `json:"stream_name"`
}

// ToFConfig configures a ToF node.
type ToFConfig struct {
	AvgPhaseShuffle  bool    `json:"avg_phase_shuffle"`
	MinimumAmplitude float64 `json:"minimum_amplitude"`
	FreqModUsed      FreqMod `json:"freq_mod_used"`
}

func (*CameraConfig) kind() Kind   { return KindCamera }
func (*StereoConfig) kind() Kind   { return KindStereoDepth }
func (*EncoderConfig) kind() Kind  { return KindVideoEncoder }
func (*XLinkOutConfig) kind() Kind { return KindXLinkOut }
func (*ToFConfig) kind() Kind      { return KindToF }

func defaultConfig(k Kind) Config {
	switch k {
	case KindCamera:
		return &CameraConfig{BoardSocket: SocketAuto, Resolution: Resolution720P, FPS: 30}
	case KindStereoDepth:
		return &StereoConfig{
			Preset:              PresetHighDensity,
			ConfidenceThreshold: 240,
			LRCheck:             true,
			LRCheckThreshold:    10,
			MedianFilter:        Kernel7x7,
			DepthAlign:          SocketAuto,
		}
	case KindVideoEncoder:
		return &EncoderConfig{Profile: ProfileMJPEG, Quality: 50, FrameRate: 30}
	case KindXLinkOut:
		return &XLinkOutConfig{}
	case KindToF:
		return &ToFConfig{MinimumAmplitude: 3.0, FreqModUsed: FreqModMax}
	}
	return nil
}
