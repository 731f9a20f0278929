package params

import "github.com/banshee-data/depth.relay/internal/dai/pipeline"

// Label tables for enumerated options.
var (
	DepthPresets = map[string]int{
		"HIGH_ACCURACY": int(pipeline.PresetHighAccuracy),
		"HIGH_DENSITY":  int(pipeline.PresetHighDensity),
	}
	MedianFilters = map[string]int{
		"MEDIAN_OFF": int(pipeline.MedianOff),
		"KERNEL_3x3": int(pipeline.Kernel3x3),
		"KERNEL_5x5": int(pipeline.Kernel5x5),
		"KERNEL_7x7": int(pipeline.Kernel7x7),
	}
	Resolutions = map[string]int{
		"400P": int(pipeline.Resolution400P),
		"480P": int(pipeline.Resolution480P),
		"720P": int(pipeline.Resolution720P),
		"800P": int(pipeline.Resolution800P),
	}
	FreqMods = map[string]int{
		"F_MOD_ALL": int(pipeline.FreqModAll),
		"F_MOD_MIN": int(pipeline.FreqModMin),
		"F_MOD_MAX": int(pipeline.FreqModMax),
	}
	EncoderProfiles = map[string]int{
		"MJPEG": int(pipeline.ProfileMJPEG),
	}
)
