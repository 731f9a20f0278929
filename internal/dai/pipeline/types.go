package pipeline

import "fmt"

// Socket identifies a physical camera connector on the device.
type Socket int

const (
	SocketAuto Socket = -1
	SocketCamA Socket = 0 // colour sensor, centre
	SocketCamB Socket = 1 // left mono
	SocketCamC Socket = 2 // right mono
	SocketCamD Socket = 3
	SocketCamE Socket = 4
)

// Conventional aliases used by stereo pairs.
const (
	SocketRGB   = SocketCamA
	SocketLeft  = SocketCamB
	SocketRight = SocketCamC
)

func (s Socket) String() string {
	switch s {
	case SocketAuto:
		return "AUTO"
	case SocketCamA, SocketCamB, SocketCamC, SocketCamD, SocketCamE:
		return fmt.Sprintf("CAM_%c", 'A'+rune(s))
	}
	return fmt.Sprintf("Socket(%d)", int(s))
}

// Valid reports whether s names a connector the device can address.
func (s Socket) Valid() bool {
	return s >= SocketAuto && s <= SocketCamE
}

// Resolution is a sensor readout mode.
type Resolution int

const (
	Resolution400P Resolution = iota
	Resolution480P
	Resolution720P
	Resolution800P
)

// Size returns the native frame size of the readout mode.
func (r Resolution) Size() (width, height int) {
	switch r {
	case Resolution400P:
		return 640, 400
	case Resolution480P:
		return 640, 480
	case Resolution720P:
		return 1280, 720
	case Resolution800P:
		return 1280, 800
	}
	return 0, 0
}

// StereoPreset selects the stereo block's default tuning profile.
type StereoPreset int

const (
	PresetHighAccuracy StereoPreset = iota
	PresetHighDensity
)

// MedianFilter is the post-processing median kernel of the stereo block.
type MedianFilter int

const (
	MedianOff MedianFilter = iota
	Kernel3x3
	Kernel5x5
	Kernel7x7
)

// FreqMod selects which modulation frequencies the ToF block uses.
type FreqMod int

const (
	FreqModAll FreqMod = iota
	FreqModMin
	FreqModMax
)

// EncoderProfile is the on-device video codec.
type EncoderProfile int

const (
	ProfileMJPEG EncoderProfile = iota
)
