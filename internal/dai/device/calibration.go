package device

import (
	"fmt"

	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
)

// Intrinsics is the pinhole model of one sensor, measured at Width x Height.
type Intrinsics struct {
	Width  int           `json:"width"`
	Height int           `json:"height"`
	K      [3][3]float64 `json:"k"`
	D      []float64     `json:"d"`
}

// Calibration is the factory calibration read back from the device.
type Calibration struct {
	// Baseline is the distance between the stereo pair in centimetres.
	Baseline float64                        `json:"baseline_cm"`
	Cameras  map[pipeline.Socket]Intrinsics `json:"cameras"`
}

// BaselineDistance returns the stereo baseline in centimetres.
func (c *Calibration) BaselineDistance() float64 {
	return c.Baseline
}

// CameraIntrinsics returns the intrinsics recorded for socket.
func (c *Calibration) CameraIntrinsics(socket pipeline.Socket) (Intrinsics, error) {
	in, ok := c.Cameras[socket]
	if !ok {
		return Intrinsics{}, fmt.Errorf("%w %s", ErrNoCalibration, socket)
	}
	return in, nil
}

// DefaultCalibration resembles a typical 7.5cm baseline stereo module with
// 1280x800 mono sensors and a 1920x1080 colour sensor.
func DefaultCalibration() *Calibration {
	mono := Intrinsics{
		Width:  1280,
		Height: 800,
		K: [3][3]float64{
			{798.2, 0, 655.3},
			{0, 798.2, 402.1},
			{0, 0, 1},
		},
		D: []float64{-4.1, 13.2, 0.0012, -0.0008, -13.9, -4.2, 13.4, -14.0},
	}
	rgb := Intrinsics{
		Width:  1920,
		Height: 1080,
		K: [3][3]float64{
			{1490.8, 0, 963.1},
			{0, 1490.8, 541.6},
			{0, 0, 1},
		},
		D: []float64{1.9, -21.1, 0.0003, 0.0009, 72.0, 1.7, -20.6, 70.7},
	}
	return &Calibration{
		Baseline: 7.5,
		Cameras: map[pipeline.Socket]Intrinsics{
			pipeline.SocketRGB:   rgb,
			pipeline.SocketLeft:  mono,
			pipeline.SocketRight: mono,
		},
	}
}
