package convert

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/msgs"
	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
)

// CameraInfo builds the camera info of socket at width x height from the
// device calibration. The intrinsics are scaled from the calibrated size;
// the projection is [K|0] and R is identity.
func CameraInfo(calib *device.Calibration, socket pipeline.Socket, width, height int, frameID string) (*msgs.CameraInfo, error) {
	in, err := calib.CameraIntrinsics(socket)
	if err != nil {
		return nil, err
	}
	if in.Width <= 0 || in.Height <= 0 || width <= 0 || height <= 0 {
		return nil, fmt.Errorf("camera info %s: invalid size %dx%d from %dx%d", socket, width, height, in.Width, in.Height)
	}

	k := mat.NewDense(3, 3, nil)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			k.Set(r, c, in.K[r][c])
		}
	}
	scale := mat.NewDiagDense(3, []float64{
		float64(width) / float64(in.Width),
		float64(height) / float64(in.Height),
		1,
	})
	var ks mat.Dense
	ks.Mul(scale, k)

	proj := mat.NewDense(3, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
	})
	var p mat.Dense
	p.Mul(&ks, proj)

	info := &msgs.CameraInfo{
		Header:          msgs.Header{FrameID: frameID},
		Width:           width,
		Height:          height,
		DistortionModel: distortionModel(len(in.D)),
		D:               append([]float64(nil), in.D...),
		R:               [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1},
	}
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			info.K[r*3+c] = ks.At(r, c)
		}
		for c := 0; c < 4; c++ {
			info.P[r*4+c] = p.At(r, c)
		}
	}
	return info, nil
}

func distortionModel(n int) string {
	if n > 5 {
		return "rational_polynomial"
	}
	return "plumb_bob"
}

// InfoCache holds the camera info computed when a queue is bound. It is
// immutable; every frame gets its own stamped copy.
type InfoCache struct {
	info *msgs.CameraInfo
}

func NewInfoCache(info *msgs.CameraInfo) *InfoCache {
	return &InfoCache{info: info.Clone()}
}

// Info returns a copy of the cached info.
func (c *InfoCache) Info() *msgs.CameraInfo { return c.info.Clone() }

// Stamped returns a copy of the cached info carrying h.
func (c *InfoCache) Stamped(h msgs.Header) *msgs.CameraInfo {
	out := c.info.Clone()
	out.Header = h
	return out
}
