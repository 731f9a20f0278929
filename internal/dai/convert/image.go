// Package convert turns raw device frames into outward messages. The
// callbacks built here run on queue delivery goroutines; a frame that
// fails to convert is logged, counted and dropped.
package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/msgs"
)

var (
	ErrShortFrame      = errors.New("frame shorter than its geometry")
	ErrUnsupportedType = errors.New("unsupported frame type")
)

// ImageConverter converts frames for one frame of reference.
type ImageConverter struct {
	frameID string
}

func NewImageConverter(frameID string) *ImageConverter {
	return &ImageConverter{frameID: frameID}
}

func (c *ImageConverter) FrameID() string { return c.frameID }

// Header returns the message header for f.
func (c *ImageConverter) Header(f *device.Frame) msgs.Header {
	return msgs.Header{FrameID: c.frameID, Stamp: f.Timestamp, Seq: f.Sequence}
}

// ToImage converts an uncompressed frame. RAW16 depth becomes 16UC1; 8-bit
// frames become mono8. The pixel data is copied.
func (c *ImageConverter) ToImage(f *device.Frame) (*msgs.Image, error) {
	var enc string
	var bpp int
	switch f.Type {
	case device.FrameRaw16:
		enc, bpp = msgs.Encoding16UC1, 2
	case device.FrameRaw8, device.FrameGray8:
		enc, bpp = msgs.EncodingMono8, 1
	default:
		return nil, fmt.Errorf("%w %s for raw conversion", ErrUnsupportedType, f.Type)
	}
	step := f.Width * bpp
	if need := step * f.Height; len(f.Data) < need {
		return nil, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d", ErrShortFrame, f.Type, f.Width, f.Height, need, len(f.Data))
	}
	return &msgs.Image{
		Header:   c.Header(f),
		Width:    f.Width,
		Height:   f.Height,
		Encoding: enc,
		Step:     step,
		Data:     bytes.Clone(f.Data[:step*f.Height]),
	}, nil
}

// DecodeCompressed decodes a bitstream frame. With decodeType GRAY8 the
// result is the mono8 image. With RAW8 the decoded pixels are disparities
// and are converted to 16UC1 depth in millimetres using the focal length
// P[0] and baseline term P[3] of info.
func (c *ImageConverter) DecodeCompressed(f *device.Frame, decodeType device.FrameType, info *msgs.CameraInfo) (*msgs.Image, error) {
	if f.Type != device.FrameBitstream {
		return nil, fmt.Errorf("%w %s for decode", ErrUnsupportedType, f.Type)
	}
	img, err := imaging.Decode(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("decoding bitstream: %w", err)
	}
	gray := grayPixels(img)
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	out := &msgs.Image{Header: c.Header(f), Width: w, Height: h}
	switch decodeType {
	case device.FrameGray8:
		out.Encoding, out.Step, out.Data = msgs.EncodingMono8, w, gray
	case device.FrameRaw8:
		if info == nil {
			return nil, errors.New("disparity to depth needs camera info")
		}
		out.Encoding, out.Step = msgs.Encoding16UC1, w*2
		out.Data = disparityToDepth(gray, info.P[0], info.P[3])
	default:
		return nil, fmt.Errorf("%w %s as decode target", ErrUnsupportedType, decodeType)
	}
	return out, nil
}

func grayPixels(img image.Image) []byte {
	n := imaging.Grayscale(img)
	b := n.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]byte, w*h)
	for y := 0; y < h; y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < w; x++ {
			out[y*w+x] = row[x*4]
		}
	}
	return out
}

// disparityToDepth maps each disparity d to fx*baseline/d millimetres.
// Zero disparity is invalid and maps to zero depth.
func disparityToDepth(disp []byte, fx, baselineMM float64) []byte {
	out := make([]byte, len(disp)*2)
	for i, d := range disp {
		if d == 0 {
			continue
		}
		mm := math.Round(fx * baselineMM / float64(d))
		if mm > math.MaxUint16 {
			mm = 0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(mm))
	}
	return out
}
