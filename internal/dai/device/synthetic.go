package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"

	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/monitoring"
)

// RunSynthetic emits generated frames on every acquired stream of the
// running pipeline at fps until ctx is cancelled. The frame layout follows
// whatever feeds the stream endpoint: depth ramps for stereo and ToF depth,
// MJPEG for encoder bitstreams, grey gradients for cameras.
func (m *MockDevice) RunSynthetic(ctx context.Context, fps float64) error {
	if fps <= 0 {
		return fmt.Errorf("synthetic fps must be positive, got %v", fps)
	}
	m.mu.Lock()
	clock := m.clock
	m.mu.Unlock()
	ticker := clock.NewTicker(time.Duration(float64(time.Second) / fps))
	defer ticker.Stop()

	seq := make(map[string]int64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			m.mu.Lock()
			p := m.pipe
			queues := make(map[string]*Queue, len(m.queues))
			for k, v := range m.queues {
				queues[k] = v
			}
			m.mu.Unlock()
			if p == nil {
				continue
			}
			for name, q := range queues {
				f, err := syntheticFrame(p, name, seq[name], now)
				if err != nil {
					monitoring.Debugf("[MockDevice] %s: %v", name, err)
					continue
				}
				seq[name]++
				if err := q.Send(ctx, f); err != nil && !errors.Is(err, ErrQueueClosed) {
					return err
				}
			}
		}
	}
}

func syntheticFrame(p *pipeline.Pipeline, stream string, seq int64, now time.Time) (*Frame, error) {
	xout, ok := p.StreamNode(stream)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownStream, stream)
	}
	in, err := xout.In("input")
	if err != nil {
		return nil, err
	}
	src, ok := p.Source(in)
	if !ok {
		return nil, fmt.Errorf("stream %q has no source", stream)
	}

	f := &Frame{Sequence: seq, Timestamp: now, Instance: pipeline.SocketRight}
	switch n := src.Node(); n.Kind() {
	case pipeline.KindStereoDepth:
		cfg := n.Stereo()
		f.Width, f.Height = 640, 400
		if cfg.OutputWidth > 0 && cfg.OutputHeight > 0 {
			f.Width, f.Height = cfg.OutputWidth, cfg.OutputHeight
		}
		if src.Port() == "disparity" {
			f.Type, f.Data = FrameRaw8, grayRamp(f.Width, f.Height, seq).Pix
		} else {
			f.Type, f.Data = FrameRaw16, depthRamp(f.Width, f.Height, seq)
		}
	case pipeline.KindToF:
		f.Width, f.Height = 640, 480
		f.Type, f.Data = FrameRaw16, depthRamp(f.Width, f.Height, seq)
	case pipeline.KindCamera:
		f.Instance = n.Camera().BoardSocket
		f.Width, f.Height = n.Camera().Resolution.Size()
		f.Type, f.Data = FrameGray8, grayRamp(f.Width, f.Height, seq).Pix
	case pipeline.KindVideoEncoder:
		f.Width, f.Height = 640, 400
		var buf bytes.Buffer
		img := grayRamp(f.Width, f.Height, seq)
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(n.Encoder().Quality)); err != nil {
			return nil, fmt.Errorf("encoding synthetic bitstream: %w", err)
		}
		f.Type, f.Data = FrameBitstream, buf.Bytes()
	default:
		return nil, fmt.Errorf("no synthetic source for %s", n.Kind())
	}
	return f, nil
}

func grayRamp(w, h int, seq int64) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Pix[y*img.Stride+x] = uint8((x + int(seq)) % 256)
		}
	}
	return img
}

func depthRamp(w, h int, seq int64) []byte {
	data := make([]byte, w*h*2)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mm := uint16(500 + (x*10+int(seq))%9500)
			binary.LittleEndian.PutUint16(data[(y*w+x)*2:], mm)
		}
	}
	return data
}
