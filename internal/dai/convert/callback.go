package convert

import (
	"sync/atomic"

	"github.com/banshee-data/depth.relay/internal/dai/device"
	"github.com/banshee-data/depth.relay/internal/dai/msgs"
	"github.com/banshee-data/depth.relay/internal/monitoring"
)

// Publisher is the outward sink of a converted frame.
type Publisher interface {
	Publish(img *msgs.Image, info *msgs.CameraInfo) error
}

// Stats counts the outcome of every frame a callback handled.
type Stats struct {
	published atomic.Int64
	failed    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{Published: s.published.Load(), Failed: s.failed.Load()}
}

func (s *Stats) fail(stream string, seq int64, err error) {
	s.failed.Add(1)
	monitoring.Logf("[Convert] %s frame %d dropped: %v", stream, seq, err)
}

func publish(pub Publisher, cache *InfoCache, stats *Stats, stream string, seq int64, img *msgs.Image) {
	if err := pub.Publish(img, cache.Stamped(img.Header)); err != nil {
		stats.fail(stream, seq, err)
		return
	}
	stats.published.Add(1)
}

// ImageCallback publishes uncompressed frames.
func ImageCallback(conv *ImageConverter, pub Publisher, cache *InfoCache, stats *Stats) device.Callback {
	return func(stream string, f *device.Frame) {
		img, err := conv.ToImage(f)
		if err != nil {
			stats.fail(stream, f.Sequence, err)
			return
		}
		publish(pub, cache, stats, stream, f.Sequence, img)
	}
}

// CompressedImageCallback decodes bitstream frames as decodeType and
// publishes the result.
func CompressedImageCallback(conv *ImageConverter, pub Publisher, cache *InfoCache, stats *Stats, decodeType device.FrameType) device.Callback {
	base := cache.Info()
	return func(stream string, f *device.Frame) {
		img, err := conv.DecodeCompressed(f, decodeType, base)
		if err != nil {
			stats.fail(stream, f.Sequence, err)
			return
		}
		publish(pub, cache, stats, stream, f.Sequence, img)
	}
}
