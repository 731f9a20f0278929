// Package device is the host-side view of a depth camera: committing a
// pipeline, reading calibration back, acquiring named output queues and
// sending control deltas to live nodes.
package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
)

var (
	ErrUnknownStream  = errors.New("unknown stream")
	ErrNotStarted     = errors.New("device has no running pipeline")
	ErrDeviceClosed   = errors.New("device closed")
	ErrNoCalibration  = errors.New("no calibration for socket")
	ErrInvalidMaxSize = errors.New("queue max size must be at least 1")
)

// Device is implemented by device transports. Implementations must be safe
// for concurrent use; SendControl is called from the reconfiguration path
// while queues are delivering.
type Device interface {
	// StartPipeline commits p (if not yet committed) and runs it.
	StartPipeline(p *pipeline.Pipeline) error
	// ReadCalibration returns the factory calibration.
	ReadCalibration() (*Calibration, error)
	// OutputQueue returns the queue bound to stream name, creating it with
	// the given bound on first use.
	OutputQueue(name string, maxSize int, blocking bool) (*Queue, error)
	// SendControl applies a control delta to the named live node.
	SendControl(node string, ctrl Control) error
	Close() error
}

// FrameType is the pixel layout of a raw device frame.
type FrameType int

const (
	FrameRaw16     FrameType = iota // 16-bit little endian, depth in millimetres
	FrameRaw8                       // 8-bit raw, disparity
	FrameGray8                      // 8-bit grey
	FrameBitstream                  // encoded bitstream (MJPEG)
)

func (t FrameType) String() string {
	switch t {
	case FrameRaw16:
		return "RAW16"
	case FrameRaw8:
		return "RAW8"
	case FrameGray8:
		return "GRAY8"
	case FrameBitstream:
		return "BITSTREAM"
	}
	return fmt.Sprintf("FrameType(%d)", int(t))
}

// Frame is one message delivered on an output queue.
type Frame struct {
	Type      FrameType
	Width     int
	Height    int
	Data      []byte
	Sequence  int64
	Timestamp time.Time
	Instance  pipeline.Socket
}
