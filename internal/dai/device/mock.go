package device

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/banshee-data/depth.relay/internal/dai/pipeline"
	"github.com/banshee-data/depth.relay/internal/monitoring"
	"github.com/banshee-data/depth.relay/internal/timeutil"
)

// SentControl records one SendControl call on a MockDevice.
type SentControl struct {
	Node    string
	Control Control
}

// MockDevice implements Device in memory. Tests drive it with Emit; dev mode
// drives it with RunSynthetic.
type MockDevice struct {
	mu       sync.Mutex
	calib    *Calibration
	calibErr error
	startErr error
	pipe     *pipeline.Pipeline
	queues   map[string]*Queue
	controls []SentControl
	starts   int
	closed   bool
	clock    timeutil.Clock
}

// Check that MockDevice implements interface Device.
var _ Device = (*MockDevice)(nil)

// NewMockDevice returns a mock reporting calib. A nil calib uses
// DefaultCalibration.
func NewMockDevice(calib *Calibration) *MockDevice {
	if calib == nil {
		calib = DefaultCalibration()
	}
	return &MockDevice{calib: calib, queues: make(map[string]*Queue), clock: timeutil.RealClock{}}
}

// SetClock replaces the clock driving RunSynthetic. Call it before
// RunSynthetic starts.
func (m *MockDevice) SetClock(c timeutil.Clock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clock = c
}

// SetCalibrationError makes ReadCalibration fail with err.
func (m *MockDevice) SetCalibrationError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibErr = err
}

// SetStartError makes StartPipeline fail with err.
func (m *MockDevice) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// StartPipeline commits p and replaces any running pipeline. Queues of the
// previous pipeline are closed.
func (m *MockDevice) StartPipeline(p *pipeline.Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDeviceClosed
	}
	if m.startErr != nil {
		return m.startErr
	}
	if !p.Committed() {
		if err := p.Commit(); err != nil {
			return err
		}
	}
	for name, q := range m.queues {
		q.Close()
		delete(m.queues, name)
	}
	m.pipe = p
	m.starts++
	monitoring.Logf("[MockDevice] pipeline started: %d nodes, streams %v", len(p.Nodes()), p.Streams())
	return nil
}

// Starts returns how many pipelines have been started.
func (m *MockDevice) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Pipeline returns the running pipeline.
func (m *MockDevice) Pipeline() *pipeline.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipe
}

// ReadCalibration returns the configured calibration.
func (m *MockDevice) ReadCalibration() (*Calibration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calibErr != nil {
		return nil, m.calibErr
	}
	return m.calib, nil
}

// OutputQueue returns the queue for a stream of the running pipeline.
func (m *MockDevice) OutputQueue(name string, maxSize int, blocking bool) (*Queue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrDeviceClosed
	}
	if m.pipe == nil {
		return nil, ErrNotStarted
	}
	if !slices.Contains(m.pipe.Streams(), name) {
		return nil, fmt.Errorf("%w %q", ErrUnknownStream, name)
	}
	if q, ok := m.queues[name]; ok && !q.Closed() {
		return q, nil
	}
	q, err := NewQueue(name, maxSize, blocking)
	if err != nil {
		return nil, err
	}
	m.queues[name] = q
	return q, nil
}

// SendControl records ctrl.
func (m *MockDevice) SendControl(node string, ctrl Control) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrDeviceClosed
	}
	if m.pipe == nil {
		return ErrNotStarted
	}
	m.controls = append(m.controls, SentControl{Node: node, Control: ctrl})
	return nil
}

// Controls returns every control sent so far.
func (m *MockDevice) Controls() []SentControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.controls)
}

// Emit sends f on the named stream's queue.
func (m *MockDevice) Emit(ctx context.Context, stream string, f *Frame) error {
	m.mu.Lock()
	q, ok := m.queues[stream]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownStream, stream)
	}
	return q.Send(ctx, f)
}

// Queue returns the open queue for stream, if any.
func (m *MockDevice) Queue(stream string) (*Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[stream]
	return q, ok
}

// Close closes every queue.
func (m *MockDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		q.Close()
	}
	return nil
}
