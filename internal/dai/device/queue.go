package device

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/depth.relay/internal/monitoring"
)

var ErrQueueClosed = errors.New("queue closed")

// Callback receives frames on a queue's delivery goroutine. Callbacks must
// not call Close on the queue that invoked them.
type Callback func(stream string, f *Frame)

type callbackEntry struct {
	id int
	fn Callback
}

// QueueStats is a snapshot of queue counters.
type QueueStats struct {
	Name      string `json:"name"`
	MaxSize   int    `json:"max_size"`
	Blocking  bool   `json:"blocking"`
	Received  uint64 `json:"received"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Panics    uint64 `json:"panics"`
	Pending   int    `json:"pending"`
	Callbacks int    `json:"callbacks"`
	Closed    bool   `json:"closed"`
}

// Queue is a bounded, asynchronously delivered output stream. Frames are
// handed to callbacks in the order they were sent, one at a time, on a
// goroutine owned by the queue. Frames sent before the first callback is
// added wait in the buffer.
type Queue struct {
	name     string
	maxSize  int
	blocking bool

	ch        chan *Frame
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	wg        sync.WaitGroup

	mu        sync.Mutex
	callbacks []callbackEntry
	nextID    int

	received  atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	panics    atomic.Uint64
}

// NewQueue creates a queue holding at most maxSize undelivered frames. A
// non-blocking queue discards its oldest frame when full; a blocking queue
// makes Send wait.
func NewQueue(name string, maxSize int, blocking bool) (*Queue, error) {
	if maxSize < 1 {
		return nil, fmt.Errorf("queue %q: %w (got %d)", name, ErrInvalidMaxSize, maxSize)
	}
	q := &Queue{
		name:     name,
		maxSize:  maxSize,
		blocking: blocking,
		ch:       make(chan *Frame, maxSize),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q, nil
}

// Name returns the stream name.
func (q *Queue) Name() string { return q.name }

// AddCallback registers cb and returns an id for RemoveCallback.
func (q *Queue) AddCallback(cb Callback) int {
	q.mu.Lock()
	id := q.nextID
	q.nextID++
	q.callbacks = append(q.callbacks, callbackEntry{id: id, fn: cb})
	q.mu.Unlock()
	q.readyOnce.Do(func() { close(q.ready) })
	return id
}

// RemoveCallback unregisters a callback. Frames already being dispatched may
// still reach it.
func (q *Queue) RemoveCallback(id int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := slices.IndexFunc(q.callbacks, func(e callbackEntry) bool { return e.id == id })
	if i < 0 {
		return false
	}
	q.callbacks = slices.Delete(q.callbacks, i, i+1)
	return true
}

// Send enqueues a frame. It is called by device transports.
func (q *Queue) Send(ctx context.Context, f *Frame) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}
	q.received.Add(1)

	if q.blocking {
		select {
		case q.ch <- f:
			return nil
		case <-q.done:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for {
		select {
		case <-q.done:
			return ErrQueueClosed
		case q.ch <- f:
			return nil
		default:
		}
		// Full: make room by discarding the oldest frame.
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Close stops delivery. Frames still buffered are abandoned; a callback
// already running is allowed to finish before Close returns. Close is
// idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.done)
	})
	q.wg.Wait()
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool { return q.closed.Load() }

// Stats returns the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	n := len(q.callbacks)
	q.mu.Unlock()
	return QueueStats{
		Name:      q.name,
		MaxSize:   q.maxSize,
		Blocking:  q.blocking,
		Received:  q.received.Load(),
		Delivered: q.delivered.Load(),
		Dropped:   q.dropped.Load(),
		Panics:    q.panics.Load(),
		Pending:   len(q.ch),
		Callbacks: n,
		Closed:    q.closed.Load(),
	}
}

func (q *Queue) run() {
	defer q.wg.Done()

	select {
	case <-q.ready:
	case <-q.done:
		return
	}

	for {
		select {
		case <-q.done:
			return
		case f := <-q.ch:
			// Close may race the receive; prefer abandoning the frame.
			select {
			case <-q.done:
				return
			default:
			}
			q.dispatch(f)
		}
	}
}

func (q *Queue) dispatch(f *Frame) {
	q.mu.Lock()
	cbs := slices.Clone(q.callbacks)
	q.mu.Unlock()

	for _, cb := range cbs {
		q.invoke(cb.fn, f)
	}
	q.delivered.Add(1)
}

func (q *Queue) invoke(cb Callback, f *Frame) {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			monitoring.Logf("[Queue] %s: callback panicked on frame %d: %v", q.name, f.Sequence, r)
		}
	}()
	cb(q.name, f)
}
