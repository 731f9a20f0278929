// Package publish delivers converted frames to subscribers. Hub is the
// in-process transport; FrameStreamServer exposes it over gRPC.
package publish

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/banshee-data/depth.relay/internal/dai/msgs"
	"github.com/banshee-data/depth.relay/internal/monitoring"
)

var (
	ErrHubClosed    = errors.New("hub closed")
	ErrTopicClaimed = errors.New("topic already has a publisher")
	ErrInvalidTopic = errors.New("invalid topic name")
)

// ImageTopic and InfoTopic name the co-located channels of a camera
// publisher.
func ImageTopic(name string) string { return name + "/image_raw" }
func InfoTopic(name string) string  { return name + "/camera_info" }

// Transport creates camera publishers.
type Transport interface {
	CameraPublisher(name string) (CameraPublisher, error)
}

// CameraPublisher publishes an image together with its camera info.
type CameraPublisher interface {
	Publish(img *msgs.Image, info *msgs.CameraInfo) error
	Topic() string
	Close()
}

// Message is one delivered image and its info.
type Message struct {
	Topic string
	Image *msgs.Image
	Info  *msgs.CameraInfo
}

// Subscription receives messages on C until it is unsubscribed or the hub
// closes, at which point C is closed.
type Subscription struct {
	ID    string
	Topic string // empty matches every topic
	C     <-chan Message

	ch      chan Message
	dropped atomic.Uint64
}

// Dropped returns the number of messages skipped because C was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) matches(topic string) bool {
	return s.Topic == "" || s.Topic == topic || strings.HasPrefix(topic, s.Topic+"/")
}

// HubStats summarises hub activity.
type HubStats struct {
	Topics      []string `json:"topics"`
	Subscribers int      `json:"subscribers"`
	Published   uint64   `json:"published"`
	Dropped     uint64   `json:"dropped"`
}

// Hub fans messages out to subscribers without blocking publishers: a
// subscriber whose buffer is full misses the message.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	topics map[string]*cameraPublisher
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]*Subscription),
		topics: make(map[string]*cameraPublisher),
	}
}

// CameraPublisher claims ImageTopic(name). A topic has at most one live
// publisher; Close releases it.
func (h *Hub) CameraPublisher(name string) (CameraPublisher, error) {
	if name == "" || strings.HasPrefix(name, "/") {
		return nil, fmt.Errorf("%w %q", ErrInvalidTopic, name)
	}
	topic := ImageTopic(name)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if _, ok := h.topics[topic]; ok {
		return nil, fmt.Errorf("%w: %s", ErrTopicClaimed, topic)
	}
	p := &cameraPublisher{hub: h, topic: topic}
	h.topics[topic] = p
	monitoring.Debugf("[Hub] publisher on %s (+%s)", topic, InfoTopic(name))
	return p, nil
}

// Subscribe registers a subscriber for topic, or every topic when empty,
// with a buffer of size buf.
func (h *Hub) Subscribe(topic string, buf int) (*Subscription, error) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Message, buf)
	s := &Subscription{ID: uuid.NewString(), Topic: topic, C: ch, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.subs[s.ID] = s
	return s, nil
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(s.ch)
	}
}

// Topics returns the image topics with a live publisher, sorted.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.topics))
	for t := range h.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

func (h *Hub) Stats() HubStats {
	topics := h.Topics()
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return HubStats{
		Topics:      topics,
		Subscribers: n,
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// Close ends every subscription. Later publishes fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		delete(h.subs, id)
		close(s.ch)
	}
}

func (h *Hub) publish(m Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	h.published.Add(1)
	for _, s := range h.subs {
		if !s.matches(m.Topic) {
			continue
		}
		select {
		case s.ch <- m:
		default:
			s.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
	return nil
}

type cameraPublisher struct {
	hub    *Hub
	topic  string
	closed atomic.Bool
}

func (p *cameraPublisher) Topic() string { return p.topic }

func (p *cameraPublisher) Publish(img *msgs.Image, info *msgs.CameraInfo) error {
	if p.closed.Load() {
		return fmt.Errorf("publisher %s closed", p.topic)
	}
	if img == nil {
		return errors.New("nil image")
	}
	return p.hub.publish(Message{Topic: p.topic, Image: img, Info: info})
}

func (p *cameraPublisher) Close() {
	if p.closed.Swap(true) {
		return
	}
	p.hub.mu.Lock()
	if p.hub.topics[p.topic] == p {
		delete(p.hub.topics, p.topic)
	}
	p.hub.mu.Unlock()
}
