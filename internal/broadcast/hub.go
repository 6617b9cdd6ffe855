package broadcast

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/futureproathletes/timing-gates/internal/gate"
	"github.com/futureproathletes/timing-gates/internal/monitoring"
)

// DefaultQueueSize bounds the frames waiting for a single endpoint. Distance
// frames supersede each other, so in practice the queue only fills with
// timing events from an endpoint that has stopped reading.
const DefaultQueueSize = 16

var ErrHubClosed = errors.New("broadcast hub closed")

// Sink is the transport behind an endpoint. WriteFrame is only ever called
// from the endpoint's writer goroutine; Close may be called concurrently
// with it and must unblock it.
type Sink interface {
	WriteFrame(Frame) error
	Close() error
}

// Hub is the routing table of connected endpoints. Broadcast calls never
// block on the network: each endpoint has its own queue and writer.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[string]*endpoint
	closed    bool
	count     atomic.Int32

	hello     Frame
	queueSize int
	metrics   *monitoring.Metrics
	wg        sync.WaitGroup
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithMetrics records endpoint and frame counters.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub that greets every new endpoint with hello. An empty
// hello frame is not sent.
func NewHub(hello Frame, opts ...Option) *Hub {
	h := &Hub{
		endpoints: make(map[string]*endpoint),
		hello:     hello,
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Join registers sink and starts its writer. The endpoint receives the hello
// frame and then only frames broadcast after it joined.
func (h *Hub) Join(name string, sink Sink) (*Endpoint, error) {
	e := &endpoint{
		id:    uuid.NewString(),
		name:  name,
		sink:  sink,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		limit: h.queueSize,
	}
	if len(h.hello.Data) > 0 {
		e.queue = append(e.queue, h.hello)
		e.wake <- struct{}{}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.endpoints[e.id] = e
	n := len(h.endpoints)
	h.count.Store(int32(n))
	h.wg.Add(1)
	h.mu.Unlock()

	h.metrics.SetEndpoints(n)
	monitoring.Logf("broadcast: %s joined as %s (%d connected)", name, e.id, n)

	go h.write(e)
	return &Endpoint{id: e.id, done: e.done}, nil
}

// Leave removes an endpoint and closes its sink. Unknown ids are ignored.
func (h *Hub) Leave(id string) {
	h.remove(id, nil)
}

// Count returns the number of connected endpoints.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// BroadcastDistance sends a distance update to every endpoint. With no
// endpoints connected the sample is not even serialised.
func (h *Hub) BroadcastDistance(s gate.Sample) {
	if h.Count() == 0 {
		return
	}
	frame, err := EncodeDistance(s)
	if err != nil {
		monitoring.Logf("broadcast: %v", err)
		return
	}
	h.Broadcast(frame)
}

// BroadcastEvent sends a timing event to every endpoint.
func (h *Hub) BroadcastEvent(e gate.Event) {
	if h.Count() == 0 {
		return
	}
	frame, err := EncodeEvent(e)
	if err != nil {
		monitoring.Logf("broadcast: %v", err)
		return
	}
	h.Broadcast(frame)
}

// Broadcast queues frame on every endpoint. An endpoint whose queue is full
// has stopped reading and is dropped.
func (h *Hub) Broadcast(frame Frame) {
	var stalled []string

	h.mu.RLock()
	for id, e := range h.endpoints {
		superseded, ok := e.push(frame)
		if superseded {
			h.metrics.IncSuperseded()
		}
		if !ok {
			stalled = append(stalled, id)
		}
	}
	h.mu.RUnlock()

	for _, id := range stalled {
		h.remove(id, errQueueFull)
	}
}

// Close disconnects every endpoint and waits for their writers to stop.
// Later joins fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	endpoints := h.endpoints
	h.endpoints = make(map[string]*endpoint)
	h.count.Store(0)
	h.mu.Unlock()

	for _, e := range endpoints {
		e.close()
	}
	h.wg.Wait()
	h.metrics.SetEndpoints(0)
}

var errQueueFull = errors.New("send queue full")

func (h *Hub) remove(id string, cause error) {
	h.mu.Lock()
	e, ok := h.endpoints[id]
	if ok {
		delete(h.endpoints, id)
	}
	n := len(h.endpoints)
	h.count.Store(int32(n))
	h.mu.Unlock()

	if !ok {
		return
	}
	e.close()
	h.metrics.SetEndpoints(n)
	if cause != nil {
		h.metrics.IncEndpointDropped()
		monitoring.Logf("broadcast: dropped %s (%s): %v", e.name, e.id, cause)
		return
	}
	monitoring.Logf("broadcast: %s (%s) left (%d connected)", e.name, e.id, n)
}

func (h *Hub) write(e *endpoint) {
	defer h.wg.Done()
	for {
		select {
		case <-e.wake:
		case <-e.done:
			return
		}
		for {
			frame, ok := e.pop()
			if !ok {
				break
			}
			if err := e.sink.WriteFrame(frame); err != nil {
				h.remove(e.id, err)
				return
			}
			h.metrics.IncFrameSent(frame.Type)
		}
	}
}

// Endpoint is the caller's handle on a joined sink.
type Endpoint struct {
	id   string
	done chan struct{}
}

// ID identifies the endpoint in logs and for Leave.
func (e *Endpoint) ID() string { return e.id }

// Done is closed once the endpoint has been removed from the hub.
func (e *Endpoint) Done() <-chan struct{} { return e.done }

type endpoint struct {
	id   string
	name string
	sink Sink

	mu    sync.Mutex
	queue []Frame
	limit int

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// push appends frame to the queue. A distance frame replaces a distance
// frame still waiting at the tail. ok is false when the queue is full.
func (e *endpoint) push(frame Frame) (superseded, ok bool) {
	e.mu.Lock()
	n := len(e.queue)
	switch {
	case frame.IsDistance() && n > 0 && e.queue[n-1].IsDistance():
		e.queue[n-1] = frame
		superseded = true
	case n >= e.limit:
		e.mu.Unlock()
		return false, false
	default:
		e.queue = append(e.queue, frame)
	}
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return superseded, true
}

func (e *endpoint) pop() (Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return Frame{}, false
	}
	frame := e.queue[0]
	e.queue[0] = Frame{}
	e.queue = e.queue[1:]
	return frame, true
}

func (e *endpoint) close() {
	e.closeOnce.Do(func() {
		close(e.done)
		_ = e.sink.Close()
	})
}
