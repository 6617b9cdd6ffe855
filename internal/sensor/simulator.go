package sensor

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// Segment holds a constant simulated distance for a number of frames.
type Segment struct {
	DistanceCM int
	Frames     int
}

// DefaultProfile simulates one shuttle run at 100 Hz: the athlete stands in
// the gate, runs out for about six seconds, comes back and walks away, with
// a few weak echoes mixed in.
var DefaultProfile = []Segment{
	{DistanceCM: 1200, Frames: 150},
	{DistanceCM: 45, Frames: 300},
	{DistanceCM: 47, Frames: 50},
	{DistanceCM: 1180, Frames: 610},
	{DistanceCM: -1, Frames: 3},
	{DistanceCM: 1190, Frames: 12},
	{DistanceCM: 60, Frames: 200},
	{DistanceCM: 1200, Frames: 400},
}

// Simulator is a SerialPorter that produces TFmini-S frames from a looping
// profile, for running without hardware. Command writes are recorded.
type Simulator struct {
	mu       sync.Mutex
	profile  []Segment
	interval time.Duration
	seg      int
	frame    int
	pending  []byte
	written  bytes.Buffer
	closed   bool
	done     chan struct{}
}

// NewSimulator creates a simulator emitting one frame per interval. A zero
// interval emits frames as fast as they are read.
func NewSimulator(profile []Segment, interval time.Duration) *Simulator {
	if len(profile) == 0 {
		profile = DefaultProfile
	}
	return &Simulator{
		profile:  profile,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Read fills p with frame bytes, waiting one interval per frame.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	if len(s.pending) == 0 {
		s.mu.Unlock()
		if s.interval > 0 {
			select {
			case <-time.After(s.interval):
			case <-s.done:
				return 0, io.EOF
			}
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return 0, io.EOF
		}
		s.pending = s.nextFrame()
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	s.mu.Unlock()
	return n, nil
}

func (s *Simulator) nextFrame() []byte {
	seg := s.profile[s.seg]
	s.frame++
	if s.frame >= seg.Frames {
		s.frame = 0
		s.seg = (s.seg + 1) % len(s.profile)
	}
	if seg.DistanceCM < 0 {
		return EncodeFrame(0, 12, 31.5)
	}
	return EncodeFrame(seg.DistanceCM, 1800, 31.5)
}

// Write records command frames.
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	return s.written.Write(p)
}

// Written returns every byte written to the simulator.
func (s *Simulator) Written() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return bytes.Clone(s.written.Bytes())
}

// Close stops the simulator; pending reads return io.EOF.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

// NewSimulatedDriver returns a driver backed by a Simulator.
func NewSimulatedDriver(profile []Segment, interval time.Duration) *Driver[*Simulator] {
	return NewDriver(NewSimulator(profile, interval))
}
