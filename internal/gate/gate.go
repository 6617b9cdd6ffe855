// Package gate implements the single-beam timing gate: a presence tripwire
// that arms a run when the athlete leaves the beam and finishes it when they
// re-enter.
//
// A Session is owned by exactly one goroutine (the polling loop). None of its
// methods are safe for concurrent use; other goroutines read the immutable
// Snapshot values the owner publishes.
package gate

import (
	"fmt"

	"github.com/google/uuid"
)

// InvalidDistance is the sentinel distance for a missing or rejected echo.
const InvalidDistance = -1

// Sample is a single timestamped distance reading.
type Sample struct {
	DistanceCM   int   `json:"distance_cm"`
	CapturedAtMs int64 `json:"captured_at_ms"`
}

// Valid reports whether the sample carries a usable distance.
func (s Sample) Valid() bool { return s.DistanceCM >= 0 }

// State is the timing lifecycle of a gate.
type State int

const (
	Idle State = iota
	Armed
	Finished
)

// States lists every state, in lifecycle order.
var States = []State{Idle, Armed, Finished}

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EventKind identifies a timing event.
type EventKind int

const (
	Start EventKind = iota + 1
	Finish
	Reset
)

func (k EventKind) String() string {
	switch k {
	case Start:
		return "start"
	case Finish:
		return "finish"
	case Reset:
		return "reset"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a state transition worth telling the displays about. StartedAtMs
// and ElapsedMs are only set on Finish.
type Event struct {
	Kind        EventKind
	AtMs        int64
	StartedAtMs int64
	ElapsedMs   int64
}

// IsPresent reports whether an object at distanceCM occupies the gate.
// Invalid readings are never present.
func IsPresent(distanceCM, thresholdCM int) bool {
	return distanceCM >= 0 && distanceCM < thresholdCM
}

// Session holds the state of one gate from construction until Reset.
type Session struct {
	id        string
	threshold int

	state           State
	startedAtMs     int64
	hasStart        bool
	finishedElapsed int64

	lastDistance int
	hasDistance  bool
	wasPresent   bool
}

// NewSession creates an idle session for a gate with the given presence
// threshold in centimeters.
func NewSession(thresholdCM int) *Session {
	return &Session{
		id:        uuid.NewString(),
		threshold: thresholdCM,
	}
}

// ID identifies the session to display clients.
func (s *Session) ID() string { return s.id }

// Threshold returns the presence threshold in centimeters.
func (s *Session) Threshold() int { return s.threshold }

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// StartedAt returns the start instant of the current run.
func (s *Session) StartedAt() (int64, bool) {
	return s.startedAtMs, s.hasStart
}

// LastDistance returns the most recent valid distance observed.
func (s *Session) LastDistance() (int, bool) {
	return s.lastDistance, s.hasDistance
}

// Observe feeds one raw reading into the session and returns the timing event
// it caused, if any. Every valid reading must be observed, including those the
// change filter suppresses, or slow movement across the threshold can hide an
// edge. Invalid readings are ignored and do not disturb the presence memory.
func (s *Session) Observe(sample Sample) (Event, bool) {
	if !sample.Valid() {
		return Event{}, false
	}

	present := IsPresent(sample.DistanceCM, s.threshold)
	left := s.wasPresent && !present
	entered := !s.wasPresent && present

	s.wasPresent = present
	s.lastDistance = sample.DistanceCM
	s.hasDistance = true

	switch {
	case s.state == Idle && left:
		s.state = Armed
		s.hasStart = true
		s.startedAtMs = sample.CapturedAtMs
		return Event{Kind: Start, AtMs: sample.CapturedAtMs}, true

	case s.state == Armed && entered:
		s.state = Finished
		s.finishedElapsed = sample.CapturedAtMs - s.startedAtMs
		return Event{
			Kind:        Finish,
			AtMs:        sample.CapturedAtMs,
			StartedAtMs: s.startedAtMs,
			ElapsedMs:   s.finishedElapsed,
		}, true
	}

	return Event{}, false
}

// Elapsed returns the running time at nowMs while Armed, or the final time
// once Finished.
func (s *Session) Elapsed(nowMs int64) (int64, bool) {
	switch s.state {
	case Armed:
		return nowMs - s.startedAtMs, true
	case Finished:
		return s.finishedElapsed, true
	default:
		return 0, false
	}
}

// Reset returns the session to Idle, clearing the current run and the last
// reported distance. The presence memory is kept: the athlete's position does
// not change because a reset was pressed. Resetting an Idle session is a
// no-op and yields no event.
func (s *Session) Reset(nowMs int64) (Event, bool) {
	if s.state == Idle {
		return Event{}, false
	}

	s.state = Idle
	s.hasStart = false
	s.startedAtMs = 0
	s.finishedElapsed = 0
	s.lastDistance = 0
	s.hasDistance = false

	return Event{Kind: Reset, AtMs: nowMs}, true
}

// Snapshot is a read-only copy of a session, safe to hand to other
// goroutines.
type Snapshot struct {
	SessionID    string `json:"session_id"`
	State        State  `json:"state"`
	ThresholdCM  int    `json:"presence_threshold_cm"`
	StartedAtMs  *int64 `json:"started_at_ms,omitempty"`
	ElapsedMs    *int64 `json:"elapsed_ms,omitempty"`
	LastDistance *int   `json:"last_distance_cm,omitempty"`
	Present      bool   `json:"present"`
	TakenAtMs    int64  `json:"taken_at_ms"`
}

// Snapshot captures the session as of nowMs.
func (s *Session) Snapshot(nowMs int64) Snapshot {
	snap := Snapshot{
		SessionID:   s.id,
		State:       s.state,
		ThresholdCM: s.threshold,
		Present:     s.wasPresent,
		TakenAtMs:   nowMs,
	}
	if start, ok := s.StartedAt(); ok {
		snap.StartedAtMs = &start
	}
	if elapsed, ok := s.Elapsed(nowMs); ok {
		snap.ElapsedMs = &elapsed
	}
	if d, ok := s.LastDistance(); ok {
		snap.LastDistance = &d
	}
	return snap
}
