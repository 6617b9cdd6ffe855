// Package sampler turns raw sensor polls into timestamped gate samples and
// decides which of them are worth broadcasting.
package sampler

import (
	"github.com/futureproathletes/timing-gates/internal/gate"
)

// DefaultChangeThresholdCM is the smallest distance change that is
// broadcast to displays.
const DefaultChangeThresholdCM = 3

// Source yields at most one distance reading per call. ok is false when the
// sensor had nothing new this tick (busy, framing error); that is not a
// fault.
type Source interface {
	ReadDistance() (distanceCM int, ok bool)
}

// Millis returns the current device time in milliseconds.
type Millis func() int64

// ChangeFilter passes a reading when it is the first one or differs from the
// last passed reading by at least Threshold centimeters.
type ChangeFilter struct {
	Threshold int
	last      int
	set       bool
}

// Accept reports whether d is significant, remembering it when it is.
func (f *ChangeFilter) Accept(d int) bool {
	if f.set && abs(d-f.last) < f.Threshold {
		return false
	}
	f.last = d
	f.set = true
	return true
}

// Last returns the last accepted distance.
func (f *ChangeFilter) Last() (int, bool) { return f.last, f.set }

// Forget clears the last accepted distance so the next reading passes.
func (f *ChangeFilter) Forget() {
	f.last = 0
	f.set = false
}

// Reading is the outcome of one poll: the sample handed to the gate session
// and whether it also goes out to displays.
type Reading struct {
	Sample      gate.Sample
	Significant bool
}

// Sampler polls a Source and stamps valid readings with device time.
type Sampler struct {
	source Source
	now    Millis
	filter ChangeFilter
}

// New creates a Sampler. A non-positive changeThreshold uses the default.
func New(source Source, now Millis, changeThresholdCM int) *Sampler {
	if changeThresholdCM <= 0 {
		changeThresholdCM = DefaultChangeThresholdCM
	}
	return &Sampler{
		source: source,
		now:    now,
		filter: ChangeFilter{Threshold: changeThresholdCM},
	}
}

// Poll reads one distance. Only a Valid outcome carries a Reading; invalid
// readings are dropped without touching the change filter.
func (s *Sampler) Poll() (Reading, Outcome) {
	d, ok := s.source.ReadDistance()
	if !ok {
		return Reading{}, Missing
	}
	if d < 0 {
		return Reading{}, Invalid
	}

	sample := gate.Sample{DistanceCM: d, CapturedAtMs: s.now()}
	return Reading{Sample: sample, Significant: s.filter.Accept(d)}, Valid
}

// Forget clears the change filter so the next valid reading is broadcast.
func (s *Sampler) Forget() { s.filter.Forget() }

// ChangeThreshold returns the configured change threshold in centimeters.
func (s *Sampler) ChangeThreshold() int { return s.filter.Threshold }

// Outcome classifies a poll.
type Outcome int

const (
	Missing Outcome = iota
	Invalid
	Valid
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "missing"
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
