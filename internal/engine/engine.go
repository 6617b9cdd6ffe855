// Package engine runs the polling loop that ties the sampler, the gate
// session and the broadcast hub together.
//
// The loop goroutine is the only owner of the sampler and the session. Other
// goroutines talk to it through RequestReset and read the Snapshot it
// publishes after every change.
package engine

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/futureproathletes/timing-gates/internal/gate"
	"github.com/futureproathletes/timing-gates/internal/monitoring"
	"github.com/futureproathletes/timing-gates/internal/sampler"
	"github.com/futureproathletes/timing-gates/internal/timeutil"
	"github.com/futureproathletes/timing-gates/internal/units"
)

// DefaultPollInterval matches the sensor loop delay of the gate firmware.
const DefaultPollInterval = 5 * time.Millisecond

// maxReadsPerStep bounds one tick's drain so a sensor that outpaces the loop
// cannot starve commands.
const maxReadsPerStep = 1024

// Broadcaster receives significant distances and timing events. Calls must
// not block.
type Broadcaster interface {
	BroadcastDistance(gate.Sample)
	BroadcastEvent(gate.Event)
}

// Recorder is fed every valid sample, significant or not.
type Recorder interface {
	Record(gate.Sample)
}

// Options configures a Loop. Now must be the same millisecond clock the
// sampler stamps samples with.
type Options struct {
	Now          sampler.Millis
	Clock        timeutil.Clock
	PollInterval time.Duration
	Metrics      *monitoring.Metrics
	Recorder     Recorder
	// LogReadings prints every broadcast distance, like the firmware's serial
	// console.
	LogReadings bool
}

type command int

const (
	cmdReset command = iota + 1
)

// Loop polls the sensor and drives the gate session.
type Loop struct {
	sampler *sampler.Sampler
	session *gate.Session
	out     Broadcaster

	now         sampler.Millis
	clock       timeutil.Clock
	interval    time.Duration
	metrics     *monitoring.Metrics
	recorder    Recorder
	logReadings bool

	commands  chan command
	snapshot  atomic.Pointer[gate.Snapshot]
	lastValid atomic.Int64
	polls     atomic.Uint64
}

// New creates a loop. The loop takes ownership of s and session; neither may
// be used by the caller afterwards.
func New(s *sampler.Sampler, session *gate.Session, out Broadcaster, opts Options) *Loop {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Now == nil {
		opts.Now = timeutil.NewUptime(opts.Clock).Millis
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	l := &Loop{
		sampler:     s,
		session:     session,
		out:         out,
		now:         opts.Now,
		clock:       opts.Clock,
		interval:    opts.PollInterval,
		metrics:     opts.Metrics,
		recorder:    opts.Recorder,
		logReadings: opts.LogReadings,
		commands:    make(chan command, 1),
	}
	l.lastValid.Store(-1)
	l.publish(l.now())
	l.metrics.SetGateState(gate.Idle.String(), stateNames()...)
	return l
}

// Run polls every PollInterval until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := l.clock.NewTicker(l.interval)
	defer ticker.Stop()

	monitoring.Logf("engine: polling every %s, presence threshold %d cm, change threshold %d cm",
		l.interval, l.session.Threshold(), l.sampler.ChangeThreshold())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			l.Step()
		}
	}
}

// Step applies pending commands and drains every reading the sensor queued
// since the last tick, in arrival order.
func (l *Loop) Step() {
	l.applyCommands()
	l.polls.Add(1)

	for i := 0; i < maxReadsPerStep; i++ {
		reading, outcome := l.sampler.Poll()
		if outcome == sampler.Missing {
			if i == 0 {
				l.metrics.IncSample(outcome.String())
			}
			return
		}
		l.metrics.IncSample(outcome.String())
		if outcome == sampler.Valid {
			l.handle(reading)
		}
	}
}

func (l *Loop) handle(reading sampler.Reading) {
	sample := reading.Sample
	l.lastValid.Store(sample.CapturedAtMs)
	if l.recorder != nil {
		l.recorder.Record(sample)
	}

	if reading.Significant {
		l.metrics.IncSignificant()
		if l.logReadings {
			monitoring.Logf("distance: %d %s", sample.DistanceCM, units.Centimeters)
		}
		l.out.BroadcastDistance(sample)
	}

	if ev, ok := l.session.Observe(sample); ok {
		l.emit(ev)
	}
	l.publish(sample.CapturedAtMs)
}

// RequestReset asks the loop to reset the session before its next poll.
// It never blocks; requests made while one is pending are merged.
func (l *Loop) RequestReset() {
	select {
	case l.commands <- cmdReset:
	default:
	}
}

func (l *Loop) applyCommands() {
	for {
		select {
		case cmd := <-l.commands:
			if cmd == cmdReset {
				l.reset()
			}
		default:
			return
		}
	}
}

func (l *Loop) reset() {
	now := l.now()
	ev, ok := l.session.Reset(now)
	if !ok {
		// an idle gate has nothing to clear
		return
	}
	// the next reading goes out to displays even if it has not moved
	l.sampler.Forget()
	l.emit(ev)
	l.publish(now)
}

func (l *Loop) emit(ev gate.Event) {
	l.metrics.IncTimingEvent(ev.Kind.String())
	l.metrics.SetGateState(l.session.State().String(), stateNames()...)

	switch ev.Kind {
	case gate.Finish:
		monitoring.Logf("gate: finish at %d ms, elapsed %s", ev.AtMs, units.FormatElapsed(ev.ElapsedMs))
	default:
		monitoring.Logf("gate: %s at %d ms", ev.Kind, ev.AtMs)
	}
	l.out.BroadcastEvent(ev)
}

func (l *Loop) publish(nowMs int64) {
	snap := l.session.Snapshot(nowMs)
	l.snapshot.Store(&snap)
}

// Snapshot returns the latest published session state. While a run is in
// progress the elapsed time is brought up to the current instant.
func (l *Loop) Snapshot() gate.Snapshot {
	snap := *l.snapshot.Load()
	if snap.State == gate.Armed && snap.StartedAtMs != nil {
		now := l.now()
		elapsed := now - *snap.StartedAtMs
		snap.ElapsedMs = &elapsed
		snap.TakenAtMs = now
	}
	return snap
}

// SessionID identifies the gate session.
func (l *Loop) SessionID() string { return l.session.ID() }

// Now returns the loop's current device time in milliseconds.
func (l *Loop) Now() int64 { return l.now() }

// SinceLastValid returns how long ago the last valid reading was taken. ok
// is false before the first one.
func (l *Loop) SinceLastValid() (time.Duration, bool) {
	last := l.lastValid.Load()
	if last < 0 {
		return 0, false
	}
	return time.Duration(l.now()-last) * time.Millisecond, true
}

// Polls returns the number of polls taken so far.
func (l *Loop) Polls() uint64 { return l.polls.Load() }

func stateNames() []string {
	names := make([]string, len(gate.States))
	for i, s := range gate.States {
		names[i] = s.String()
	}
	return names
}
