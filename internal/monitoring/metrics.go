package monitoring

import (
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
)

// Sample outcomes recorded by the polling loop.
const (
	SampleValid   = "valid"
	SampleInvalid = "invalid"
	SampleMissing = "missing"
)

// Metrics holds the Prometheus collectors for the gate timer. All methods are
// safe to call on a nil *Metrics so components can run without metrics.
type Metrics struct {
	once             sync.Once
	samples          *prom.CounterVec
	significant      prom.Counter
	timingEvents     *prom.CounterVec
	frameErrors      *prom.CounterVec
	endpoints        prom.Gauge
	framesSent       *prom.CounterVec
	framesSuperseded prom.Counter
	endpointsDropped prom.Counter
	gateState        *prom.GaugeVec
}

// NewMetrics constructs and registers the gate collectors on reg. A nil
// registry gets a private one so tests do not collide on the default
// registerer.
func NewMetrics(reg prom.Registerer) *Metrics {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	m := &Metrics{}
	m.once.Do(func() {
		m.samples = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gate",
			Name:      "samples_total",
			Help:      "Sensor polls by outcome",
		}, []string{"result"})
		m.significant = prom.NewCounter(prom.CounterOpts{
			Namespace: "gate",
			Name:      "significant_samples_total",
			Help:      "Readings that passed the change filter and were broadcast",
		})
		m.timingEvents = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gate",
			Name:      "timing_events_total",
			Help:      "Timing events emitted by the gate session",
		}, []string{"kind"})
		m.frameErrors = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gate",
			Name:      "sensor_frame_errors_total",
			Help:      "Sensor frames discarded while decoding or dropped from a full backlog",
		}, []string{"reason"})
		m.endpoints = prom.NewGauge(prom.GaugeOpts{
			Namespace: "gate",
			Name:      "broadcast_endpoints",
			Help:      "Currently connected broadcast endpoints",
		})
		m.framesSent = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "gate",
			Name:      "broadcast_frames_sent_total",
			Help:      "Frames written to endpoints by type",
		}, []string{"type"})
		m.framesSuperseded = prom.NewCounter(prom.CounterOpts{
			Namespace: "gate",
			Name:      "broadcast_frames_superseded_total",
			Help:      "Distance frames replaced before an endpoint wrote them",
		})
		m.endpointsDropped = prom.NewCounter(prom.CounterOpts{
			Namespace: "gate",
			Name:      "broadcast_endpoints_dropped_total",
			Help:      "Endpoints removed after a failed or stalled write",
		})
		m.gateState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "gate",
			Name:      "state",
			Help:      "1 for the current gate state, 0 otherwise",
		}, []string{"state"})
		reg.MustRegister(m.samples, m.significant, m.timingEvents, m.frameErrors, m.endpoints,
			m.framesSent, m.framesSuperseded, m.endpointsDropped, m.gateState)
	})
	return m
}

func (m *Metrics) IncSample(result string) {
	if m == nil || m.samples == nil {
		return
	}
	m.samples.WithLabelValues(result).Inc()
}

func (m *Metrics) IncSignificant() {
	if m == nil || m.significant == nil {
		return
	}
	m.significant.Inc()
}

func (m *Metrics) IncTimingEvent(kind string) {
	if m == nil || m.timingEvents == nil {
		return
	}
	m.timingEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncFrameError(reason string) {
	if m == nil || m.frameErrors == nil {
		return
	}
	m.frameErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetEndpoints(n int) {
	if m == nil || m.endpoints == nil {
		return
	}
	m.endpoints.Set(float64(n))
}

func (m *Metrics) IncFrameSent(frameType string) {
	if m == nil || m.framesSent == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) IncSuperseded() {
	if m == nil || m.framesSuperseded == nil {
		return
	}
	m.framesSuperseded.Inc()
}

func (m *Metrics) IncEndpointDropped() {
	if m == nil || m.endpointsDropped == nil {
		return
	}
	m.endpointsDropped.Inc()
}

// SetGateState marks current as the active state among all.
func (m *Metrics) SetGateState(current string, all ...string) {
	if m == nil || m.gateState == nil {
		return
	}
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		m.gateState.WithLabelValues(s).Set(v)
	}
}
