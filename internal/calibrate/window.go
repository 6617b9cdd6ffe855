// Package calibrate keeps a rolling window of raw distances and derives
// statistics used to pick a presence threshold on site.
package calibrate

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/futureproathletes/timing-gates/internal/gate"
)

// DefaultWindowSize holds about ten seconds of readings at 100 Hz.
const DefaultWindowSize = 1000

// Window is a fixed-size ring of the most recent valid distances. Record is
// called by the polling loop; readers take copies.
type Window struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool
}

// NewWindow creates a window holding size readings. A non-positive size
// uses DefaultWindowSize.
func NewWindow(size int) *Window {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &Window{buf: make([]float64, size)}
}

// Record adds a sample's distance. Invalid samples are ignored.
func (w *Window) Record(s gate.Sample) {
	if !s.Valid() {
		return
	}
	w.mu.Lock()
	w.buf[w.next] = float64(s.DistanceCM)
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
	w.mu.Unlock()
}

// Values returns the window contents oldest first.
func (w *Window) Values() []float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.full {
		return append([]float64(nil), w.buf[:w.next]...)
	}
	out := make([]float64, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}

// Len returns the number of readings held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// Stats summarises a set of distances in centimeters.
type Stats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min_cm"`
	Max    float64 `json:"max_cm"`
	Mean   float64 `json:"mean_cm"`
	StdDev float64 `json:"stddev_cm"`
	Median float64 `json:"median_cm"`
	P05    float64 `json:"p05_cm"`
}

// Summarise computes Stats over values. The zero Stats is returned for an
// empty input.
func Summarise(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(sorted, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Stats{
		Count:  len(sorted),
		Min:    floats.Min(sorted),
		Max:    floats.Max(sorted),
		Mean:   mean,
		StdDev: std,
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P05:    stat.Quantile(0.05, stat.Empirical, sorted, nil),
	}
}

// Minimum margin kept between the empty-gate baseline and the threshold.
const (
	minMarginCM       = 10
	minThresholdCM    = 5
	noiseMarginStdDev = 3
)

// SuggestThreshold proposes a presence threshold from readings taken with the
// gate empty: the low end of the baseline minus a noise margin. ok is false
// when the baseline is too short to leave room for a threshold.
func SuggestThreshold(baseline Stats) (int, bool) {
	if baseline.Count == 0 {
		return 0, false
	}
	margin := math.Max(noiseMarginStdDev*baseline.StdDev, minMarginCM)
	suggested := int(math.Floor(baseline.P05 - margin))
	if suggested < minThresholdCM {
		return 0, false
	}
	return suggested, true
}
