package sampler

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	readings []int
	pos      int
}

// ReadDistance returns the next scripted value; noReading marks a tick with
// no reading.
func (s *scriptedSource) ReadDistance() (int, bool) {
	if s.pos >= len(s.readings) {
		return 0, false
	}
	d := s.readings[s.pos]
	s.pos++
	if d == noReading {
		return 0, false
	}
	return d, true
}

const noReading = -1 << 31

func counter(start, step int64) Millis {
	now := start - step
	return func() int64 {
		now += step
		return now
	}
}

func TestChangeFilter_FirstReadingAlwaysPasses(t *testing.T) {
	f := ChangeFilter{Threshold: 3}
	assert.True(t, f.Accept(250))
	last, ok := f.Last()
	assert.True(t, ok)
	assert.Equal(t, 250, last)
}

func TestChangeFilter_Threshold(t *testing.T) {
	f := ChangeFilter{Threshold: 3}
	require.True(t, f.Accept(100))

	assert.False(t, f.Accept(102), "delta 2 is insignificant")
	assert.False(t, f.Accept(98), "delta -2 is insignificant")
	assert.True(t, f.Accept(103), "delta 3 is significant")
	assert.False(t, f.Accept(101), "compared against the last passed value")
	assert.True(t, f.Accept(100), "delta -3 is significant")
}

func TestChangeFilter_Forget(t *testing.T) {
	f := ChangeFilter{Threshold: 3}
	f.Accept(100)
	f.Forget()
	assert.True(t, f.Accept(101), "first reading after forget passes")
}

func TestChangeFilter_RandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 100; run++ {
		f := ChangeFilter{Threshold: 3}
		var passed []int
		for i := 0; i < 500; i++ {
			d := rng.Intn(40)
			if f.Accept(d) {
				passed = append(passed, d)
			}
		}
		for i := 1; i < len(passed); i++ {
			if abs(passed[i]-passed[i-1]) < 3 {
				t.Fatalf("consecutive passed readings %d and %d within threshold", passed[i-1], passed[i])
			}
		}
	}
}

func TestSampler_Poll(t *testing.T) {
	src := &scriptedSource{readings: []int{150, noReading, 151, -1, 40, 41, 150}}
	s := New(src, counter(1000, 5), 0)
	require.Equal(t, DefaultChangeThresholdCM, s.ChangeThreshold())

	type result struct {
		outcome     Outcome
		distance    int
		significant bool
	}
	var got []result
	for i := 0; i < len(src.readings); i++ {
		r, outcome := s.Poll()
		got = append(got, result{outcome, r.Sample.DistanceCM, r.Significant})
	}

	want := []result{
		{Valid, 150, true},
		{Missing, 0, false},
		{Valid, 151, false},
		{Invalid, 0, false},
		{Valid, 40, true},
		{Valid, 41, false},
		{Valid, 150, true},
	}
	assert.Equal(t, want, got)
}

func TestSampler_TimestampsOnlyValidReadings(t *testing.T) {
	src := &scriptedSource{readings: []int{noReading, -1, 120, 300}}
	s := New(src, counter(0, 10), 3)

	var stamps []int64
	for i := 0; i < 4; i++ {
		if r, outcome := s.Poll(); outcome == Valid {
			stamps = append(stamps, r.Sample.CapturedAtMs)
		}
	}
	assert.Equal(t, []int64{0, 10}, stamps)
}

func TestSampler_InvalidDoesNotDisturbFilter(t *testing.T) {
	src := &scriptedSource{readings: []int{100, -1, 101}}
	s := New(src, counter(0, 1), 3)

	s.Poll()
	s.Poll()
	r, outcome := s.Poll()
	require.Equal(t, Valid, outcome)
	assert.False(t, r.Significant)
}

func TestSampler_Forget(t *testing.T) {
	src := &scriptedSource{readings: []int{100, 101}}
	s := New(src, counter(0, 1), 3)

	s.Poll()
	s.Forget()
	r, _ := s.Poll()
	assert.True(t, r.Significant)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "valid", Valid.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "missing", Missing.String())
}
