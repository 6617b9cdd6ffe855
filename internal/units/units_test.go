package units

import (
	"math"
	"testing"
)

func TestFormatCentiseconds(t *testing.T) {
	tests := []struct {
		name string
		ms   int64
		want string
	}{
		{"zero", 0, "0.00"},
		{"sub centisecond truncates", 9, "0.00"},
		{"one centisecond", 10, "0.01"},
		{"sprint time", 10437, "10.43"},
		{"whole seconds", 5000, "5.00"},
		{"over a minute", 61234, "61.23"},
		{"negative clamps", -40, "0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatCentiseconds(tt.ms); got != tt.want {
				t.Errorf("FormatCentiseconds(%d) = %q, want %q", tt.ms, got, tt.want)
			}
		})
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := FormatElapsed(3456); got != "3.45s" {
		t.Errorf("FormatElapsed(3456) = %q, want %q", got, "3.45s")
	}
}

func TestCentimetersToMeters(t *testing.T) {
	if got := CentimetersToMeters(125); math.Abs(got-1.25) > 1e-9 {
		t.Errorf("CentimetersToMeters(125) = %f, want 1.25", got)
	}
}
