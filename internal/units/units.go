// Package units provides the distance unit constant shared with display
// clients and formatting helpers for elapsed times.
package units

import (
	"fmt"
	"strings"
)

// Centimeters is the only distance unit reported by the sensor.
const Centimeters = "cm"

// CentimetersToMeters converts a sensor distance to meters.
func CentimetersToMeters(cm int) float64 {
	return float64(cm) / 100
}

// FormatCentiseconds renders an elapsed time in milliseconds with 0.01 s
// precision, truncating rather than rounding so a displayed time never runs
// ahead of the measured one. Negative durations are clamped to zero.
func FormatCentiseconds(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	cs := ms / 10
	return fmt.Sprintf("%d.%02d", cs/100, cs%100)
}

// FormatElapsed renders an elapsed time as the display shows it, with a
// trailing "s".
func FormatElapsed(ms int64) string {
	var b strings.Builder
	b.WriteString(FormatCentiseconds(ms))
	b.WriteString("s")
	return b.String()
}
