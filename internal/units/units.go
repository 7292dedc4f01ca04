// Package units converts engine values, always metres and metres per
// second, into the unit system a rider chose for messages.
package units

import (
	"fmt"
	"math"
	"strings"
)

// Speed units.
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Distance systems.
const (
	Metric   = "metric"
	Imperial = "imperial"
)

const (
	metersPerMile = 1609.344
	metersPerFoot = 0.3048
)

// ValidSpeedUnits lists the accepted speed units.
var ValidSpeedUnits = []string{MPS, MPH, KMPH, KPH}

// ValidSystems lists the accepted distance systems.
var ValidSystems = []string{Metric, Imperial}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// IsValidSpeed reports whether unit is a known speed unit.
func IsValidSpeed(unit string) bool { return contains(ValidSpeedUnits, unit) }

// IsValidSystem reports whether system is a known distance system.
func IsValidSystem(system string) bool { return contains(ValidSystems, system) }

// ValidSystemsString returns the accepted systems for error messages.
func ValidSystemsString() string { return strings.Join(ValidSystems, ", ") }

// ConvertSpeed converts metres per second to unit. Unknown units leave the
// value unchanged.
func ConvertSpeed(mps float64, unit string) float64 {
	switch unit {
	case MPH:
		return mps * 3600 / metersPerMile
	case KMPH, KPH:
		return mps * 3.6
	default:
		return mps
	}
}

// FormatSpeed renders a speed with its unit suffix.
func FormatSpeed(mps float64, unit string) string {
	switch unit {
	case MPH:
		return fmt.Sprintf("%.1f mph", ConvertSpeed(mps, unit))
	case KMPH, KPH:
		return fmt.Sprintf("%.1f km/h", ConvertSpeed(mps, unit))
	default:
		return fmt.Sprintf("%.1f m/s", mps)
	}
}

// FormatDistance renders a distance the way it is spoken: rounded to a step
// that shrinks as the rider gets closer.
func FormatDistance(meters float64, system string) string {
	if math.IsNaN(meters) || math.IsInf(meters, 0) {
		return "unknown distance"
	}
	if system == Imperial {
		if miles := meters / metersPerMile; miles >= 0.25 {
			return fmt.Sprintf("%.1f miles", miles)
		}
		return fmt.Sprintf("%d feet", roundTo(meters/metersPerFoot, 10))
	}
	if meters >= 1000 {
		return fmt.Sprintf("%.1f km", meters/1000)
	}
	step := 10.0
	if meters < 100 {
		step = 5
	}
	return fmt.Sprintf("%d metres", roundTo(meters, step))
}

func roundTo(v, step float64) int {
	return int(math.Round(v/step) * step)
}
