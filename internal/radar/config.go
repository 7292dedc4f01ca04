package radar

import (
	"math"
	"time"

	"github.com/banshee-data/route.radar/internal/filter"
	"github.com/banshee-data/route.radar/internal/units"
)

// Config holds the ride settings read at ride start. Distances are metres,
// speeds metres per second.
type Config struct {
	OffTrackAlarmDistance   float64
	OffTrackAlarmInterval   time.Duration
	OffTrackAlarmCountLimit int

	RestSpeedThreshold   float64
	RidingSpeedThreshold float64

	// TurnAheadAlarmDistance is a time budget: the alert distance is the
	// distance covered at the current speed in this time.
	TurnAheadAlarmDistance  time.Duration
	TurnAheadAlarmInterval  time.Duration
	DoubleTurnAlarmDistance float64

	DriftWarningDistance        float64
	DriftMovingAwayCountLimit   int
	DriftComingCloserCountLimit int

	GpsFilter                         bool
	GpsFirstTimeout                   time.Duration
	GpsRepeatTimeout                  time.Duration
	StableSignalAcquisitionCountLimit int

	SearchRadius float64
	Filter       filter.Config

	// DistanceUnits selects the unit system of diagnostic messages.
	DistanceUnits string
}

// Minimum alert distance for turn-ahead alarms, in metres.
const MinTurnAlertDistance = 20.0

// DefaultConfig returns the stock ride settings.
func DefaultConfig() Config {
	return Config{
		OffTrackAlarmDistance:             50,
		OffTrackAlarmInterval:             30 * time.Second,
		OffTrackAlarmCountLimit:           3,
		RestSpeedThreshold:                0.5,
		RidingSpeedThreshold:              1.5,
		TurnAheadAlarmDistance:            20 * time.Second,
		TurnAheadAlarmInterval:            60 * time.Second,
		DoubleTurnAlarmDistance:           100,
		DriftWarningDistance:              25,
		DriftMovingAwayCountLimit:         4,
		DriftComingCloserCountLimit:       3,
		GpsFilter:                         true,
		GpsFirstTimeout:                   30 * time.Second,
		GpsRepeatTimeout:                  20 * time.Second,
		StableSignalAcquisitionCountLimit: 3,
		SearchRadius:                      500,
		DistanceUnits:                     units.Metric,
	}
}

// withDefaults fills unset fields from DefaultConfig. Zero leaves a field
// unset, except for the speed thresholds where zero is a valid setting and
// only a negative value is unset. GpsFilter is taken as given.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	setF := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	setSpeed := func(v *float64, def float64) {
		if *v < 0 || math.IsNaN(*v) {
			*v = def
		}
	}
	setD := func(v *time.Duration, def time.Duration) {
		if *v <= 0 {
			*v = def
		}
	}
	setI := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}
	setF(&c.OffTrackAlarmDistance, d.OffTrackAlarmDistance)
	setD(&c.OffTrackAlarmInterval, d.OffTrackAlarmInterval)
	setI(&c.OffTrackAlarmCountLimit, d.OffTrackAlarmCountLimit)
	setSpeed(&c.RestSpeedThreshold, d.RestSpeedThreshold)
	setSpeed(&c.RidingSpeedThreshold, d.RidingSpeedThreshold)
	setD(&c.TurnAheadAlarmDistance, d.TurnAheadAlarmDistance)
	setD(&c.TurnAheadAlarmInterval, d.TurnAheadAlarmInterval)
	setF(&c.DoubleTurnAlarmDistance, d.DoubleTurnAlarmDistance)
	setF(&c.DriftWarningDistance, d.DriftWarningDistance)
	setI(&c.DriftMovingAwayCountLimit, d.DriftMovingAwayCountLimit)
	setI(&c.DriftComingCloserCountLimit, d.DriftComingCloserCountLimit)
	setD(&c.GpsFirstTimeout, d.GpsFirstTimeout)
	setD(&c.GpsRepeatTimeout, d.GpsRepeatTimeout)
	setI(&c.StableSignalAcquisitionCountLimit, d.StableSignalAcquisitionCountLimit)
	setF(&c.SearchRadius, d.SearchRadius)
	if !units.IsValidSystem(c.DistanceUnits) {
		c.DistanceUnits = d.DistanceUnits
	}
	return c
}
