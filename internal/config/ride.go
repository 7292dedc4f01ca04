package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/route.radar/internal/filter"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/units"
)

// maxConfigSize caps the size of a ride config file.
const maxConfigSize = 1 * 1024 * 1024

// RideConfig holds the settings read at ride start. Every field is optional;
// the Get* accessors fall back to the stock defaults. Durations are strings
// such as "30s".
type RideConfig struct {
	OffTrackAlarmDistance   *float64 `json:"off_track_alarm_distance,omitempty"`
	OffTrackAlarmInterval   *string  `json:"off_track_alarm_interval,omitempty"`
	OffTrackAlarmCountLimit *int     `json:"off_track_alarm_count_limit,omitempty"`

	RestSpeedThreshold   *float64 `json:"rest_speed_threshold,omitempty"`
	RidingSpeedThreshold *float64 `json:"riding_speed_threshold,omitempty"`

	TurnAheadAlarmDistance  *string  `json:"turn_ahead_alarm_distance,omitempty"`
	TurnAheadAlarmInterval  *string  `json:"turn_ahead_alarm_interval,omitempty"`
	DoubleTurnAlarmDistance *float64 `json:"double_turn_alarm_distance,omitempty"`

	DriftWarningDistance        *float64 `json:"drift_warning_distance,omitempty"`
	DriftMovingAwayCountLimit   *int     `json:"drift_moving_away_count_limit,omitempty"`
	DriftComingCloserCountLimit *int     `json:"drift_coming_closer_count_limit,omitempty"`

	GpsFilter                         *bool   `json:"gps_filter,omitempty"`
	GpsFirstTimeout                   *string `json:"gps_first_timeout,omitempty"`
	GpsRepeatTimeout                  *string `json:"gps_repeat_timeout,omitempty"`
	StableSignalAcquisitionCountLimit *int    `json:"stable_signal_acquisition_count_limit,omitempty"`

	SearchRadius       *float64 `json:"search_radius,omitempty"`
	DebugIntrospection *bool    `json:"debug_introspection,omitempty"`
	DistanceUnits      *string  `json:"distance_units,omitempty"`

	// Filter tuning
	FilterAccelVariance *float64 `json:"filter_accel_variance,omitempty"`
	FilterMaxPredictDT  *string  `json:"filter_max_predict_dt,omitempty"`

	// Plan builder
	Tolerance               *float64 `json:"tolerance,omitempty"`
	SectionBearingThreshold *float64 `json:"section_bearing_threshold,omitempty"`
	WaypointSnapDistance    *float64 `json:"waypoint_snap_distance,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// DefaultRideConfig returns a config with every field set to its default.
func DefaultRideConfig() *RideConfig {
	d := radar.DefaultConfig()
	o := plan.DefaultOptions()
	return &RideConfig{
		OffTrackAlarmDistance:             ptrFloat64(d.OffTrackAlarmDistance),
		OffTrackAlarmInterval:             ptrString(d.OffTrackAlarmInterval.String()),
		OffTrackAlarmCountLimit:           ptrInt(d.OffTrackAlarmCountLimit),
		RestSpeedThreshold:                ptrFloat64(d.RestSpeedThreshold),
		RidingSpeedThreshold:              ptrFloat64(d.RidingSpeedThreshold),
		TurnAheadAlarmDistance:            ptrString(d.TurnAheadAlarmDistance.String()),
		TurnAheadAlarmInterval:            ptrString(d.TurnAheadAlarmInterval.String()),
		DoubleTurnAlarmDistance:           ptrFloat64(d.DoubleTurnAlarmDistance),
		DriftWarningDistance:              ptrFloat64(d.DriftWarningDistance),
		DriftMovingAwayCountLimit:         ptrInt(d.DriftMovingAwayCountLimit),
		DriftComingCloserCountLimit:       ptrInt(d.DriftComingCloserCountLimit),
		GpsFilter:                         ptrBool(d.GpsFilter),
		GpsFirstTimeout:                   ptrString(d.GpsFirstTimeout.String()),
		GpsRepeatTimeout:                  ptrString(d.GpsRepeatTimeout.String()),
		StableSignalAcquisitionCountLimit: ptrInt(d.StableSignalAcquisitionCountLimit),
		SearchRadius:                      ptrFloat64(d.SearchRadius),
		DebugIntrospection:                ptrBool(false),
		DistanceUnits:                     ptrString(d.DistanceUnits),
		FilterAccelVariance:               ptrFloat64(filter.DefaultAccelVariance),
		FilterMaxPredictDT:                ptrString(filter.DefaultMaxPredictDT.String()),
		Tolerance:                         ptrFloat64(o.Tolerance),
		SectionBearingThreshold:           ptrFloat64(o.SectionBearingThreshold),
		WaypointSnapDistance:              ptrFloat64(o.WaypointSnapDistance),
	}
}

// LoadRideConfig reads a RideConfig from a .json file of at most 1 MB.
// Fields missing from the file keep their defaults through the Get*
// accessors, so partial files are fine.
func LoadRideConfig(path string) (*RideConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := &RideConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set.
func (c *RideConfig) Validate() error {
	durations := map[string]*string{
		"off_track_alarm_interval":  c.OffTrackAlarmInterval,
		"turn_ahead_alarm_distance": c.TurnAheadAlarmDistance,
		"turn_ahead_alarm_interval": c.TurnAheadAlarmInterval,
		"gps_first_timeout":         c.GpsFirstTimeout,
		"gps_repeat_timeout":        c.GpsRepeatTimeout,
		"filter_max_predict_dt":     c.FilterMaxPredictDT,
	}
	for name, v := range durations {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, *v)
		}
	}

	positive := map[string]*float64{
		"off_track_alarm_distance":   c.OffTrackAlarmDistance,
		"double_turn_alarm_distance": c.DoubleTurnAlarmDistance,
		"drift_warning_distance":     c.DriftWarningDistance,
		"search_radius":              c.SearchRadius,
		"filter_accel_variance":      c.FilterAccelVariance,
		"tolerance":                  c.Tolerance,
		"waypoint_snap_distance":     c.WaypointSnapDistance,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	counts := map[string]*int{
		"off_track_alarm_count_limit":           c.OffTrackAlarmCountLimit,
		"drift_moving_away_count_limit":         c.DriftMovingAwayCountLimit,
		"drift_coming_closer_count_limit":       c.DriftComingCloserCountLimit,
		"stable_signal_acquisition_count_limit": c.StableSignalAcquisitionCountLimit,
	}
	for name, v := range counts {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	if c.RestSpeedThreshold != nil && *c.RestSpeedThreshold < 0 {
		return fmt.Errorf("rest_speed_threshold must be non-negative, got %f", *c.RestSpeedThreshold)
	}
	if c.GetRidingSpeedThreshold() < c.GetRestSpeedThreshold() {
		return fmt.Errorf("riding_speed_threshold %f is below rest_speed_threshold %f",
			c.GetRidingSpeedThreshold(), c.GetRestSpeedThreshold())
	}
	if c.GetDriftWarningDistance() >= c.GetOffTrackAlarmDistance() {
		return fmt.Errorf("drift_warning_distance %f must be below off_track_alarm_distance %f",
			c.GetDriftWarningDistance(), c.GetOffTrackAlarmDistance())
	}
	if t := c.SectionBearingThreshold; t != nil && (*t <= 0 || *t >= 180) {
		return fmt.Errorf("section_bearing_threshold must be in (0, 180), got %f", *t)
	}
	if u := c.DistanceUnits; u != nil && !units.IsValidSystem(*u) {
		return fmt.Errorf("distance_units must be one of %s, got %q", units.ValidSystemsString(), *u)
	}
	return nil
}

func getFloat(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func getInt(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}

func getBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// getDuration parses v, falling back to def when unset or unparsable.
func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

var defaults = radar.DefaultConfig()

func (c *RideConfig) GetOffTrackAlarmDistance() float64 {
	return getFloat(c.OffTrackAlarmDistance, defaults.OffTrackAlarmDistance)
}

func (c *RideConfig) GetOffTrackAlarmInterval() time.Duration {
	return getDuration(c.OffTrackAlarmInterval, defaults.OffTrackAlarmInterval)
}

func (c *RideConfig) GetOffTrackAlarmCountLimit() int {
	return getInt(c.OffTrackAlarmCountLimit, defaults.OffTrackAlarmCountLimit)
}

func (c *RideConfig) GetRestSpeedThreshold() float64 {
	return getFloat(c.RestSpeedThreshold, defaults.RestSpeedThreshold)
}

func (c *RideConfig) GetRidingSpeedThreshold() float64 {
	return getFloat(c.RidingSpeedThreshold, defaults.RidingSpeedThreshold)
}

// GetTurnAheadAlarmDistance returns the turn alert time budget.
func (c *RideConfig) GetTurnAheadAlarmDistance() time.Duration {
	return getDuration(c.TurnAheadAlarmDistance, defaults.TurnAheadAlarmDistance)
}

func (c *RideConfig) GetTurnAheadAlarmInterval() time.Duration {
	return getDuration(c.TurnAheadAlarmInterval, defaults.TurnAheadAlarmInterval)
}

func (c *RideConfig) GetDoubleTurnAlarmDistance() float64 {
	return getFloat(c.DoubleTurnAlarmDistance, defaults.DoubleTurnAlarmDistance)
}

func (c *RideConfig) GetDriftWarningDistance() float64 {
	return getFloat(c.DriftWarningDistance, defaults.DriftWarningDistance)
}

func (c *RideConfig) GetDriftMovingAwayCountLimit() int {
	return getInt(c.DriftMovingAwayCountLimit, defaults.DriftMovingAwayCountLimit)
}

func (c *RideConfig) GetDriftComingCloserCountLimit() int {
	return getInt(c.DriftComingCloserCountLimit, defaults.DriftComingCloserCountLimit)
}

func (c *RideConfig) GetGpsFilter() bool { return getBool(c.GpsFilter, defaults.GpsFilter) }

func (c *RideConfig) GetGpsFirstTimeout() time.Duration {
	return getDuration(c.GpsFirstTimeout, defaults.GpsFirstTimeout)
}

func (c *RideConfig) GetGpsRepeatTimeout() time.Duration {
	return getDuration(c.GpsRepeatTimeout, defaults.GpsRepeatTimeout)
}

func (c *RideConfig) GetStableSignalAcquisitionCountLimit() int {
	return getInt(c.StableSignalAcquisitionCountLimit, defaults.StableSignalAcquisitionCountLimit)
}

func (c *RideConfig) GetSearchRadius() float64 {
	return getFloat(c.SearchRadius, defaults.SearchRadius)
}

// GetDebugIntrospection reports whether plan introspection is recorded.
// It is off unless asked for.
func (c *RideConfig) GetDebugIntrospection() bool { return getBool(c.DebugIntrospection, false) }

func (c *RideConfig) GetDistanceUnits() string {
	if c.DistanceUnits == nil || !units.IsValidSystem(*c.DistanceUnits) {
		return defaults.DistanceUnits
	}
	return *c.DistanceUnits
}

// Radar converts the config into engine settings.
func (c *RideConfig) Radar() radar.Config {
	return radar.Config{
		OffTrackAlarmDistance:             c.GetOffTrackAlarmDistance(),
		OffTrackAlarmInterval:             c.GetOffTrackAlarmInterval(),
		OffTrackAlarmCountLimit:           c.GetOffTrackAlarmCountLimit(),
		RestSpeedThreshold:                c.GetRestSpeedThreshold(),
		RidingSpeedThreshold:              c.GetRidingSpeedThreshold(),
		TurnAheadAlarmDistance:            c.GetTurnAheadAlarmDistance(),
		TurnAheadAlarmInterval:            c.GetTurnAheadAlarmInterval(),
		DoubleTurnAlarmDistance:           c.GetDoubleTurnAlarmDistance(),
		DriftWarningDistance:              c.GetDriftWarningDistance(),
		DriftMovingAwayCountLimit:         c.GetDriftMovingAwayCountLimit(),
		DriftComingCloserCountLimit:       c.GetDriftComingCloserCountLimit(),
		GpsFilter:                         c.GetGpsFilter(),
		GpsFirstTimeout:                   c.GetGpsFirstTimeout(),
		GpsRepeatTimeout:                  c.GetGpsRepeatTimeout(),
		StableSignalAcquisitionCountLimit: c.GetStableSignalAcquisitionCountLimit(),
		SearchRadius:                      c.GetSearchRadius(),
		Filter:                            c.Filter(),
		DistanceUnits:                     c.GetDistanceUnits(),
	}
}

// Filter converts the filter tuning.
func (c *RideConfig) Filter() filter.Config {
	return filter.Config{
		AccelVariance: getFloat(c.FilterAccelVariance, filter.DefaultAccelVariance),
		MaxPredictDT:  getDuration(c.FilterMaxPredictDT, filter.DefaultMaxPredictDT),
	}
}

// PlanOptions converts the builder settings. debug receives introspection
// records when GetDebugIntrospection is set; it may be nil.
func (c *RideConfig) PlanOptions(debug *plan.Introspector) plan.Options {
	o := plan.DefaultOptions()
	o.Tolerance = getFloat(c.Tolerance, o.Tolerance)
	o.SectionBearingThreshold = getFloat(c.SectionBearingThreshold, o.SectionBearingThreshold)
	o.WaypointSnapDistance = getFloat(c.WaypointSnapDistance, o.WaypointSnapDistance)
	if debug != nil {
		debug.SetEnabled(c.GetDebugIntrospection())
		o.Debug = debug
	}
	return o
}
