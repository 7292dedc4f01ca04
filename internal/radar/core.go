// Package radar is the ride engine: it follows a rider against a built plan,
// drives the engagement state machine and the GPS watchdog, and emits alarms
// through a single AlarmMaster.
package radar

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/banshee-data/route.radar/internal/filter"
	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/segindex"
	"github.com/banshee-data/route.radar/internal/timeutil"
	"github.com/banshee-data/route.radar/internal/units"
)

var (
	// ErrInvalidFix is returned for fixes rejected at the update boundary.
	ErrInvalidFix = errors.New("radar: invalid fix")
	// ErrNoPlan is returned when an engine is created without a plan.
	ErrNoPlan = errors.New("radar: no plan")
)

// WatchdogInterval is how often Run ticks the GPS watchdog.
const WatchdogInterval = time.Second

// Fix is one location report. Altitude and Accuracy are optional; a zero
// Time means now on the engine clock.
type Fix struct {
	Position geo.Point `json:"position"`
	Altitude *float64  `json:"altitude,omitempty"`
	// Accuracy is the 1-sigma horizontal error in metres.
	Accuracy *float64  `json:"accuracy,omitempty"`
	Time     time.Time `json:"time"`
}

// Snapshot is a consistent copy of the engine state.
type Snapshot struct {
	State       State     `json:"state"`
	GpsAcquired bool      `json:"gps_acquired"`
	GpsLost     bool      `json:"gps_lost"`
	RideStart   time.Time `json:"ride_start"`
	LastFix     time.Time `json:"last_fix"`
	Fixes       int       `json:"fixes"`
	Rejected    int       `json:"rejected"`

	Raw      geo.Point `json:"raw"`
	Position geo.Point `json:"position"`
	Speed    float64   `json:"speed"`
	Heading  float64   `json:"heading"`

	// Distance to the route, or -1 when nothing lies within the search
	// radius.
	Distance float64             `json:"distance"`
	Pinned   *plan.PinnedSegment `json:"pinned,omitempty"`
	Section  int                 `json:"section,omitempty"`
	NextTurn *TurnAhead          `json:"next_turn,omitempty"`

	MovingAway    int `json:"moving_away"`
	ComingCloser  int `json:"coming_closer"`
	OffTrackCount int `json:"off_track_count"`
}

// RadarCore owns all per-ride state. UpdateLocation, Tick, Start and the
// read accessors are serialised by one mutex.
type RadarCore struct {
	mu    sync.Mutex
	cfg   Config
	clock timeutil.Clock

	plan     *plan.PlanData
	index    *segindex.Index
	filter   *filter.Kalman
	seq      *AlarmSequencer
	turns    *TurnLookout
	watchdog *GpsWatchdog
	master   *AlarmMaster

	started   bool
	rideStart time.Time
	hasFix    bool
	lastTime  time.Time
	raw       geo.Point
	position  geo.Point
	speed     float64
	heading   float64
	pinned    plan.PinnedSegment
	onPlan    bool
	fixes     int
	rejected  int
}

// New returns an engine for pd. The ride starts on the first Start call, or
// implicitly with the first fix.
func New(pd *plan.PlanData, cfg Config, clock timeutil.Clock, listeners ...Listener) (*RadarCore, error) {
	if pd == nil {
		return nil, ErrNoPlan
	}
	return NewWithIndex(segindex.New(pd), cfg, clock, listeners...)
}

// NewWithIndex is New over an index that may be shared with other rides on
// the same plan.
func NewWithIndex(ix *segindex.Index, cfg Config, clock timeutil.Clock, listeners ...Listener) (*RadarCore, error) {
	if ix == nil || ix.Plan() == nil {
		return nil, ErrNoPlan
	}
	pd := ix.Plan()
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cfg = cfg.withDefaults()
	return &RadarCore{
		cfg:      cfg,
		clock:    clock,
		plan:     pd,
		index:    ix,
		filter:   filter.New(cfg.Filter),
		seq:      NewAlarmSequencer(cfg),
		turns:    NewTurnLookout(pd, cfg),
		watchdog: NewGpsWatchdog(cfg, clock.Now()),
		master:   NewAlarmMaster(listeners...),
	}, nil
}

// Plan returns the plan being followed.
func (c *RadarCore) Plan() *plan.PlanData { return c.plan }

// Index returns the nearest-segment index over the plan.
func (c *RadarCore) Index() *segindex.Index { return c.index }

// Config returns the effective ride settings.
func (c *RadarCore) Config() Config { return c.cfg }

// AddListener registers l for subsequent alarms.
func (c *RadarCore) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.master.AddListener(l)
}

// Start begins a new ride at now, dropping all previous ride state.
func (c *RadarCore) Start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startLocked(now)
}

func (c *RadarCore) startLocked(now time.Time) {
	c.filter.Reset()
	c.seq.Reset()
	c.turns.Reset()
	c.watchdog.Reset(now)
	c.master.Reset()
	c.started = true
	c.rideStart = now
	c.hasFix = false
	c.lastTime = time.Time{}
	c.raw, c.position = geo.Point{}, geo.Point{}
	c.speed, c.heading = 0, 0
	c.pinned, c.onPlan = plan.PinnedSegment{}, false
	c.fixes, c.rejected = 0, 0
	c.master.Messagef(now, "ride started on %q", c.plan.Name)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (c *RadarCore) validate(f Fix) error {
	p := f.Position
	if !finite(p.Lat) || !finite(p.Lon) {
		return fmt.Errorf("%w: non-finite position %v", ErrInvalidFix, p)
	}
	if !p.Valid() {
		return fmt.Errorf("%w: position %v out of range", ErrInvalidFix, p)
	}
	if f.Altitude != nil && !finite(*f.Altitude) {
		return fmt.Errorf("%w: altitude %v", ErrInvalidFix, *f.Altitude)
	}
	if f.Accuracy != nil && (!finite(*f.Accuracy) || *f.Accuracy < 0) {
		return fmt.Errorf("%w: accuracy %v", ErrInvalidFix, *f.Accuracy)
	}
	if c.hasFix && f.Time.Before(c.lastTime) {
		return fmt.Errorf("%w: time %s before previous fix %s", ErrInvalidFix,
			f.Time.Format(time.RFC3339Nano), c.lastTime.Format(time.RFC3339Nano))
	}
	return nil
}

// UpdateLocation feeds one fix through the pipeline. Rejected fixes leave
// the state untouched and return an error wrapping ErrInvalidFix.
func (c *RadarCore) UpdateLocation(f Fix) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if f.Time.IsZero() {
		f.Time = c.clock.Now()
	}
	if err := c.validate(f); err != nil {
		c.rejected++
		monitoring.Logf("radar: rejected fix: %v", err)
		return err
	}
	if !c.started {
		c.startLocked(f.Time)
	}
	t := f.Time

	c.locate(f)
	c.lastTime = t
	c.hasFix = true
	c.fixes++

	if !c.watchdog.Fix(t) {
		c.master.Messagef(t, "gps: waiting for a stable signal (%d/%d)",
			c.watchdog.GoodFixes(), c.cfg.StableSignalAcquisitionCountLimit)
		return nil
	}

	distance := math.Inf(1)
	c.pinned, c.onPlan = c.index.FindClosest(c.position, c.cfg.SearchRadius)
	if c.onPlan {
		distance = c.pinned.Distance
	}

	before := c.seq.State()
	for _, k := range c.seq.Update(t, distance, c.speed) {
		e := Event{Kind: k, Time: t, Position: c.position}
		if c.onPlan {
			e.Distance = distance
		}
		c.master.Queue(e)
		c.describe(e, distance, before)
	}

	if c.onPlan && c.seq.State().OnRoute() && c.speed >= c.cfg.RestSpeedThreshold {
		for _, ta := range c.turns.Check(t, c.pinned, c.heading, c.speed) {
			c.master.Queue(Event{
				Kind:     ta.Kind,
				Time:     t,
				Position: c.position,
				Distance: ta.Distance,
				Waypoint: ta.Turn.Waypoint,
			})
			c.master.Messagef(t, "%s in %s", ta.Kind, units.FormatDistance(ta.Distance, c.cfg.DistanceUnits))
		}
	}
	c.master.Flush()
	return nil
}

// locate updates position, speed and heading from f.
func (c *RadarCore) locate(f Fix) {
	acc := math.NaN()
	if f.Accuracy != nil {
		acc = *f.Accuracy
	}
	prevRaw, prevTime, had := c.raw, c.lastTime, c.hasFix
	c.raw = f.Position

	if c.cfg.GpsFilter {
		pos, err := c.filter.Update(f.Position, acc, f.Time)
		if err != nil {
			monitoring.Logf("radar: filter: %v", err)
		}
		c.position = pos
		c.speed = c.filter.Speed()
		c.heading = c.filter.Heading()
		return
	}

	c.position = f.Position
	if !had {
		return
	}
	dt := f.Time.Sub(prevTime).Seconds()
	d := geo.Distance(prevRaw, f.Position)
	if dt > 0 {
		c.speed = d / dt
	}
	if d > 0 {
		c.heading = geo.Bearing(prevRaw, f.Position)
	}
}

func (c *RadarCore) describe(e Event, distance float64, before State) {
	dist := units.FormatDistance(distance, c.cfg.DistanceUnits)
	switch e.Kind {
	case Engaged:
		c.master.Messagef(e.Time, "engaged, %s from route", dist)
	case OffTrack:
		c.master.Messagef(e.Time, "off track, %s from route (alarm %d of %d, was %s)",
			dist, c.seq.OffTrackCount(), c.cfg.OffTrackAlarmCountLimit, before)
	case BackOnTrack:
		c.master.Messagef(e.Time, "back on track")
	case Disengage:
		c.master.Messagef(e.Time, "disengaged after %d off-track alarms", c.cfg.OffTrackAlarmCountLimit)
	}
}

// Tick runs the GPS watchdog at now.
func (c *RadarCore) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.watchdog.Tick(now) {
		c.master.Queue(Event{Kind: GpsLost, Time: now, Position: c.position})
		c.master.Messagef(now, "gps signal lost, last fix %s ago", now.Sub(c.lastFixTime()).Round(time.Second))
		c.master.Flush()
	}
}

func (c *RadarCore) lastFixTime() time.Time {
	if c.hasFix {
		return c.lastTime
	}
	return c.rideStart
}

// Run ticks the watchdog every WatchdogInterval on the engine clock until
// ctx is done.
func (c *RadarCore) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C():
			c.Tick(now)
		}
	}
}

// LastFired returns when an alarm of kind k was last emitted this ride.
func (c *RadarCore) LastFired(k AlarmKind) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.master.LastFired(k)
}

// Snapshot returns a copy of the current state.
func (c *RadarCore) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		State:         c.seq.State(),
		GpsAcquired:   c.watchdog.Acquired(),
		GpsLost:       c.watchdog.Lost(),
		RideStart:     c.rideStart,
		Fixes:         c.fixes,
		Rejected:      c.rejected,
		Raw:           c.raw,
		Position:      c.position,
		Speed:         c.speed,
		Heading:       c.heading,
		Distance:      -1,
		MovingAway:    c.seq.MovingAway(),
		ComingCloser:  c.seq.ComingCloser(),
		OffTrackCount: c.seq.OffTrackCount(),
	}
	if c.hasFix {
		s.LastFix = c.lastTime
	}
	if c.onPlan {
		p := c.pinned
		s.Pinned = &p
		s.Distance = p.Distance
		s.Section = c.plan.Segment(p.Segment).Section
		if ta, ok := c.turns.Ahead(p, c.heading); ok {
			s.NextTurn = &ta
		}
	}
	return s
}
