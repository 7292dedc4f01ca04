package radar

import (
	"fmt"
	"math"
	"time"
)

// State is the engagement state of a ride.
type State int

const (
	StateDisengaged State = iota
	StateEngaged
	StateDrifting
	StateOffTrack
)

func (s State) String() string {
	switch s {
	case StateDisengaged:
		return "disengaged"
	case StateEngaged:
		return "engaged"
	case StateDrifting:
		return "drifting"
	case StateOffTrack:
		return "off_track"
	}
	return "unknown"
}

// MarshalText renders the state name, for JSON snapshots.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateDisengaged; st <= StateOffTrack; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// OnRoute reports whether the rider is being followed along the route.
func (s State) OnRoute() bool { return s == StateEngaged || s == StateDrifting }

// AlarmSequencer is the engagement state machine. It consumes the distance
// from the route and the ground speed of each accepted fix and returns the
// alarms the transition raises.
type AlarmSequencer struct {
	cfg   Config
	state State

	last    float64
	hasLast bool

	movingAway   int
	comingCloser int

	offTrackCount int
	lastOffTrack  time.Time
}

// NewAlarmSequencer starts disengaged.
func NewAlarmSequencer(cfg Config) *AlarmSequencer {
	return &AlarmSequencer{cfg: cfg.withDefaults()}
}

// Reset returns to the ride start state.
func (s *AlarmSequencer) Reset() {
	*s = AlarmSequencer{cfg: s.cfg}
}

func (s *AlarmSequencer) State() State       { return s.state }
func (s *AlarmSequencer) MovingAway() int    { return s.movingAway }
func (s *AlarmSequencer) ComingCloser() int  { return s.comingCloser }
func (s *AlarmSequencer) OffTrackCount() int { return s.offTrackCount }

// trackDrift updates the consecutive moving-away and coming-closer counts.
// An unchanged distance leaves both as they are.
func (s *AlarmSequencer) trackDrift(distance float64) (increased bool) {
	if s.hasLast {
		switch {
		case distance > s.last:
			s.movingAway++
			s.comingCloser = 0
			increased = true
		case distance < s.last:
			s.comingCloser++
			s.movingAway = 0
		}
	}
	s.last, s.hasLast = distance, true
	return increased
}

// Update advances the state machine. distance is +Inf when no segment lies
// within the search radius.
func (s *AlarmSequencer) Update(now time.Time, distance, speed float64) []AlarmKind {
	if math.IsNaN(distance) {
		return nil
	}
	increased := s.trackDrift(distance)
	c := &s.cfg

	switch s.state {
	case StateDisengaged:
		if distance <= c.OffTrackAlarmDistance &&
			(speed >= c.RidingSpeedThreshold || distance <= c.DriftWarningDistance) {
			s.state = StateEngaged
			s.offTrackCount = 0
			return []AlarmKind{Engaged}
		}

	case StateEngaged:
		switch {
		case distance > c.OffTrackAlarmDistance:
			return s.enterOffTrack(now)
		case distance > c.DriftWarningDistance:
			s.state = StateDrifting
			s.comingCloser = 0
			s.movingAway = 0
			if increased {
				s.movingAway = 1
			}
		}

	case StateDrifting:
		switch {
		case distance > c.OffTrackAlarmDistance:
			return s.enterOffTrack(now)
		case s.movingAway >= c.DriftMovingAwayCountLimit:
			return s.enterOffTrack(now)
		case s.comingCloser >= c.DriftComingCloserCountLimit, distance <= c.DriftWarningDistance:
			s.state = StateEngaged
		}

	case StateOffTrack:
		if distance <= c.OffTrackAlarmDistance {
			s.state = StateEngaged
			s.offTrackCount = 0
			return []AlarmKind{BackOnTrack}
		}
		if speed < c.RestSpeedThreshold {
			return nil
		}
		if now.Sub(s.lastOffTrack) < c.OffTrackAlarmInterval {
			return nil
		}
		if s.offTrackCount >= c.OffTrackAlarmCountLimit {
			s.state = StateDisengaged
			s.offTrackCount = 0
			return []AlarmKind{Disengage}
		}
		s.offTrackCount++
		s.lastOffTrack = now
		return []AlarmKind{OffTrack}
	}
	return nil
}

func (s *AlarmSequencer) enterOffTrack(now time.Time) []AlarmKind {
	s.state = StateOffTrack
	s.offTrackCount = 1
	s.lastOffTrack = now
	s.movingAway = 0
	return []AlarmKind{OffTrack}
}
