package radar

import (
	"math"
	"time"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
)

// Turn classification bands, in degrees of absolute turn angle.
const (
	goAheadLimit = 20.0
	easyLimit    = 60.0
	crossLimit   = 120.0
)

// ClassifyTurn maps a signed turn angle, positive to the right, to the alarm
// announcing it.
func ClassifyTurn(angle float64) AlarmKind {
	a := math.Abs(angle)
	right := angle > 0
	switch {
	case a < goAheadLimit:
		return GoAhead
	case a < easyLimit:
		return pick(right, RightEasy, LeftEasy)
	case a < crossLimit:
		return pick(right, RightCross, LeftCross)
	default:
		return pick(right, RightSharp, LeftSharp)
	}
}

func pick(right bool, r, l AlarmKind) AlarmKind {
	if right {
		return r
	}
	return l
}

// TurnAhead describes the next turn in the direction of travel.
type TurnAhead struct {
	Turn plan.TurnPoint
	// Distance is measured along the route from the rider's pin.
	Distance float64
	Kind     AlarmKind
}

// TurnLookout announces turns a rider is about to reach. Each turn vertex is
// announced at most once per TurnAheadAlarmInterval.
type TurnLookout struct {
	pd        *plan.PlanData
	cfg       Config
	lastAlarm map[geo.Point]time.Time
}

// NewTurnLookout watches turns of pd.
func NewTurnLookout(pd *plan.PlanData, cfg Config) *TurnLookout {
	return &TurnLookout{pd: pd, cfg: cfg.withDefaults(), lastAlarm: make(map[geo.Point]time.Time)}
}

// Reset forgets every announcement.
func (l *TurnLookout) Reset() {
	l.lastAlarm = make(map[geo.Point]time.Time)
}

// AlertDistance is how far ahead a turn is announced at speed.
func (l *TurnLookout) AlertDistance(speed float64) float64 {
	return math.Max(speed*l.cfg.TurnAheadAlarmDistance.Seconds(), MinTurnAlertDistance)
}

// Ahead finds the next turn for a rider pinned on ps heading along bearing.
// The segment is followed toward whichever endpoint the heading points at.
func (l *TurnLookout) Ahead(ps plan.PinnedSegment, heading float64) (TurnAhead, bool) {
	if int(ps.Segment) < 0 || int(ps.Segment) >= len(l.pd.Segments) {
		return TurnAhead{}, false
	}
	seg := l.pd.Segment(ps.Segment)
	from, to := seg.A, seg.B
	if math.Abs(geo.TurnAngle(seg.Bearing(), heading)) > 90 {
		from, to = to, from
	}
	tp, ok := l.pd.NextTurn(from, to)
	if !ok {
		return TurnAhead{}, false
	}
	kind, ok := turnKind(tp)
	if !ok {
		return TurnAhead{}, false
	}
	return TurnAhead{Turn: tp, Distance: geo.Distance(ps.Pin, to) + tp.Distance, Kind: kind}, true
}

// turnKind picks the alarm for tp. A crossroad with no known exit is
// announced as such; a turn vertex at a dead end is not announced.
func turnKind(tp plan.TurnPoint) (AlarmKind, bool) {
	if !tp.HasExit {
		return Crossroad, tp.Crossroad
	}
	return ClassifyTurn(tp.Angle()), true
}

// Check returns the turn alarms due for a rider pinned on ps. When the turn
// after the announced one follows within DoubleTurnAlarmDistance it is
// announced in the same breath.
func (l *TurnLookout) Check(now time.Time, ps plan.PinnedSegment, heading, speed float64) []TurnAhead {
	ahead, ok := l.Ahead(ps, heading)
	if !ok || ahead.Distance > l.AlertDistance(speed) || !l.due(ahead.Turn.Point, now) {
		return nil
	}
	out := []TurnAhead{ahead}

	tp := ahead.Turn
	if !tp.HasExit {
		return out
	}
	next, ok := l.pd.NextTurn(tp.Point, tp.Exit)
	if !ok || next.Point == tp.Point {
		return out
	}
	gap := geo.Distance(tp.Point, tp.Exit) + next.Distance
	if gap > l.cfg.DoubleTurnAlarmDistance {
		return out
	}
	kind, ok := turnKind(next)
	if ok && l.due(next.Point, now) {
		out = append(out, TurnAhead{Turn: next, Distance: ahead.Distance + gap, Kind: kind})
	}
	return out
}

// due claims the announcement slot of turn vertex p.
func (l *TurnLookout) due(p geo.Point, now time.Time) bool {
	if last, ok := l.lastAlarm[p]; ok && now.Sub(last) < l.cfg.TurnAheadAlarmInterval {
		return false
	}
	l.lastAlarm[p] = now
	return true
}
