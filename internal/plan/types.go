// Package plan turns recorded tracks and waypoints into the route graph a
// ride is checked against: an arena of great-circle segments grouped into
// sections, the crossroads where sections meet, and per-vertex turn info.
package plan

import (
	"errors"
	"time"

	"github.com/banshee-data/route.radar/internal/geo"
)

// ErrNotCompleted is returned when plan construction is cancelled before it
// could produce a usable graph.
var ErrNotCompleted = errors.New("plan: construction not completed")

// TrackPoint is one recorded fix of a source track.
type TrackPoint struct {
	Point     geo.Point
	Elevation *float64
	Time      *time.Time
}

// Track is an ordered point sequence.
type Track struct {
	Name   string
	Points []TrackPoint
}

// Waypoint marks a point of interest, normally a turn.
type Waypoint struct {
	Point geo.Point `json:"point"`
	Name  string    `json:"name"`
}

// Source is the parsed input of a plan.
type Source struct {
	Name      string
	Tracks    []Track
	Waypoints []Waypoint
}

// SegmentID addresses a segment inside PlanData.Segments. Two segments are
// the same edge only when their IDs are equal.
type SegmentID int32

// Segment is one great-circle arc of the route.
type Segment struct {
	ID      SegmentID
	A, B    geo.Point
	Section int
	// Track and Index locate the segment in its source track. Index
	// increases along the track and survives splitting.
	Track int
	Index int
}

func (s Segment) Length() float64  { return geo.Distance(s.A, s.B) }
func (s Segment) Bearing() float64 { return geo.Bearing(s.A, s.B) }

// Other returns the endpoint of s that is not p.
func (s Segment) Other(p geo.Point) geo.Point {
	if s.A == p {
		return s.B
	}
	return s.A
}

// PinnedSegment is a segment together with the projection of a query point
// onto it.
type PinnedSegment struct {
	Segment  SegmentID
	Pin      geo.Point
	Distance float64
}

// Equal compares the segment by identity and the pin by value.
func (p PinnedSegment) Equal(o PinnedSegment) bool {
	return p.Segment == o.Segment && p.Pin == o.Pin
}

type CrossroadKind int

const (
	// CrossroadIntersection is a junction or crossing of separate sections.
	CrossroadIntersection CrossroadKind = iota
	// CrossroadWaypoint is a junction that also carries a turn waypoint.
	CrossroadWaypoint
)

func (k CrossroadKind) String() string {
	if k == CrossroadWaypoint {
		return "waypoint"
	}
	return "intersection"
}

// Crossroad is a vertex where at least two sections meet or cross.
type Crossroad struct {
	Point    geo.Point
	Kind     CrossroadKind
	Sections []int
}

// TurnPoint describes the next turn vertex reached from a vertex in one
// direction along the route.
type TurnPoint struct {
	Point geo.Point
	// Via is the first vertex stepped onto when leaving the owning vertex in
	// this direction; Last is the vertex just before Point.
	Via  geo.Point
	Last geo.Point
	// Distance is measured along the route from the owning vertex.
	Distance   float64
	InBearing  float64
	OutBearing float64
	// Exit is the vertex the route continues to after Point. It is only set
	// when HasExit is true.
	Exit      geo.Point
	HasExit   bool
	Waypoint  string
	Crossroad bool
}

// Angle returns the signed turn at Point, positive to the right.
func (t TurnPoint) Angle() float64 {
	return geo.TurnAngle(t.InBearing, t.OutBearing)
}

// TurnInfo holds the nearest turn in each direction; Primary is the nearer.
type TurnInfo struct {
	Primary   *TurnPoint
	Alternate *TurnPoint
}

// PlanData is the built route graph. It is immutable once returned by Build
// and safe for concurrent reads.
type PlanData struct {
	Name       string
	Segments   []Segment
	Crossroads []Crossroad
	Graph      map[geo.Point]TurnInfo
	Waypoints  []Waypoint
	Sections   int

	turns map[geo.Point]*turnVertex
}

type turnVertex struct {
	point     geo.Point
	waypoint  string
	crossroad bool
	// exits maps the vertex a rider arrives from to the vertex the route
	// continues to.
	exits map[geo.Point]geo.Point
}

// Segment returns the segment with the given ID.
func (pd *PlanData) Segment(id SegmentID) Segment {
	return pd.Segments[id]
}

// Empty reports whether the plan holds no segments.
func (pd *PlanData) Empty() bool { return len(pd.Segments) == 0 }

// IsTurn reports whether p is a turn vertex (waypoint or crossroad).
func (pd *PlanData) IsTurn(p geo.Point) bool {
	_, ok := pd.turns[p]
	return ok
}

// NextTurn returns the first turn met when travelling from vertex from to
// the adjacent vertex to and onwards. Distance in the result is measured
// from to.
func (pd *PlanData) NextTurn(from, to geo.Point) (TurnPoint, bool) {
	if tv, ok := pd.turns[to]; ok {
		return tv.turnPoint(from, from, 0), true
	}
	info, ok := pd.Graph[to]
	if !ok {
		return TurnPoint{}, false
	}
	for _, tp := range []*TurnPoint{info.Primary, info.Alternate} {
		if tp != nil && tp.Via != from {
			return *tp, true
		}
	}
	return TurnPoint{}, false
}

func (tv *turnVertex) turnPoint(via, last geo.Point, dist float64) TurnPoint {
	tp := TurnPoint{
		Point:     tv.point,
		Via:       via,
		Last:      last,
		Distance:  dist,
		InBearing: geo.NormalizeBearing(geo.Bearing(tv.point, last) + 180),
		Waypoint:  tv.waypoint,
		Crossroad: tv.crossroad,
	}
	if exit, ok := tv.exits[last]; ok {
		tp.Exit = exit
		tp.HasExit = true
		tp.OutBearing = geo.Bearing(tv.point, exit)
	}
	return tp
}
