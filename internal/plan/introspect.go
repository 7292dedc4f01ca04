package plan

import (
	"sync"

	"github.com/banshee-data/route.radar/internal/geo"
)

// Counters summarises topology decisions taken while building a plan.
type Counters struct {
	Merges        int `json:"merges"`
	Extensions    int `json:"extensions"`
	Intersections int `json:"intersections"`
}

// Introspector records plan construction internals and exposes turn-info
// lookups for verification. It starts disabled; while disabled every method
// is a no-op and lookups report nothing. A nil *Introspector behaves as a
// disabled one.
type Introspector struct {
	mu       sync.Mutex
	enabled  bool
	counters Counters
	events   []Event
	plan     *PlanData
}

// EventKind names a recorded construction decision.
type EventKind string

const (
	EventMerge        EventKind = "merge"
	EventExtension    EventKind = "extension"
	EventIntersection EventKind = "intersection"
)

// Event is a single recorded construction decision.
type Event struct {
	Kind  EventKind `json:"kind"`
	Point geo.Point `json:"point"`
}

// NewIntrospector creates an introspector, initially disabled unless
// enabled is true.
func NewIntrospector(enabled bool) *Introspector {
	return &Introspector{enabled: enabled}
}

// SetEnabled turns recording on or off.
func (d *Introspector) SetEnabled(enabled bool) {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.enabled = enabled
	d.mu.Unlock()
}

// IsEnabled returns true if the introspector is recording.
func (d *Introspector) IsEnabled() bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

func (d *Introspector) record(kind EventKind, p geo.Point) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled {
		return
	}
	switch kind {
	case EventMerge:
		d.counters.Merges++
	case EventExtension:
		d.counters.Extensions++
	case EventIntersection:
		d.counters.Intersections++
	}
	d.events = append(d.events, Event{Kind: kind, Point: p})
}

func (d *Introspector) RecordMerge(p geo.Point)        { d.record(EventMerge, p) }
func (d *Introspector) RecordExtension(p geo.Point)    { d.record(EventExtension, p) }
func (d *Introspector) RecordIntersection(p geo.Point) { d.record(EventIntersection, p) }

// Counters returns the totals recorded so far.
func (d *Introspector) Counters() Counters {
	if d == nil {
		return Counters{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counters
}

// Events returns a copy of the recorded decisions.
func (d *Introspector) Events() []Event {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Event(nil), d.events...)
}

// Reset clears recorded state, keeping the enabled flag.
func (d *Introspector) Reset() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.counters = Counters{}
	d.events = nil
	d.plan = nil
}

func (d *Introspector) attach(pd *PlanData) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.enabled {
		d.plan = pd
	}
}

// TurnInfoAt returns the turn info stored for vertex p of the last plan
// built while enabled.
func (d *Introspector) TurnInfoAt(p geo.Point) (TurnInfo, bool) {
	if d == nil {
		return TurnInfo{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || d.plan == nil {
		return TurnInfo{}, false
	}
	info, ok := d.plan.Graph[p]
	return info, ok
}

// NearestVertex returns the plan vertex closest to p, for lookups from an
// arbitrary position.
func (d *Introspector) NearestVertex(p geo.Point) (geo.Point, bool) {
	if d == nil {
		return geo.Point{}, false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.enabled || d.plan == nil {
		return geo.Point{}, false
	}
	var best geo.Point
	bestD := -1.0
	for v := range d.plan.Graph {
		if dist := geo.Distance(p, v); bestD < 0 || dist < bestD {
			best, bestD = v, dist
		}
	}
	return best, bestD >= 0
}
