// Package segindex answers nearest-segment queries over a built plan. Segments
// are bucketed by the s2 cells their bounding caps touch at a fixed level, so
// a query only looks at segments sharing a cell with its search cap.
package segindex

import (
	"math"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/pqueue"
)

const (
	// Level is the s2 cell level used for buckets; cells are roughly 600 m
	// across.
	Level = 14

	// maxQueryCells bounds the covering of a query cap. Larger searches scan
	// every segment instead.
	maxQueryCells = 256

	// boundSlack absorbs rounding in the cap lower bound, in metres.
	boundSlack = 1e-6
)

type bound struct {
	mid     s2.Point
	halfLen float64
}

// Index is an immutable nearest-segment index; it is safe for concurrent
// use.
type Index struct {
	plan    *plan.PlanData
	cells   map[s2.CellID][]plan.SegmentID
	bounds  []bound
	coverer *s2.RegionCoverer
}

// New indexes every segment of pd.
func New(pd *plan.PlanData) *Index {
	ix := &Index{
		plan:    pd,
		cells:   make(map[s2.CellID][]plan.SegmentID),
		bounds:  make([]bound, len(pd.Segments)),
		coverer: &s2.RegionCoverer{MinLevel: Level, MaxLevel: Level, MaxCells: maxQueryCells},
	}
	for _, s := range pd.Segments {
		mid := geo.Midpoint(s.A, s.B)
		half := math.Max(geo.Distance(mid, s.A), geo.Distance(mid, s.B))
		ix.bounds[s.ID] = bound{mid: mid.S2(), halfLen: half}
		c := s2.CapFromCenterAngle(mid.S2(), geo.MetersToAngle(half+1))
		for _, id := range ix.coverer.Covering(c) {
			ix.cells[id] = append(ix.cells[id], s.ID)
		}
	}
	return ix
}

// Plan returns the indexed plan.
func (ix *Index) Plan() *plan.PlanData { return ix.plan }

// lowerBound never exceeds the exact distance from p to the segment.
func (ix *Index) lowerBound(p s2.Point, id plan.SegmentID) float64 {
	b := ix.bounds[id]
	return math.Max(0, geo.AngleToMeters(p.Distance(b.mid))-b.halfLen-boundSlack)
}

// segmentDistance is the distance from p to s. Endpoint distances are taken
// directly so a nearest endpoint gives the same value on every query path.
func segmentDistance(p geo.Point, s plan.Segment) float64 {
	d := math.Min(geo.Distance(p, s.A), geo.Distance(p, s.B))
	return math.Min(d, geo.DistanceToArcSegment(p, s.A, s.B))
}

// visit calls fn once per segment that may lie within max of p.
func (ix *Index) visit(p geo.Point, max float64, fn func(plan.SegmentID)) {
	if len(ix.plan.Segments) == 0 || max < 0 {
		return
	}
	cellEdge := s2.AvgEdgeMetric.Value(Level) * geo.EarthRadiusMeters
	if max > cellEdge*math.Sqrt(maxQueryCells)/2 {
		for i := range ix.plan.Segments {
			fn(plan.SegmentID(i))
		}
		return
	}
	seen := make(map[plan.SegmentID]bool)
	c := s2.CapFromCenterAngle(p.S2(), geo.MetersToAngle(max)+s1.Angle(1e-12))
	for _, cell := range ix.coverer.Covering(c) {
		for _, id := range ix.cells[cell] {
			if !seen[id] {
				seen[id] = true
				fn(id)
			}
		}
	}
}

// FindClosest returns the segment nearest to p, pinned at the projection of
// p, provided it lies within max metres.
func (ix *Index) FindClosest(p geo.Point, max float64) (plan.PinnedSegment, bool) {
	if !p.Valid() {
		return plan.PinnedSegment{}, false
	}
	ps := p.S2()
	q := pqueue.NewTagged[plan.SegmentID, struct{}]()
	ix.visit(p, max, func(id plan.SegmentID) {
		if lb := ix.lowerBound(ps, id); lb <= max {
			q.Upsert(id, struct{}{}, lb)
		}
	})

	var best plan.PinnedSegment
	found := false
	bestD := max
	for q.Len() > 0 {
		id, _, lb := q.Pop()
		if lb > bestD {
			break
		}
		d := segmentDistance(p, ix.plan.Segments[id])
		if d > bestD || (d == bestD && found && id > best.Segment) {
			continue
		}
		best = plan.PinnedSegment{Segment: id, Distance: d}
		bestD = d
		found = true
	}
	if !found {
		return plan.PinnedSegment{}, false
	}
	s := ix.plan.Segments[best.Segment]
	best.Pin = geo.Project(p, s.A, s.B)
	return best, true
}

// IsWithinLimit reports whether some segment lies within max metres of p.
// The returned distance is an upper bound on the exact nearest distance: it
// first tries segment endpoints and only falls back to exact arc distances
// when no endpoint is close enough.
func (ix *Index) IsWithinLimit(p geo.Point, max float64) (float64, bool) {
	if !p.Valid() {
		return 0, false
	}
	var cands []plan.SegmentID
	approx := math.Inf(1)
	ix.visit(p, max, func(id plan.SegmentID) {
		cands = append(cands, id)
		if approx <= max {
			return
		}
		s := ix.plan.Segments[id]
		if d := math.Min(geo.Distance(p, s.A), geo.Distance(p, s.B)); d <= max {
			approx = d
		}
	})
	if approx <= max {
		return approx, true
	}

	ps := p.S2()
	best := math.Inf(1)
	for _, id := range cands {
		if ix.lowerBound(ps, id) > max {
			continue
		}
		if d := segmentDistance(p, ix.plan.Segments[id]); d <= max {
			best = d
			break
		}
	}
	if best <= max {
		return best, true
	}
	return 0, false
}
