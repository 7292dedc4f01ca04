package plan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
)

const (
	DefaultTolerance               = 3.0  // metres
	DefaultSectionBearingThreshold = 30.0 // degrees
	DefaultWaypointSnapDistance    = 25.0 // metres

	// cancelCheckEvery is how many pair tests run between context checks.
	cancelCheckEvery = 1024

	metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180
)

// Options tunes plan construction. Zero fields take their defaults.
type Options struct {
	// Tolerance is the distance within which points are treated as the
	// same vertex or as lying on an arc.
	Tolerance float64
	// SectionBearingThreshold is the largest turn at a vertex that still
	// continues a section.
	SectionBearingThreshold float64
	// WaypointSnapDistance is how far a waypoint may sit from the route and
	// still mark a turn vertex.
	WaypointSnapDistance float64
	// Debug receives construction events; nil disables introspection.
	Debug *Introspector
}

// DefaultOptions returns the default construction options.
func DefaultOptions() Options {
	return Options{
		Tolerance:               DefaultTolerance,
		SectionBearingThreshold: DefaultSectionBearingThreshold,
		WaypointSnapDistance:    DefaultWaypointSnapDistance,
	}
}

func (o Options) withDefaults() Options {
	if o.Tolerance <= 0 {
		o.Tolerance = DefaultTolerance
	}
	if o.SectionBearingThreshold <= 0 {
		o.SectionBearingThreshold = DefaultSectionBearingThreshold
	}
	if o.WaypointSnapDistance <= 0 {
		o.WaypointSnapDistance = DefaultWaypointSnapDistance
	}
	return o
}

type edge struct {
	a, b  int32
	track int
	index int
}

type gridKey struct{ x, y, z int64 }

type builder struct {
	ctx  context.Context
	opts Options

	verts []geo.Point
	grid  map[gridKey][]int32
	cell  float64
	edges []edge
	ops   int
}

// Build constructs the route graph for src. Construction checks ctx
// periodically and returns ErrNotCompleted when it is cancelled.
func Build(ctx context.Context, src Source, opts Options) (*PlanData, error) {
	start := time.Now()
	opts = opts.withDefaults()
	b := &builder{
		ctx:  ctx,
		opts: opts,
		grid: make(map[gridKey][]int32),
		cell: opts.Tolerance / geo.EarthRadiusMeters,
	}

	if err := b.checkCancel(); err != nil {
		return nil, err
	}
	b.addTracks(src.Tracks)
	if err := b.extend(); err != nil {
		return nil, err
	}
	if err := b.intersect(); err != nil {
		return nil, err
	}
	wps, err := b.placeWaypoints(src.Waypoints)
	if err != nil {
		return nil, err
	}

	pd := b.finish(src.Name, wps)
	opts.Debug.attach(pd)
	monitoring.Logf("plan %q: %d segments, %d sections, %d crossroads, %d waypoints in %v",
		src.Name, len(pd.Segments), pd.Sections, len(pd.Crossroads), len(pd.Waypoints), time.Since(start).Round(time.Millisecond))
	return pd, nil
}

func (b *builder) checkCancel() error {
	if err := b.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotCompleted, err)
	}
	return nil
}

func (b *builder) tick() error {
	b.ops++
	if b.ops%cancelCheckEvery == 0 {
		return b.checkCancel()
	}
	return nil
}

func (b *builder) key(v r3.Vector) gridKey {
	return gridKey{
		x: int64(math.Floor(v.X / b.cell)),
		y: int64(math.Floor(v.Y / b.cell)),
		z: int64(math.Floor(v.Z / b.cell)),
	}
}

// vertex returns the vertex within tolerance of p, creating one if needed.
// The second result reports whether p merged into an existing vertex.
func (b *builder) vertex(p geo.Point) (int32, bool) {
	k := b.key(p.S2().Vector)
	best, bestD := int32(-1), b.opts.Tolerance
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for dz := int64(-1); dz <= 1; dz++ {
				for _, id := range b.grid[gridKey{k.x + dx, k.y + dy, k.z + dz}] {
					if d := geo.Distance(b.verts[id], p); d <= bestD {
						best, bestD = id, d
					}
				}
			}
		}
	}
	if best >= 0 {
		return best, true
	}
	id := int32(len(b.verts))
	b.verts = append(b.verts, p)
	b.grid[k] = append(b.grid[k], id)
	return id, false
}

func (b *builder) addTracks(tracks []Track) {
	for ti, tr := range tracks {
		prev := int32(-1)
		idx := 0
		for _, tp := range tr.Points {
			if !tp.Point.Valid() {
				monitoring.Logf("plan: track %d: skipping invalid point %v", ti, tp.Point)
				continue
			}
			id, merged := b.vertex(tp.Point)
			if id == prev {
				continue
			}
			if merged {
				b.opts.Debug.RecordMerge(b.verts[id])
			}
			if prev >= 0 {
				b.edges = append(b.edges, edge{a: prev, b: id, track: ti, index: idx})
				idx++
			}
			prev = id
		}
	}
}

type box struct{ minLat, maxLat, minLon, maxLon float64 }

func (bx box) contains(p geo.Point) bool {
	return p.Lat >= bx.minLat && p.Lat <= bx.maxLat && p.Lon >= bx.minLon && p.Lon <= bx.maxLon
}

func (bx box) overlaps(o box) bool {
	return bx.minLat <= o.maxLat && o.minLat <= bx.maxLat && bx.minLon <= o.maxLon && o.minLon <= bx.maxLon
}

// boxes returns lat/lon bounds of every edge grown by margin metres.
func (b *builder) boxes(margin float64) []box {
	out := make([]box, len(b.edges))
	for i, e := range b.edges {
		pa, pb := b.verts[e.a], b.verts[e.b]
		dLat := margin / metersPerDegree
		cos := math.Max(math.Cos(math.Max(math.Abs(pa.Lat), math.Abs(pb.Lat))*math.Pi/180), 0.01)
		dLon := dLat / cos
		out[i] = box{
			minLat: math.Min(pa.Lat, pb.Lat) - dLat,
			maxLat: math.Max(pa.Lat, pb.Lat) + dLat,
			minLon: math.Min(pa.Lon, pb.Lon) - dLon,
			maxLon: math.Max(pa.Lon, pb.Lon) + dLon,
		}
	}
	return out
}

// extend splits every edge that has a foreign vertex lying on its interior.
func (b *builder) extend() error {
	if err := b.checkCancel(); err != nil {
		return err
	}
	used := make([]bool, len(b.verts))
	for _, e := range b.edges {
		used[e.a], used[e.b] = true, true
	}
	tol := b.opts.Tolerance
	boxes := b.boxes(tol)
	splits := make(map[int][]int32)
	for vi := range b.verts {
		if !used[vi] {
			continue
		}
		v := int32(vi)
		p := b.verts[vi]
		for ei, e := range b.edges {
			if err := b.tick(); err != nil {
				return err
			}
			if e.a == v || e.b == v || !boxes[ei].contains(p) {
				continue
			}
			pa, pb := b.verts[e.a], b.verts[e.b]
			if geo.DistanceToArcSegment(p, pa, pb) > tol {
				continue
			}
			if geo.Distance(p, pa) <= tol || geo.Distance(p, pb) <= tol {
				continue
			}
			splits[ei] = append(splits[ei], v)
			b.opts.Debug.RecordExtension(p)
		}
	}
	b.applySplits(splits)
	return nil
}

// intersect splits both edges of every genuine interior crossing.
func (b *builder) intersect() error {
	if err := b.checkCancel(); err != nil {
		return err
	}
	tol := b.opts.Tolerance
	boxes := b.boxes(1)
	splits := make(map[int][]int32)
	seen := make(map[int32]bool)
	for i := range b.edges {
		ei := b.edges[i]
		for j := i + 1; j < len(b.edges); j++ {
			if err := b.tick(); err != nil {
				return err
			}
			ej := b.edges[j]
			if ei.a == ej.a || ei.a == ej.b || ei.b == ej.a || ei.b == ej.b {
				continue
			}
			if !boxes[i].overlaps(boxes[j]) {
				continue
			}
			pts := geo.ArcSegmentIntersection(b.verts[ei.a], b.verts[ei.b], b.verts[ej.a], b.verts[ej.b])
			if len(pts) != 1 {
				continue
			}
			x := pts[0]
			if b.nearAny(x, tol, ei.a, ei.b, ej.a, ej.b) {
				continue
			}
			vid, _ := b.vertex(x)
			splits[i] = append(splits[i], vid)
			splits[j] = append(splits[j], vid)
			if !seen[vid] {
				seen[vid] = true
				b.opts.Debug.RecordIntersection(b.verts[vid])
			}
		}
	}
	b.applySplits(splits)
	return nil
}

func (b *builder) nearAny(p geo.Point, tol float64, ids ...int32) bool {
	for _, id := range ids {
		if geo.Distance(p, b.verts[id]) <= tol {
			return true
		}
	}
	return false
}

// applySplits replaces each split edge by its pieces in travel order and
// renumbers edge indices along every track.
func (b *builder) applySplits(splits map[int][]int32) {
	if len(splits) == 0 {
		return
	}
	out := make([]edge, 0, len(b.edges)+2*len(splits))
	for i, e := range b.edges {
		cuts := splits[i]
		if len(cuts) == 0 {
			out = append(out, e)
			continue
		}
		origin := b.verts[e.a]
		sort.Slice(cuts, func(x, y int) bool {
			return geo.Distance(origin, b.verts[cuts[x]]) < geo.Distance(origin, b.verts[cuts[y]])
		})
		prev := e.a
		for _, c := range cuts {
			if c == prev || c == e.b {
				continue
			}
			out = append(out, edge{a: prev, b: c, track: e.track})
			prev = c
		}
		out = append(out, edge{a: prev, b: e.b, track: e.track})
	}
	next := make(map[int]int)
	for i := range out {
		out[i].index = next[out[i].track]
		next[out[i].track]++
	}
	b.edges = out
}

// placeWaypoints snaps each waypoint to the closest vertex, splitting an
// edge at the waypoint's projection when no vertex is close enough.
func (b *builder) placeWaypoints(wps []Waypoint) (map[int32]Waypoint, error) {
	if err := b.checkCancel(); err != nil {
		return nil, err
	}
	out := make(map[int32]Waypoint)
	if len(b.edges) == 0 {
		return out, nil
	}
	snap := b.opts.WaypointSnapDistance
	splits := make(map[int][]int32)
	for _, wp := range wps {
		if !wp.Point.Valid() {
			monitoring.Logf("plan: skipping invalid waypoint %q at %v", wp.Name, wp.Point)
			continue
		}
		bestV, bestVD := int32(-1), math.Inf(1)
		bestE, bestED := -1, math.Inf(1)
		for ei, e := range b.edges {
			if err := b.tick(); err != nil {
				return nil, err
			}
			for _, v := range []int32{e.a, e.b} {
				if d := geo.Distance(wp.Point, b.verts[v]); d < bestVD {
					bestV, bestVD = v, d
				}
			}
			if d := geo.DistanceToArcSegment(wp.Point, b.verts[e.a], b.verts[e.b]); d < bestED {
				bestE, bestED = ei, d
			}
		}
		var v int32
		switch {
		case bestVD <= snap:
			v = bestV
		case bestED <= snap:
			e := b.edges[bestE]
			pin := geo.Project(wp.Point, b.verts[e.a], b.verts[e.b])
			v, _ = b.vertex(pin)
			splits[bestE] = append(splits[bestE], v)
		default:
			monitoring.Logf("plan: waypoint %q is %.0fm from the route, ignored", wp.Name, bestED)
			continue
		}
		if _, dup := out[v]; !dup {
			out[v] = Waypoint{Point: b.verts[v], Name: wp.Name}
		}
	}
	b.applySplits(splits)
	return out, nil
}

// finish assigns sections, crossroads and turn info and assembles PlanData.
func (b *builder) finish(name string, wps map[int32]Waypoint) *PlanData {
	g := newTopology(b.verts, b.edges, wps, b.opts)
	g.assignSections()
	g.findCrossroads()
	g.buildTurns()

	pd := &PlanData{
		Name:     name,
		Segments: make([]Segment, len(b.edges)),
		Graph:    g.graph,
		Sections: g.sections,
		turns:    g.turns,
	}
	for i, e := range b.edges {
		pd.Segments[i] = Segment{
			ID:      SegmentID(i),
			A:       b.verts[e.a],
			B:       b.verts[e.b],
			Section: g.section[i],
			Track:   e.track,
			Index:   e.index,
		}
	}
	pd.Crossroads = g.crossroads
	ids := make([]int32, 0, len(wps))
	for v := range wps {
		ids = append(ids, v)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, v := range ids {
		pd.Waypoints = append(pd.Waypoints, wps[v])
	}
	for _, e := range g.joins {
		b.opts.Debug.RecordExtension(b.verts[e])
	}
	return pd
}
