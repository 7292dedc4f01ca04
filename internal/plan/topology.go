package plan

import (
	"math"
	"sort"

	"github.com/banshee-data/route.radar/internal/geo"
)

type topology struct {
	verts []geo.Point
	edges []edge
	wps   map[int32]Waypoint
	opts  Options

	inc       map[int32][]int
	section   []int
	sections  int
	crossroad map[int32]bool
	// joins are vertices where two track ends were joined into one section.
	joins []int32

	crossroads []Crossroad
	turns      map[geo.Point]*turnVertex
	graph      map[geo.Point]TurnInfo
}

func newTopology(verts []geo.Point, edges []edge, wps map[int32]Waypoint, opts Options) *topology {
	g := &topology{
		verts:     verts,
		edges:     edges,
		wps:       wps,
		opts:      opts,
		inc:       make(map[int32][]int),
		section:   make([]int, len(edges)),
		crossroad: make(map[int32]bool),
		turns:     make(map[geo.Point]*turnVertex),
		graph:     make(map[geo.Point]TurnInfo),
	}
	for i, e := range edges {
		g.inc[e.a] = append(g.inc[e.a], i)
		g.inc[e.b] = append(g.inc[e.b], i)
	}
	return g
}

func (g *topology) other(ei int, v int32) int32 {
	if g.edges[ei].a == v {
		return g.edges[ei].b
	}
	return g.edges[ei].a
}

func (g *topology) degree(v int32) int { return len(g.inc[v]) }

// sortedVertices returns the vertices in use, in creation order.
func (g *topology) sortedVertices() []int32 {
	out := make([]int32, 0, len(g.inc))
	for v := range g.inc {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// continues reports whether a section runs straight through v.
func (g *topology) continues(v int32) bool {
	if g.degree(v) != 2 {
		return false
	}
	if _, ok := g.wps[v]; ok {
		return false
	}
	e1, e2 := g.inc[v][0], g.inc[v][1]
	p := g.verts[v]
	u, w := g.verts[g.other(e1, v)], g.verts[g.other(e2, v)]
	in := geo.Bearing(p, u) + 180
	out := geo.Bearing(p, w)
	return math.Abs(geo.TurnAngle(in, out)) < g.opts.SectionBearingThreshold
}

func (g *topology) consecutive(e1, e2 int) bool {
	a, b := g.edges[e1], g.edges[e2]
	if a.track != b.track {
		return false
	}
	d := a.index - b.index
	return d == 1 || d == -1
}

// assignSections flood-fills section ids across straight continuations.
func (g *topology) assignSections() {
	for i := range g.edges {
		if g.section[i] != 0 {
			continue
		}
		g.sections++
		id := g.sections
		g.section[i] = id
		queue := []int{i}
		for len(queue) > 0 {
			e := queue[0]
			queue = queue[1:]
			for _, v := range []int32{g.edges[e].a, g.edges[e].b} {
				if !g.continues(v) {
					continue
				}
				for _, o := range g.inc[v] {
					if o != e && g.section[o] == 0 {
						g.section[o] = id
						queue = append(queue, o)
					}
				}
			}
		}
	}
	for _, v := range g.sortedVertices() {
		if g.continues(v) && !g.consecutive(g.inc[v][0], g.inc[v][1]) {
			g.joins = append(g.joins, v)
		}
	}
}

// findCrossroads records every junction where two or more sections meet.
func (g *topology) findCrossroads() {
	for _, v := range g.sortedVertices() {
		if g.degree(v) < 3 {
			continue
		}
		set := make(map[int]bool)
		for _, e := range g.inc[v] {
			set[g.section[e]] = true
		}
		if len(set) < 2 {
			continue
		}
		secs := make([]int, 0, len(set))
		for s := range set {
			secs = append(secs, s)
		}
		sort.Ints(secs)
		kind := CrossroadIntersection
		if _, ok := g.wps[v]; ok {
			kind = CrossroadWaypoint
		}
		g.crossroad[v] = true
		g.crossroads = append(g.crossroads, Crossroad{Point: g.verts[v], Kind: kind, Sections: secs})
	}
}

func (g *topology) isTurn(v int32) bool {
	if g.crossroad[v] {
		return true
	}
	_, ok := g.wps[v]
	return ok
}

// exitEdge picks the edge a rider leaves v on after arriving along in: the
// only other edge at a plain vertex, otherwise the continuation of the same
// track.
func (g *topology) exitEdge(v int32, in int) int {
	if g.degree(v) == 2 {
		for _, e := range g.inc[v] {
			if e != in {
				return e
			}
		}
	}
	for _, e := range g.inc[v] {
		if e != in && g.consecutive(in, e) && (g.edges[e].a == v || g.edges[e].b == v) {
			return e
		}
	}
	return -1
}

// buildTurns fills the turn vertex table and walks every chain between stop
// vertices to give each vertex its nearest turn in both directions.
func (g *topology) buildTurns() {
	order := g.sortedVertices()
	for _, v := range order {
		g.graph[g.verts[v]] = TurnInfo{}
		if !g.isTurn(v) {
			continue
		}
		tv := &turnVertex{
			point:     g.verts[v],
			waypoint:  g.wps[v].Name,
			crossroad: g.crossroad[v],
			exits:     make(map[geo.Point]geo.Point),
		}
		for _, in := range g.inc[v] {
			if out := g.exitEdge(v, in); out >= 0 {
				tv.exits[g.verts[g.other(in, v)]] = g.verts[g.other(out, v)]
			}
		}
		g.turns[tv.point] = tv
	}

	stop := func(v int32) bool { return g.isTurn(v) || g.degree(v) != 2 }
	cands := make(map[int32][]TurnPoint)
	walked := make([]bool, len(g.edges))
	for _, s := range order {
		if !stop(s) {
			continue
		}
		for _, first := range g.inc[s] {
			if walked[first] {
				continue
			}
			path := []int32{s}
			cum := []float64{0}
			cur, e := s, first
			for {
				walked[e] = true
				nxt := g.other(e, cur)
				path = append(path, nxt)
				cum = append(cum, cum[len(cum)-1]+geo.Distance(g.verts[cur], g.verts[nxt]))
				if stop(nxt) {
					break
				}
				for _, o := range g.inc[nxt] {
					if o != e {
						e = o
						break
					}
				}
				cur = nxt
			}

			n := len(path)
			total := cum[n-1]
			t := path[n-1]
			if tv := g.turns[g.verts[t]]; tv != nil {
				last := g.verts[path[n-2]]
				for i := 0; i < n-1; i++ {
					cands[path[i]] = append(cands[path[i]], tv.turnPoint(g.verts[path[i+1]], last, total-cum[i]))
				}
			}
			if tv := g.turns[g.verts[s]]; tv != nil {
				last := g.verts[path[1]]
				for i := 1; i < n; i++ {
					cands[path[i]] = append(cands[path[i]], tv.turnPoint(g.verts[path[i-1]], last, cum[i]))
				}
			}
		}
	}

	for v, list := range cands {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Distance < list[j].Distance })
		info := TurnInfo{Primary: &list[0]}
		if len(list) > 1 {
			info.Alternate = &list[1]
		}
		g.graph[g.verts[v]] = info
	}
}
