package segindex

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
)

var origin = geo.Point{Lat: 46.2, Lon: 7.1}

// randomPlan builds a plan from a few random walks around origin.
func randomPlan(t *testing.T, seed int64) *plan.PlanData {
	t.Helper()
	monitoring.SetLogger(nil)
	rng := rand.New(rand.NewSource(seed))
	var tracks []plan.Track
	for i := 0; i < 4; i++ {
		p := geo.Destination(origin, rng.Float64()*360, rng.Float64()*2000)
		brg := rng.Float64() * 360
		var tr plan.Track
		for j := 0; j < 40; j++ {
			tr.Points = append(tr.Points, plan.TrackPoint{Point: p})
			brg += rng.Float64()*40 - 20
			p = geo.Destination(p, brg, 50+rng.Float64()*150)
		}
		tracks = append(tracks, tr)
	}
	pd, err := plan.Build(context.Background(), plan.Source{Tracks: tracks}, plan.Options{})
	require.NoError(t, err)
	require.NotEmpty(t, pd.Segments)
	return pd
}

func bruteForce(pd *plan.PlanData, p geo.Point, max float64) (plan.SegmentID, float64, bool) {
	best, bestD := plan.SegmentID(-1), math.Inf(1)
	for _, s := range pd.Segments {
		if d := segmentDistance(p, s); d < bestD {
			best, bestD = s.ID, d
		}
	}
	return best, bestD, bestD <= max
}

func TestFindClosestMatchesBruteForce(t *testing.T) {
	pd := randomPlan(t, 1)
	ix := New(pd)
	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 400; i++ {
		p := geo.Destination(origin, rng.Float64()*360, rng.Float64()*4000)
		max := []float64{25, 100, 500, 3000, 20000}[i%5]

		wantID, wantD, wantOK := bruteForce(pd, p, max)
		got, ok := ix.FindClosest(p, max)
		require.Equalf(t, wantOK, ok, "query %d at %v max %v (brute %.2f)", i, p, max, wantD)
		if !ok {
			continue
		}
		assert.InDeltaf(t, wantD, got.Distance, 1e-6, "query %d", i)
		if got.Segment != wantID {
			// Only acceptable on an exact tie.
			s := pd.Segment(got.Segment)
			assert.InDelta(t, wantD, segmentDistance(p, s), 1e-9)
		}
		s := pd.Segment(got.Segment)
		assert.InDelta(t, got.Distance, geo.Distance(p, got.Pin), 1e-3)
		assert.InDelta(t, 0, geo.DistanceToArcSegment(got.Pin, s.A, s.B), 1e-3)
	}
}

func TestIsWithinLimitIsConservative(t *testing.T) {
	pd := randomPlan(t, 2)
	ix := New(pd)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 400; i++ {
		p := geo.Destination(origin, rng.Float64()*360, rng.Float64()*4000)
		max := []float64{10, 50, 200, 1000}[i%4]

		approx, within := ix.IsWithinLimit(p, max)
		exact, found := ix.FindClosest(p, max)
		if !within {
			assert.Falsef(t, found, "query %d: IsWithinLimit false but FindClosest found %.2f", i, exact.Distance)
			continue
		}
		require.Truef(t, found, "query %d", i)
		assert.GreaterOrEqualf(t, approx, exact.Distance, "query %d", i)
		assert.LessOrEqual(t, approx, max)
	}
}

func TestEndpointDistanceSharedByBothQueries(t *testing.T) {
	monitoring.SetLogger(nil)
	a := origin
	b := geo.Destination(a, 60, 400)
	pd, err := plan.Build(context.Background(), plan.Source{Tracks: []plan.Track{{
		Points: []plan.TrackPoint{{Point: a}, {Point: b}},
	}}}, plan.Options{})
	require.NoError(t, err)
	ix := New(pd)

	for _, off := range []float64{0.5, 3, 17, 120, 876} {
		// Beyond b along the segment and off to the side, so b is nearest.
		for _, brg := range []float64{60, 100, 20} {
			p := geo.Destination(b, brg, off)
			approx, within := ix.IsWithinLimit(p, 1000)
			exact, found := ix.FindClosest(p, 1000)
			require.True(t, within)
			require.True(t, found)
			assert.GreaterOrEqualf(t, approx, exact.Distance, "offset %v bearing %v", off, brg)
			assert.LessOrEqualf(t, exact.Distance, geo.Distance(p, b), "offset %v bearing %v", off, brg)
		}
	}
}

func TestEmptyPlan(t *testing.T) {
	ix := New(&plan.PlanData{})
	_, ok := ix.FindClosest(origin, 1000)
	assert.False(t, ok)
	_, ok = ix.IsWithinLimit(origin, 1000)
	assert.False(t, ok)
}

func TestInvalidQueryPoint(t *testing.T) {
	ix := New(randomPlan(t, 3))
	_, ok := ix.FindClosest(geo.Point{Lat: math.NaN(), Lon: 0}, 1000)
	assert.False(t, ok)
	_, ok = ix.IsWithinLimit(geo.Point{Lat: 95, Lon: 0}, 1000)
	assert.False(t, ok)
}

func TestConcurrentQueries(t *testing.T) {
	pd := randomPlan(t, 4)
	ix := New(pd)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for i := 0; i < 100; i++ {
				p := geo.Destination(origin, rng.Float64()*360, rng.Float64()*3000)
				ix.FindClosest(p, 300)
				ix.IsWithinLimit(p, 300)
			}
		}(int64(g))
	}
	wg.Wait()
}
