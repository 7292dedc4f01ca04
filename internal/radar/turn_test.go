package radar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/segindex"
)

func TestClassifyTurn(t *testing.T) {
	tests := []struct {
		angle float64
		want  AlarmKind
	}{
		{0, GoAhead},
		{-19.9, GoAhead},
		{20, RightEasy},
		{-45, LeftEasy},
		{60, RightCross},
		{-90, LeftCross},
		{119, RightCross},
		{120, RightSharp},
		{-150, LeftSharp},
		{180, RightSharp},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, ClassifyTurn(tt.angle), "angle %v", tt.angle)
	}
}

func pin(t *testing.T, pd *plan.PlanData, p geo.Point) plan.PinnedSegment {
	t.Helper()
	ps, ok := segindex.New(pd).FindClosest(p, 100)
	require.True(t, ok)
	return ps
}

func TestTurnLookoutAnnouncesOnceWithinInterval(t *testing.T) {
	pd, corner := lPlan(t)
	l := NewTurnLookout(pd, DefaultConfig())
	ps := pin(t, pd, along(950, 3))

	ahead, ok := l.Ahead(ps, 90)
	require.True(t, ok)
	assert.Equal(t, corner, ahead.Turn.Point)
	assert.Equal(t, "corner", ahead.Turn.Waypoint)
	assert.Equal(t, LeftCross, ahead.Kind)
	assert.InDelta(t, 50, ahead.Distance, 0.5)

	got := l.Check(t0, ps, 90, 5)
	require.Len(t, got, 1)
	assert.Equal(t, LeftCross, got[0].Kind)

	assert.Empty(t, l.Check(t0.Add(30*time.Second), ps, 90, 5), "rate limited")
	assert.Len(t, l.Check(t0.Add(61*time.Second), ps, 90, 5), 1)

	l.Reset()
	assert.Len(t, l.Check(t0.Add(62*time.Second), ps, 90, 5), 1)
}

func TestTurnLookoutAlertDistance(t *testing.T) {
	pd, _ := lPlan(t)
	l := NewTurnLookout(pd, DefaultConfig())
	assert.Equal(t, MinTurnAlertDistance, l.AlertDistance(0))
	assert.InDelta(t, 100, l.AlertDistance(5), 1e-9)

	far := pin(t, pd, along(500, 0))
	assert.Empty(t, l.Check(t0, far, 90, 5), "500 m out at 5 m/s is too early")
	assert.Len(t, l.Check(t0, far, 90, 30), 1, "600 m budget at 30 m/s")
}

func TestTurnLookoutFollowsHeading(t *testing.T) {
	pd, _ := lPlan(t)
	l := NewTurnLookout(pd, DefaultConfig())
	ps := pin(t, pd, along(950, 0))
	_, ok := l.Ahead(ps, 270)
	assert.False(t, ok, "riding back toward the start there is no turn ahead")
	assert.Empty(t, l.Check(t0, ps, 270, 5))
}

func TestTurnLookoutDoubleTurn(t *testing.T) {
	c1 := along(1000, 0)
	c2 := geo.Destination(c1, 0, 60)
	pts := line(0, 1000, 100)
	pts = append(pts, plan.TrackPoint{Point: c2})
	for d := 100.0; d <= 500; d += 100 {
		pts = append(pts, plan.TrackPoint{Point: geo.Destination(c2, 90, d)})
	}
	pd := buildPlan(t, plan.Source{
		Tracks:    []plan.Track{{Points: pts}},
		Waypoints: []plan.Waypoint{{Point: c1, Name: "first"}, {Point: c2, Name: "second"}},
	})

	l := NewTurnLookout(pd, DefaultConfig())
	got := l.Check(t0, pin(t, pd, along(950, 0)), 90, 5)
	require.Len(t, got, 2)
	assert.Equal(t, LeftCross, got[0].Kind)
	assert.Equal(t, "first", got[0].Turn.Waypoint)
	assert.Equal(t, RightCross, got[1].Kind)
	assert.Equal(t, "second", got[1].Turn.Waypoint)
	assert.InDelta(t, 110, got[1].Distance, 1)

	// The second turn's slot was claimed too.
	assert.Empty(t, l.Check(t0.Add(10*time.Second), pin(t, pd, geo.Destination(c1, 0, 30)), 0, 5))
}

func TestTurnLookoutCrossroadWithoutExit(t *testing.T) {
	// Track A runs east and stops on the middle of north-south track B.
	x := along(1000, 0)
	south, north := geo.Destination(x, 180, 500), geo.Destination(x, 0, 500)
	pd := buildPlan(t, plan.Source{Tracks: []plan.Track{
		{Points: line(0, 1000, 100)},
		{Points: []plan.TrackPoint{{Point: south}, {Point: north}}},
	}})
	require.Len(t, pd.Crossroads, 1)

	l := NewTurnLookout(pd, DefaultConfig())
	got := l.Check(t0, pin(t, pd, along(940, 0)), 90, 5)
	require.Len(t, got, 1)
	assert.Equal(t, Crossroad, got[0].Kind)
}
