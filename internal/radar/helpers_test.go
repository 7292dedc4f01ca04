package radar

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var (
	origin = geo.Point{Lat: 46.0, Lon: 7.0}
	t0     = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
)

// along returns the point x metres east of origin, y metres to the north
// of the route.
func along(x, y float64) geo.Point {
	p := geo.Destination(origin, 90, x)
	if y != 0 {
		p = geo.Destination(p, 0, y)
	}
	return p
}

// line returns points every step metres along the east line from x0 to x1.
func line(x0, x1, step float64) []plan.TrackPoint {
	var out []plan.TrackPoint
	for x := x0; x <= x1+1e-9; x += step {
		out = append(out, plan.TrackPoint{Point: along(x, 0)})
	}
	return out
}

func buildPlan(t *testing.T, src plan.Source) *plan.PlanData {
	t.Helper()
	pd, err := plan.Build(context.Background(), src, plan.DefaultOptions())
	require.NoError(t, err)
	require.False(t, pd.Empty())
	return pd
}

// straightPlan is a 2 km route running east from origin.
func straightPlan(t *testing.T) *plan.PlanData {
	return buildPlan(t, plan.Source{Name: "straight", Tracks: []plan.Track{{Points: line(0, 2000, 100)}}})
}

// lPlan runs 1 km east to a waypoint, then 1 km north.
func lPlan(t *testing.T) (*plan.PlanData, geo.Point) {
	corner := along(1000, 0)
	pts := line(0, 1000, 100)
	for d := 100.0; d <= 1000; d += 100 {
		pts = append(pts, plan.TrackPoint{Point: geo.Destination(corner, 0, d)})
	}
	return buildPlan(t, plan.Source{
		Name:      "l-shape",
		Tracks:    []plan.Track{{Points: pts}},
		Waypoints: []plan.Waypoint{{Point: corner, Name: "corner"}},
	}), corner
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GpsFilter = false
	return cfg
}

// ride feeds fixes into an engine, one per second on a mock clock.
type ride struct {
	t     *testing.T
	core  *RadarCore
	clock *timeutil.MockClock
	rec   *Recorder
}

func newRide(t *testing.T, pd *plan.PlanData, cfg Config) *ride {
	t.Helper()
	clock := timeutil.NewMockClock(t0)
	rec := NewRecorder(0)
	core, err := New(pd, cfg, clock, rec)
	require.NoError(t, err)
	core.Start(clock.Now())
	return &ride{t: t, core: core, clock: clock, rec: rec}
}

func (r *ride) fix(p geo.Point) {
	r.t.Helper()
	r.clock.Advance(time.Second)
	acc := 5.0
	require.NoError(r.t, r.core.UpdateLocation(Fix{Position: p, Accuracy: &acc, Time: r.clock.Now()}))
}

// captureLog routes monitoring output to f until the returned func is
// called.
func captureLog(f func(string)) func() {
	monitoring.SetLogger(func(format string, v ...interface{}) {
		f(fmt.Sprintf(format, v...))
	})
	return func() { monitoring.SetLogger(nil) }
}
