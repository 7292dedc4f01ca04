// Package testutil provides shared test utilities and fixtures.
//
// The fixtures describe small rides near a fixed origin: straight plans laid
// out eastwards, a scratch database, and receiver sentences for positions
// along them.
package testutil

import (
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/serialmux"
)

// Origin is the start of every fixture plan. It sits well inside a degree
// so formatted NMEA minutes never round up to 60.
var Origin = geo.Point{Lat: 46.5, Lon: 6.6}

// T0 is the wall time at which fixture rides start.
var T0 = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

// East returns the point x metres east of Origin.
func East(x float64) geo.Point { return geo.Destination(Origin, 90, x) }

// StraightSource is a single track running east from Origin with a point
// every step metres up to length.
func StraightSource(name string, length, step float64) plan.Source {
	var pts []plan.TrackPoint
	for x := 0.0; x <= length; x += step {
		pts = append(pts, plan.TrackPoint{Point: East(x)})
	}
	return plan.Source{Name: name, Tracks: []plan.Track{{Points: pts}}}
}

// NewDB opens a migrated database in a temporary directory and silences the
// package logger for the test. The database is closed on cleanup.
func NewDB(t *testing.T) *db.DB {
	t.Helper()
	monitoring.SetLogger(nil)
	store, err := db.Open(filepath.Join(t.TempDir(), "radar.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close db: %v", err)
		}
	})
	return store
}

// SavePlan stores src and returns its id.
func SavePlan(t *testing.T, store *db.DB, src plan.Source) int64 {
	t.Helper()
	id, err := store.SavePlan(src)
	if err != nil {
		t.Fatalf("save plan %q: %v", src.Name, err)
	}
	return id
}

// RMC formats a valid RMC sentence for p at ts. Only the north-east
// quadrant is supported.
func RMC(p geo.Point, ts time.Time) string {
	latDeg, lonDeg := math.Floor(p.Lat), math.Floor(p.Lon)
	return serialmux.Sentence(fmt.Sprintf("GPRMC,%s,A,%02d%07.4f,N,%03d%07.4f,E,10.0,90.0,%s,,,A",
		ts.UTC().Format("150405.00"),
		int(latDeg), (p.Lat-latDeg)*60,
		int(lonDeg), (p.Lon-lonDeg)*60,
		ts.UTC().Format("020106")))
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}
