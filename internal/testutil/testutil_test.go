package testutil

import (
	"net/http"
	"testing"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/nmea"
)

func TestStraightSource(t *testing.T) {
	src := StraightSource("line", 1000, 100)
	if src.Name != "line" {
		t.Errorf("name = %q", src.Name)
	}
	pts := src.Tracks[0].Points
	if len(pts) != 11 {
		t.Fatalf("got %d points, want 11", len(pts))
	}
	if d := geo.Distance(pts[0].Point, pts[10].Point); d < 999 || d > 1001 {
		t.Errorf("line length = %.2f, want 1000", d)
	}
}

func TestRMCDecodes(t *testing.T) {
	p := East(250)
	fix, err := nmea.NewDecoder().Decode(RMC(p, T0))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !fix.Time.Equal(T0) {
		t.Errorf("time = %v, want %v", fix.Time, T0)
	}
	if d := geo.Distance(p, fix.Position); d > 0.5 {
		t.Errorf("decoded position is %.2f m off", d)
	}
}

func TestNewDBAndSavePlan(t *testing.T) {
	store := NewDB(t)
	id := SavePlan(t, store, StraightSource("line", 500, 100))
	src, err := store.LoadPlan(id)
	if err != nil {
		t.Fatalf("load plan: %v", err)
	}
	if len(src.Tracks) != 1 || len(src.Tracks[0].Points) != 6 {
		t.Errorf("unexpected plan source: %+v", src)
	}
}

func TestAssertStatusCode(t *testing.T) {
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}
