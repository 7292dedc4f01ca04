package db

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/radar"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	monitoring.SetLogger(nil)
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func samplePlan(name string) plan.Source {
	ele := 412.0
	ts := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	return plan.Source{
		Name: name,
		Tracks: []plan.Track{{
			Name: "main",
			Points: []plan.TrackPoint{
				{Point: geo.Point{Lat: 46, Lon: 7}, Elevation: &ele, Time: &ts},
				{Point: geo.Point{Lat: 46.01, Lon: 7}},
			},
		}},
		Waypoints: []plan.Waypoint{{Point: geo.Point{Lat: 46.01, Lon: 7}, Name: "corner"}},
	}
}

func TestMigrationsApplied(t *testing.T) {
	db := openTestDB(t)
	version, dirty, err := db.MigrateVersion()
	if err != nil {
		t.Fatalf("MigrateVersion: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("version = %d dirty = %v, want 2 clean", version, dirty)
	}

	if err := db.MigrateDown(); err != nil {
		t.Fatalf("MigrateDown: %v", err)
	}
	if version, _, _ := db.MigrateVersion(); version != 1 {
		t.Errorf("after down version = %d, want 1", version)
	}
	if err := db.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	monitoring.SetLogger(nil)
	path := filepath.Join(t.TempDir(), "radar.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	id, err := db.SavePlan(samplePlan("loop"))
	if err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if got, err := db.PlanByName("loop"); err != nil || got != id {
		t.Errorf("PlanByName = %d, %v; want %d", got, err, id)
	}
}

func TestPlanRoundTrip(t *testing.T) {
	db := openTestDB(t)
	src := samplePlan("loop")

	id, err := db.SavePlan(src)
	if err != nil {
		t.Fatalf("SavePlan: %v", err)
	}
	got, err := db.LoadPlan(id)
	if err != nil {
		t.Fatalf("LoadPlan: %v", err)
	}
	if diff := cmp.Diff(src, got); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	// Saving under the same name replaces the plan in place.
	src.Tracks = append(src.Tracks, src.Tracks[0])
	again, err := db.SavePlan(src)
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Errorf("replaced plan got new id %d, want %d", again, id)
	}
	plans, err := db.Plans()
	if err != nil {
		t.Fatal(err)
	}
	if len(plans) != 1 || plans[0].Tracks != 2 || plans[0].Waypoints != 1 || plans[0].Size == 0 {
		t.Errorf("unexpected plan list %+v", plans)
	}

	if _, err := db.SavePlan(plan.Source{}); err == nil {
		t.Error("expected error for unnamed plan")
	}
	if _, err := db.LoadPlan(999); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadPlan(999) = %v, want ErrNotFound", err)
	}
	if _, err := db.PlanByName("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PlanByName = %v, want ErrNotFound", err)
	}
}

func TestCorruptSourceBlob(t *testing.T) {
	if _, err := DecodeSource([]byte("not zstd")); err == nil {
		t.Error("expected decompression error")
	}
}

func TestRidesAndAlarms(t *testing.T) {
	db := openTestDB(t)
	planID, err := db.SavePlan(samplePlan("loop"))
	if err != nil {
		t.Fatal(err)
	}
	t0 := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

	ride, err := db.StartRide(planID, t0)
	if err != nil {
		t.Fatalf("StartRide: %v", err)
	}
	if len(ride.ID) != 36 {
		t.Errorf("ride id %q is not a uuid", ride.ID)
	}

	rec := NewRideRecorder(db, ride.ID)
	events := []radar.Event{
		{Kind: radar.Engaged, Time: t0.Add(3 * time.Second), Position: geo.Point{Lat: 46, Lon: 7}, Distance: 2},
		{Kind: radar.LeftCross, Time: t0.Add(40 * time.Second), Position: geo.Point{Lat: 46.005, Lon: 7}, Distance: 95, Waypoint: "corner"},
		{Kind: radar.OffTrack, Time: t0.Add(90 * time.Second), Position: geo.Point{Lat: 46.006, Lon: 7.001}, Distance: 61},
	}
	for _, e := range events {
		rec.OnAlarm(e)
	}
	rec.OnMessage(t0, "ride started")

	got, err := db.Alarms(ride.ID, 0)
	if err != nil {
		t.Fatalf("Alarms: %v", err)
	}
	if diff := cmp.Diff(events, got); diff != "" {
		t.Errorf("alarms mismatch (-want +got):\n%s", diff)
	}

	last, err := db.Alarms(ride.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 || last[0].Kind != radar.LeftCross || last[1].Kind != radar.OffTrack {
		t.Errorf("limited alarms = %+v", last)
	}

	counts, err := db.AlarmCounts(ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts[radar.OffTrack] != 1 || counts[radar.Engaged] != 1 || len(counts) != 3 {
		t.Errorf("counts = %v", counts)
	}

	msgs, err := db.Messages(ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "ride started" || !msgs[0].Time.Equal(t0) {
		t.Errorf("messages = %+v", msgs)
	}

	if err := db.EndRide(ride.ID, t0.Add(time.Hour)); err != nil {
		t.Fatalf("EndRide: %v", err)
	}
	stored, err := db.GetRide(ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Ended == nil || !stored.Ended.Equal(t0.Add(time.Hour)) {
		t.Errorf("ended = %v", stored.Ended)
	}
	if err := db.EndRide("missing", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("EndRide(missing) = %v", err)
	}

	rides, err := db.Rides(0)
	if err != nil || len(rides) != 1 {
		t.Errorf("Rides(0) = %v, %v", rides, err)
	}

	// Deleting the plan cascades to rides and alarms.
	if err := db.DeletePlan(planID); err != nil {
		t.Fatal(err)
	}
	if _, err := db.GetRide(ride.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ride survived plan deletion: %v", err)
	}
	if got, _ := db.Alarms(ride.ID, 0); len(got) != 0 {
		t.Errorf("alarms survived plan deletion: %v", got)
	}
}

func TestRideNeedsPlan(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.StartRide(42, time.Now()); err == nil {
		t.Error("expected foreign key error")
	}
}

func TestBackup(t *testing.T) {
	db := openTestDB(t)
	if _, err := db.SavePlan(samplePlan("loop")); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(t.TempDir(), "copy.db")
	if err := db.Backup(dst); err != nil {
		t.Fatalf("Backup: %v", err)
	}
	copyDB, err := Open(dst)
	if err != nil {
		t.Fatal(err)
	}
	defer copyDB.Close()
	if _, err := copyDB.PlanByName("loop"); err != nil {
		t.Errorf("backup lacks plan: %v", err)
	}
}

func TestAdminBackupRoute(t *testing.T) {
	db := openTestDB(t)
	mux := http.NewServeMux()
	if err := db.AttachAdminRoutes(mux); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/gzip" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.Len() == 0 {
		t.Error("empty backup")
	}
}
