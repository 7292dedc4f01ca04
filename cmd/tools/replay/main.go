// Command replay runs a recorded ride against a plan and prints the alarms
// the engine raises. The ride can be a timed GPX track, a packet capture of
// the receiver's UDP feed, a plain NMEA log, or a simulated ride along the
// plan itself.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/banshee-data/route.radar/internal/config"
	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/nmea"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/render"
	"github.com/banshee-data/route.radar/internal/replay"
	"github.com/banshee-data/route.radar/internal/trackfile"
	"github.com/banshee-data/route.radar/internal/units"
)

var (
	planFile   = flag.String("plan", "", "Plan GPX file")
	dbPath     = flag.String("db", "", "Read the plan from this database instead of a file")
	planID     = flag.Int64("plan-id", 0, "Plan id in -db")
	rideFile   = flag.String("ride", "", "Recorded ride: .gpx, .pcap, .pcapng or an NMEA log")
	udpPort    = flag.Int("udp-port", 10110, "UDP port of the NMEA feed in captures (0 for any)")
	simulate   = flag.Float64("simulate", 0, "Ride the plan itself at this speed in m/s instead of -ride")
	rideConfig = flag.String("ride-config", "", "Ride settings JSON")
	tail       = flag.Duration("tail", 0, "Keep the clock running this long after the last fix")
	asJSON     = flag.Bool("json", false, "Print the result as JSON")
	pngOut     = flag.String("png", "", "Also render the plan and the ride to this PNG")
)

func loadSource() (plan.Source, error) {
	if *dbPath != "" {
		store, err := db.Open(*dbPath)
		if err != nil {
			return plan.Source{}, err
		}
		defer store.Close()
		return store.LoadPlan(*planID)
	}
	if *planFile == "" {
		return plan.Source{}, fmt.Errorf("one of -plan or -db is required")
	}
	return trackfile.Load(*planFile)
}

func loadFixes(ctx context.Context, src plan.Source) ([]radar.Fix, error) {
	if *simulate > 0 {
		return replay.Simulate(src, *simulate, time.Now().UTC().Truncate(time.Second)), nil
	}
	if *rideFile == "" {
		return nil, fmt.Errorf("one of -ride or -simulate is required")
	}

	switch strings.ToLower(filepath.Ext(*rideFile)) {
	case ".gpx":
		track, err := trackfile.Load(*rideFile)
		if err != nil {
			return nil, err
		}
		return replay.FromTrace(trackfile.Trace(track)), nil
	}

	f, err := os.Open(*rideFile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := nmea.NewDecoder()
	var (
		fixes []radar.Fix
		stats replay.CaptureStats
	)
	switch strings.ToLower(filepath.Ext(*rideFile)) {
	case ".pcap", ".pcapng":
		fixes, stats, err = replay.ReadPCAP(ctx, f, *udpPort, dec)
	default:
		fixes, stats, err = replay.ReadNMEALog(ctx, f, dec)
	}
	if err != nil {
		return nil, err
	}
	log.Printf("read %d sentences, %d fixes, %d invalid", stats.Sentences, stats.Fixes, stats.Invalid)
	return fixes, nil
}

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := config.DefaultRideConfig()
	if *rideConfig != "" {
		var err error
		if rc, err = config.LoadRideConfig(*rideConfig); err != nil {
			log.Fatalf("failed to load ride config: %v", err)
		}
	}

	src, err := loadSource()
	if err != nil {
		log.Fatalf("failed to load plan: %v", err)
	}
	buildStart := time.Now()
	pd, err := plan.Build(ctx, src, rc.PlanOptions(nil))
	if err != nil {
		log.Fatalf("failed to build plan: %v", err)
	}
	log.Printf("built plan %q: %d segments, %d sections in %v",
		pd.Name, len(pd.Segments), pd.Sections, time.Since(buildStart).Round(time.Millisecond))

	fixes, err := loadFixes(ctx, src)
	if err != nil {
		log.Fatalf("failed to read ride: %v", err)
	}

	res, err := replay.Run(ctx, pd, fixes, replay.Options{Config: rc.Radar(), Tail: *tail})
	if err != nil {
		log.Fatalf("replay failed: %v", err)
	}

	if *pngOut != "" {
		trace := make([]geo.Point, 0, len(fixes))
		for _, f := range fixes {
			trace = append(trace, f.Position)
		}
		if err := render.SavePNG(*pngOut, pd, render.Options{Title: pd.Name, Trace: trace}); err != nil {
			log.Fatalf("failed to render: %v", err)
		}
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			log.Fatalf("failed to encode result: %v", err)
		}
		return
	}

	unit := rc.GetDistanceUnits()
	fmt.Printf("ride %s .. %s (%v), %d fixes, %d rejected\n",
		res.Start.Format(time.RFC3339), res.End.Format(time.RFC3339), res.End.Sub(res.Start), res.Fixes, res.Rejected)
	for _, e := range res.Alarms {
		line := fmt.Sprintf("%s  %-18s %s", e.Time.Format("15:04:05"), e.Kind, e.Position)
		if e.Distance > 0 {
			line += "  " + units.FormatDistance(e.Distance, unit)
		}
		if e.Waypoint != "" {
			line += "  " + e.Waypoint
		}
		fmt.Println(line)
	}
	for _, k := range radar.AllAlarmKinds() {
		if n := res.Counts()[k]; n > 0 {
			fmt.Printf("%-18s %d\n", k, n)
		}
	}
}
