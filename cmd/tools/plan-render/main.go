// Command plan-render draws a built plan to a PNG, optionally with a recorded
// ride on top.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/banshee-data/route.radar/internal/config"
	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/render"
	"github.com/banshee-data/route.radar/internal/trackfile"
)

func main() {
	planFile := flag.String("plan", "", "Plan GPX file")
	dbPath := flag.String("db", "", "Read the plan from this database instead of a file")
	planID := flag.Int64("plan-id", 0, "Plan id in -db")
	traceFile := flag.String("trace", "", "GPX track drawn over the plan")
	rideConfig := flag.String("ride-config", "", "Ride settings JSON with builder options")
	out := flag.String("out", "plan.png", "Output PNG")
	title := flag.String("title", "", "Chart title (defaults to the plan name)")
	flag.Parse()

	rc := config.DefaultRideConfig()
	if *rideConfig != "" {
		var err error
		if rc, err = config.LoadRideConfig(*rideConfig); err != nil {
			log.Fatalf("failed to load ride config: %v", err)
		}
	}

	var (
		src plan.Source
		err error
	)
	switch {
	case *dbPath != "":
		store, err := db.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		src, err = store.LoadPlan(*planID)
		store.Close()
		if err != nil {
			log.Fatalf("failed to load plan %d: %v", *planID, err)
		}
	case *planFile != "":
		if src, err = trackfile.Load(*planFile); err != nil {
			log.Fatalf("failed to load plan: %v", err)
		}
	default:
		log.Fatalf("one of -plan or -db is required")
	}

	debug := plan.NewIntrospector(true)
	start := time.Now()
	pd, err := plan.Build(context.Background(), src, rc.PlanOptions(debug))
	if err != nil {
		log.Fatalf("failed to build plan: %v", err)
	}
	c := debug.Counters()
	log.Printf("built %q in %v: %d segments, %d sections, %d crossroads, %d waypoints (%+v)",
		pd.Name, time.Since(start).Round(time.Millisecond), len(pd.Segments), pd.Sections,
		len(pd.Crossroads), len(pd.Waypoints), c)

	o := render.Options{Title: *title}
	if o.Title == "" {
		o.Title = pd.Name
	}
	if *traceFile != "" {
		tr, err := trackfile.Load(*traceFile)
		if err != nil {
			log.Fatalf("failed to load trace: %v", err)
		}
		for _, t := range tr.Tracks {
			for _, p := range t.Points {
				o.Trace = append(o.Trace, p.Point)
			}
		}
	}
	if err := render.SavePNG(*out, pd, o); err != nil {
		log.Fatalf("failed to render: %v", err)
	}
	log.Printf("wrote %s", *out)
}
