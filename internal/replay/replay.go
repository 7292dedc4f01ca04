// Package replay runs recorded rides through the engine on a mock clock, so
// a GPX trace or a capture of the receiver feed produces the same alarms it
// would have produced live, without waiting in real time.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/segindex"
	"github.com/banshee-data/route.radar/internal/timeutil"
	"github.com/banshee-data/route.radar/internal/trackfile"
)

// ErrNoFixes is returned when there is nothing to replay.
var ErrNoFixes = errors.New("replay: no fixes")

// DefaultSpeed is the pace used to stamp untimed tracks, in m/s.
const DefaultSpeed = 5.0

// Options tunes a replay.
type Options struct {
	Config radar.Config
	// Listeners receive every alarm and message in addition to the result.
	Listeners []radar.Listener
	// Tail keeps the watchdog ticking after the last fix.
	Tail time.Duration
}

// Result summarises a replay.
type Result struct {
	Start, End time.Time
	Fixes      int
	Rejected   int
	Alarms     []radar.Event
	Messages   []radar.Message
	Final      radar.Snapshot
}

// Counts returns the number of alarms per kind.
func (r *Result) Counts() map[radar.AlarmKind]int {
	out := make(map[radar.AlarmKind]int)
	for _, e := range r.Alarms {
		out[e.Kind]++
	}
	return out
}

// FromTrace converts timed points into fixes.
func FromTrace(pts []trackfile.TimedPoint) []radar.Fix {
	out := make([]radar.Fix, 0, len(pts))
	for _, p := range pts {
		out = append(out, radar.Fix{Position: p.Point, Altitude: p.Elevation, Time: p.Time})
	}
	return out
}

// Simulate rides every track of src in order at speed m/s starting at start,
// stamping each point by the distance covered so far. Recorded timestamps
// are ignored.
func Simulate(src plan.Source, speed float64, start time.Time) []radar.Fix {
	if speed <= 0 {
		speed = DefaultSpeed
	}
	var out []radar.Fix
	at := start
	var prev geo.Point
	// Jumps between tracks are ridden like any other leg.
	for _, tr := range src.Tracks {
		for _, tp := range tr.Points {
			if len(out) > 0 {
				d := geo.Distance(prev, tp.Point)
				at = at.Add(time.Duration(d / speed * float64(time.Second)))
				if !at.After(out[len(out)-1].Time) {
					at = out[len(out)-1].Time.Add(time.Millisecond)
				}
			}
			out = append(out, radar.Fix{Position: tp.Point, Altitude: tp.Elevation, Time: at})
			prev = tp.Point
		}
	}
	return out
}

// Run replays fixes against pd. The engine clock starts at the first fix and
// is advanced one watchdog interval at a time, so GpsLost fires wherever the
// recording has a gap. Rejected fixes are counted, not returned as errors.
func Run(ctx context.Context, pd *plan.PlanData, fixes []radar.Fix, opts Options) (*Result, error) {
	if pd == nil {
		return nil, radar.ErrNoPlan
	}
	return RunIndex(ctx, segindex.New(pd), fixes, opts)
}

// RunIndex is Run over a prebuilt index.
func RunIndex(ctx context.Context, ix *segindex.Index, fixes []radar.Fix, opts Options) (*Result, error) {
	if len(fixes) == 0 {
		return nil, ErrNoFixes
	}
	start := fixes[0].Time
	if start.IsZero() {
		return nil, fmt.Errorf("%w: first fix has no time", ErrNoFixes)
	}

	clock := timeutil.NewMockClock(start)
	rec := radar.NewRecorder(0)
	listeners := append([]radar.Listener{rec}, opts.Listeners...)
	core, err := radar.NewWithIndex(ix, opts.Config, clock, listeners...)
	if err != nil {
		return nil, err
	}
	ticker := clock.NewTicker(radar.WatchdogInterval)
	defer ticker.Stop()
	core.Start(start)

	advanceTo := func(t time.Time) {
		for clock.Now().Before(t) {
			step := t.Sub(clock.Now())
			if step > radar.WatchdogInterval {
				step = radar.WatchdogInterval
			}
			clock.Advance(step)
			select {
			case now := <-ticker.C():
				core.Tick(now)
			default:
			}
		}
	}

	for i, f := range fixes {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if f.Time.IsZero() {
			f.Time = clock.Now()
		}
		advanceTo(f.Time)
		// Rejections are visible in the snapshot counters.
		_ = core.UpdateLocation(f)
	}
	if opts.Tail > 0 {
		advanceTo(clock.Now().Add(opts.Tail))
	}

	snap := core.Snapshot()
	return &Result{
		Start:    start,
		End:      clock.Now(),
		Fixes:    snap.Fixes,
		Rejected: snap.Rejected,
		Alarms:   rec.Events(),
		Messages: rec.Messages(),
		Final:    snap,
	}, nil
}
