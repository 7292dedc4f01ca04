package render

import (
	"bytes"
	"context"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
)

func crossPlan(t *testing.T) *plan.PlanData {
	t.Helper()
	monitoring.SetLogger(nil)
	o := geo.Point{Lat: 46, Lon: 7}
	line := func(brg float64) plan.Track {
		var tr plan.Track
		for d := -500.0; d <= 500; d += 100 {
			tr.Points = append(tr.Points, plan.TrackPoint{Point: geo.Destination(o, brg, d)})
		}
		return tr
	}
	pd, err := plan.Build(context.Background(), plan.Source{
		Name:      "cross",
		Tracks:    []plan.Track{line(90), line(0)},
		Waypoints: []plan.Waypoint{{Point: o, Name: "centre"}},
	}, plan.Options{})
	require.NoError(t, err)
	return pd
}

func TestWritePNG(t *testing.T) {
	pd := crossPlan(t)
	var buf bytes.Buffer
	err := WritePNG(&buf, pd, Options{
		Width:  4 * vg.Inch,
		Height: 4 * vg.Inch,
		Trace:  []geo.Point{{Lat: 46, Lon: 6.999}, {Lat: 46, Lon: 7.001}},
	})
	require.NoError(t, err)

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 100)
}

func TestSavePNG(t *testing.T) {
	pd := crossPlan(t)
	path := filepath.Join(t.TempDir(), "plan.png")
	require.NoError(t, SavePNG(path, pd, Options{}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestEmptyPlan(t *testing.T) {
	_, err := Plot(&plan.PlanData{}, Options{})
	assert.Error(t, err)
}

func TestProjectionCentresPlan(t *testing.T) {
	pd := crossPlan(t)
	proj := newProjection(pd)
	c := proj.xy(geo.Point{Lat: 46, Lon: 7})
	assert.InDelta(t, 0, c.X, 1)
	assert.InDelta(t, 0, c.Y, 1)
	east := proj.xy(geo.Destination(geo.Point{Lat: 46, Lon: 7}, 90, 500))
	assert.InDelta(t, 500, east.X, 2)
}

func TestGenerateColors(t *testing.T) {
	assert.Nil(t, generateColors(0))
	cs := generateColors(3)
	require.Len(t, cs, 3)
	assert.NotEqual(t, cs[0], cs[1])
	red := cs[0].(color.RGBA)
	assert.Greater(t, red.R, red.G)
}
