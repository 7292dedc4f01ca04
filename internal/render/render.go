// Package render draws a built plan as a PNG: one colour per section, with
// crossroads and waypoints marked and an optional ride trace on top.
package render

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
)

// Options controls the output image.
type Options struct {
	Width, Height vg.Length
	Title         string
	// Trace is drawn over the plan, for example the fixes of a ride.
	Trace []geo.Point
}

func (o Options) withDefaults(pd *plan.PlanData) Options {
	if o.Width <= 0 {
		o.Width = 10 * vg.Inch
	}
	if o.Height <= 0 {
		o.Height = 10 * vg.Inch
	}
	if o.Title == "" {
		o.Title = pd.Name
	}
	return o
}

// projection maps points to metres east and north of an origin.
type projection struct {
	origin geo.Point
	cosLat float64
}

const metersPerDegree = geo.EarthRadiusMeters * math.Pi / 180

func newProjection(pd *plan.PlanData) projection {
	var lat, lon float64
	for _, s := range pd.Segments {
		lat += s.A.Lat + s.B.Lat
		lon += s.A.Lon + s.B.Lon
	}
	n := float64(2 * len(pd.Segments))
	origin := geo.Point{Lat: lat / n, Lon: lon / n}
	return projection{origin: origin, cosLat: math.Cos(origin.Lat * math.Pi / 180)}
}

func (p projection) xy(pt geo.Point) plotter.XY {
	return plotter.XY{
		X: (pt.Lon - p.origin.Lon) * metersPerDegree * p.cosLat,
		Y: (pt.Lat - p.origin.Lat) * metersPerDegree,
	}
}

// Plot builds the plot of pd.
func Plot(pd *plan.PlanData, o Options) (*plot.Plot, error) {
	if pd == nil || pd.Empty() {
		return nil, fmt.Errorf("render: empty plan")
	}
	o = o.withDefaults(pd)
	proj := newProjection(pd)

	p := plot.New()
	p.Title.Text = o.Title
	p.X.Label.Text = "East (m)"
	p.Y.Label.Text = "North (m)"
	p.Add(plotter.NewGrid())

	colors := generateColors(pd.Sections)
	for _, s := range pd.Segments {
		l, err := plotter.NewLine(plotter.XYs{proj.xy(s.A), proj.xy(s.B)})
		if err != nil {
			return nil, err
		}
		if s.Section >= 0 && s.Section < len(colors) {
			l.Color = colors[s.Section]
		}
		l.Width = vg.Points(2)
		p.Add(l)
	}

	if len(pd.Crossroads) > 0 {
		pts := make(plotter.XYs, len(pd.Crossroads))
		for i, c := range pd.Crossroads {
			pts[i] = proj.xy(c.Point)
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(4)
		sc.GlyphStyle.Color = color.Black
		p.Add(sc)
		p.Legend.Add("crossroad", sc)
	}

	if len(pd.Waypoints) > 0 {
		labels := plotter.XYLabels{XYs: make(plotter.XYs, len(pd.Waypoints)), Labels: make([]string, len(pd.Waypoints))}
		for i, w := range pd.Waypoints {
			labels.XYs[i] = proj.xy(w.Point)
			labels.Labels[i] = w.Name
		}
		sc, err := plotter.NewScatter(labels.XYs)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Shape = draw.TriangleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(5)
		sc.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
		lbl, err := plotter.NewLabels(labels)
		if err != nil {
			return nil, err
		}
		p.Add(sc, lbl)
		p.Legend.Add("waypoint", sc)
	}

	if len(o.Trace) > 1 {
		pts := make(plotter.XYs, 0, len(o.Trace))
		for _, pt := range o.Trace {
			if pt.Valid() {
				pts = append(pts, proj.xy(pt))
			}
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		l.Color = color.Gray{Y: 80}
		l.Width = vg.Points(1)
		l.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(l)
		p.Legend.Add("ride", l)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders pd as PNG to w.
func WritePNG(w io.Writer, pd *plan.PlanData, o Options) error {
	p, err := Plot(pd, o)
	if err != nil {
		return err
	}
	o = o.withDefaults(pd)
	wt, err := p.WriterTo(o.Width, o.Height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG renders pd to a file.
func SavePNG(path string, pd *plan.PlanData, o Options) error {
	p, err := Plot(pd, o)
	if err != nil {
		return err
	}
	o = o.withDefaults(pd)
	return p.Save(o.Width, o.Height, path)
}

// generateColors spreads n hues around the colour wheel.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
