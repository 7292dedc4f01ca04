package api

import (
	"bytes"
	"fmt"
	"math"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/render"
)

// AttachAdminRoutes registers the plan debug views under /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("plan/chart", "Interactive chart of the plan graph", s.handlePlanChart)
	debug.HandleFunc("plan.png", "PNG of the plan graph with the ride trace", s.handlePlanPNG)
	debug.HandleSilentFunc("turninfo", s.handleTurnInfo)
}

// bounds returns the lon/lat extent of pd with a small margin.
func bounds(pd *plan.PlanData) (minLon, maxLon, minLat, maxLat float64) {
	minLon, minLat = math.Inf(1), math.Inf(1)
	maxLon, maxLat = math.Inf(-1), math.Inf(-1)
	for _, s := range pd.Segments {
		for _, p := range []geo.Point{s.A, s.B} {
			minLon, maxLon = math.Min(minLon, p.Lon), math.Max(maxLon, p.Lon)
			minLat, maxLat = math.Min(minLat, p.Lat), math.Max(maxLat, p.Lat)
		}
	}
	pad := math.Max(maxLon-minLon, maxLat-minLat)*0.05 + 1e-4
	return minLon - pad, maxLon + pad, minLat - pad, maxLat + pad
}

func scatterPoints(pts []geo.Point) []opts.ScatterData {
	out := make([]opts.ScatterData, 0, len(pts))
	for _, p := range pts {
		out = append(out, opts.ScatterData{Value: []interface{}{p.Lon, p.Lat}})
	}
	return out
}

// handlePlanChart renders the segment endpoints of each section, the
// crossroads, the waypoints and the ride trace as an HTML scatter chart.
func (s *Server) handlePlanChart(w http.ResponseWriter, r *http.Request) {
	e, status, err := s.entryFor(r)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	pd := e.Plan
	if pd.Empty() {
		notFound(w, "plan has no segments")
		return
	}

	sections := make([][]geo.Point, pd.Sections)
	for _, seg := range pd.Segments {
		if seg.Section >= 0 && seg.Section < len(sections) {
			sections[seg.Section] = append(sections[seg.Section], seg.A, seg.B)
		}
	}
	minLon, maxLon, minLat, maxLat := bounds(pd)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Route plan", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    pd.Name,
			Subtitle: fmt.Sprintf("segments=%d sections=%d crossroads=%d", len(pd.Segments), pd.Sections, len(pd.Crossroads)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: minLon, Max: maxLon, Name: "Lon", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: minLat, Max: maxLat, Name: "Lat", NameLocation: "middle", NameGap: 40}),
	)
	for i, pts := range sections {
		scatter.AddSeries(fmt.Sprintf("section %d", i), scatterPoints(pts),
			charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	}
	if len(pd.Crossroads) > 0 {
		pts := make([]geo.Point, len(pd.Crossroads))
		for i, c := range pd.Crossroads {
			pts[i] = c.Point
		}
		scatter.AddSeries("crossroads", scatterPoints(pts), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}))
	}
	if len(pd.Waypoints) > 0 {
		pts := make([]geo.Point, len(pd.Waypoints))
		for i, wp := range pd.Waypoints {
			pts[i] = wp.Point
		}
		scatter.AddSeries("waypoints", scatterPoints(pts), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 12}))
	}
	if sess, ok := s.rides.Current(); ok && sess.PlanID == e.ID {
		if trace := sess.Trace(); len(trace) > 0 {
			scatter.AddSeries("ride", scatterPoints(trace), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 2}))
		}
	}

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		internalError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handlePlanPNG(w http.ResponseWriter, r *http.Request) {
	e, status, err := s.entryFor(r)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	o := render.Options{Title: e.Plan.Name}
	if sess, ok := s.rides.Current(); ok && sess.PlanID == e.ID {
		o.Trace = sess.Trace()
	}
	var buf bytes.Buffer
	if err := render.WritePNG(&buf, e.Plan, o); err != nil {
		internalError(w, fmt.Sprintf("failed to render plan: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

type turnView struct {
	Point     geo.Point  `json:"point"`
	Via       geo.Point  `json:"via"`
	Distance  float64    `json:"distance"`
	Angle     float64    `json:"angle"`
	Exit      *geo.Point `json:"exit,omitempty"`
	Waypoint  string     `json:"waypoint,omitempty"`
	Crossroad bool       `json:"crossroad"`
}

func newTurnView(tp *plan.TurnPoint) *turnView {
	if tp == nil {
		return nil
	}
	v := &turnView{
		Point:     tp.Point,
		Via:       tp.Via,
		Distance:  tp.Distance,
		Waypoint:  tp.Waypoint,
		Crossroad: tp.Crossroad,
	}
	if tp.HasExit {
		exit := tp.Exit
		v.Exit = &exit
		v.Angle = tp.Angle()
	}
	return v
}

type turnInfoResponse struct {
	Vertex    geo.Point     `json:"vertex"`
	Distance  float64       `json:"distance"`
	Primary   *turnView     `json:"primary,omitempty"`
	Alternate *turnView     `json:"alternate,omitempty"`
	Counters  plan.Counters `json:"counters"`
}

// handleTurnInfo returns the turn info stored at the plan vertex nearest to
// ?lat=&lon=. It answers 404 unless plan introspection is enabled.
func (s *Server) handleTurnInfo(w http.ResponseWriter, r *http.Request) {
	if !s.debug.IsEnabled() {
		notFound(w, "plan introspection is disabled")
		return
	}
	p, err := parsePoint(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	v, ok := s.debug.NearestVertex(p)
	if !ok {
		notFound(w, "no introspected plan")
		return
	}
	info, ok := s.debug.TurnInfoAt(v)
	if !ok {
		notFound(w, fmt.Sprintf("no turn info at %v", v))
		return
	}
	writeJSON(w, http.StatusOK, turnInfoResponse{
		Vertex:    v,
		Distance:  geo.Distance(p, v),
		Primary:   newTurnView(info.Primary),
		Alternate: newTurnView(info.Alternate),
		Counters:  s.debug.Counters(),
	})
}
