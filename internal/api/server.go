// Package api serves the ride over HTTP: location input, live state, alarm
// history, plan management and the debug views of the plan graph.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/planstore"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/ride"
	"github.com/banshee-data/route.radar/internal/trackfile"
	"github.com/banshee-data/route.radar/internal/version"
)

const (
	maxLocationBody = 64 << 10
	maxPlanBody     = 64 << 20

	// defaultEventLimit caps /api/events when no limit is given.
	defaultEventLimit = 100
)

type Server struct {
	rides *ride.Manager
	db    *db.DB
	plans *planstore.Store
	debug *plan.Introspector
}

// NewServer returns a server over the given ride manager, store and plan
// cache. debug may be nil, which disables /debug/turninfo.
func NewServer(rides *ride.Manager, store *db.DB, plans *planstore.Store, debug *plan.Introspector) *Server {
	return &Server{rides: rides, db: store, plans: plans, debug: debug}
}

// ServeMux returns the API routes together with the debug routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/location", s.handleLocation)
	mux.HandleFunc("/api/state", s.handleState)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/nearest", s.handleNearest)
	mux.HandleFunc("/api/plan", s.handlePlan)
	mux.HandleFunc("/api/rides", s.handleRides)
	mux.HandleFunc("/api/ride/start", s.handleRideStart)
	mux.HandleFunc("/api/ride/stop", s.handleRideStop)
	s.AttachAdminRoutes(mux)
	return mux
}

type locationRequest struct {
	Lat      *float64   `json:"lat"`
	Lon      *float64   `json:"lon"`
	Altitude *float64   `json:"altitude,omitempty"`
	Accuracy *float64   `json:"accuracy,omitempty"`
	Time     *time.Time `json:"time,omitempty"`
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req locationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLocationBody)).Decode(&req); err != nil {
		badRequest(w, fmt.Sprintf("invalid location: %v", err))
		return
	}
	if req.Lat == nil || req.Lon == nil {
		badRequest(w, "lat and lon are required")
		return
	}
	fix := radar.Fix{
		Position: geo.Point{Lat: *req.Lat, Lon: *req.Lon},
		Altitude: req.Altitude,
		Accuracy: req.Accuracy,
	}
	if req.Time != nil {
		fix.Time = *req.Time
	}

	err := s.rides.UpdateLocation(fix)
	switch {
	case errors.Is(err, ride.ErrNoRide):
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, radar.ErrInvalidFix):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		internalError(w, err.Error())
		return
	}
	sess, ok := s.rides.Current()
	if !ok {
		writeJSONError(w, http.StatusConflict, ride.ErrNoRide.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.Core.Snapshot())
}

type stateResponse struct {
	Active   bool            `json:"active"`
	RideID   string          `json:"ride_id,omitempty"`
	PlanID   int64           `json:"plan_id,omitempty"`
	PlanName string          `json:"plan_name,omitempty"`
	Started  *time.Time      `json:"started,omitempty"`
	State    *radar.Snapshot `json:"state,omitempty"`
	Version  version.Info    `json:"version"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	resp := stateResponse{Version: version.Get()}
	if sess, ok := s.rides.Current(); ok {
		snap := sess.Core.Snapshot()
		started := sess.Started
		resp.Active = true
		resp.RideID = sess.ID
		resp.PlanID = sess.PlanID
		resp.PlanName = sess.Entry.Plan.Name
		resp.Started = &started
		resp.State = &snap
	}
	writeJSON(w, http.StatusOK, resp)
}

type eventsResponse struct {
	RideID   string          `json:"ride_id"`
	Alarms   []radar.Event   `json:"alarms"`
	Messages []radar.Message `json:"messages"`
}

// handleEvents returns the alarms and messages of ?ride=, or of the running
// ride when none is named. ?limit= keeps the most recent entries.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			badRequest(w, "invalid 'limit' parameter")
			return
		}
		limit = n
	}

	rideID := r.URL.Query().Get("ride")
	if rideID == "" {
		sess, ok := s.rides.Current()
		if !ok {
			writeJSONError(w, http.StatusConflict, ride.ErrNoRide.Error())
			return
		}
		writeJSON(w, http.StatusOK, eventsResponse{
			RideID:   sess.ID,
			Alarms:   lastN(sess.Recorder.Events(), limit),
			Messages: lastN(sess.Recorder.Messages(), limit),
		})
		return
	}

	if s.db == nil {
		notFound(w, "ride history is not stored")
		return
	}
	if _, err := s.db.GetRide(rideID); err != nil {
		s.writeStoreError(w, err)
		return
	}
	alarms, err := s.db.Alarms(rideID, limit)
	if err != nil {
		internalError(w, fmt.Sprintf("failed to read alarms: %v", err))
		return
	}
	msgs, err := s.db.Messages(rideID)
	if err != nil {
		internalError(w, fmt.Sprintf("failed to read messages: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{RideID: rideID, Alarms: alarms, Messages: lastN(msgs, limit)})
}

func lastN[T any](in []T, n int) []T {
	if in == nil {
		return []T{}
	}
	if len(in) > n {
		return in[len(in)-n:]
	}
	return in
}

// writeStoreError maps store lookups onto 404 and everything else onto 500.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, db.ErrNotFound) {
		notFound(w, err.Error())
		return
	}
	internalError(w, err.Error())
}

// entryFor returns the plan named by ?plan=, or the plan of the running
// ride.
func (s *Server) entryFor(r *http.Request) (*planstore.Entry, int, error) {
	if v := r.URL.Query().Get("plan"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 1 {
			return nil, http.StatusBadRequest, errors.New("invalid 'plan' parameter")
		}
		e, err := s.plans.Get(r.Context(), id)
		if errors.Is(err, db.ErrNotFound) {
			return nil, http.StatusNotFound, err
		}
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
		return e, http.StatusOK, nil
	}
	sess, ok := s.rides.Current()
	if !ok {
		return nil, http.StatusConflict, errors.New("no active ride and no 'plan' parameter")
	}
	return sess.Entry, http.StatusOK, nil
}

func parsePoint(r *http.Request) (geo.Point, error) {
	lat, err := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err != nil {
		return geo.Point{}, errors.New("invalid 'lat' parameter")
	}
	lon, err := strconv.ParseFloat(r.URL.Query().Get("lon"), 64)
	if err != nil {
		return geo.Point{}, errors.New("invalid 'lon' parameter")
	}
	p := geo.Point{Lat: lat, Lon: lon}
	if !p.Valid() {
		return geo.Point{}, fmt.Errorf("position %v out of range", p)
	}
	return p, nil
}

type nearestResponse struct {
	Segment  plan.SegmentID `json:"segment"`
	Section  int            `json:"section"`
	Distance float64        `json:"distance"`
	Pin      geo.Point      `json:"pin"`
	A        geo.Point      `json:"a"`
	B        geo.Point      `json:"b"`
	Bearing  float64        `json:"bearing"`
}

// handleNearest answers ?lat=&lon=[&radius=] against the running ride's plan
// or ?plan=.
func (s *Server) handleNearest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	p, err := parsePoint(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	radius := radar.DefaultConfig().SearchRadius
	if sess, ok := s.rides.Current(); ok {
		radius = sess.Core.Config().SearchRadius
	}
	if v := r.URL.Query().Get("radius"); v != "" {
		radius, err = strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 {
			badRequest(w, "invalid 'radius' parameter")
			return
		}
	}
	e, status, err := s.entryFor(r)
	if err != nil {
		writeJSONError(w, status, err.Error())
		return
	}
	ps, ok := e.Index.FindClosest(p, radius)
	if !ok {
		notFound(w, fmt.Sprintf("no segment within %.0f m", radius))
		return
	}
	seg := e.Plan.Segment(ps.Segment)
	writeJSON(w, http.StatusOK, nearestResponse{
		Segment:  ps.Segment,
		Section:  seg.Section,
		Distance: ps.Distance,
		Pin:      ps.Pin,
		A:        seg.A,
		B:        seg.B,
		Bearing:  seg.Bearing(),
	})
}

type planSummary struct {
	ID         int64           `json:"id"`
	Name       string          `json:"name"`
	Segments   int             `json:"segments"`
	Sections   int             `json:"sections"`
	Crossroads int             `json:"crossroads"`
	Waypoints  []plan.Waypoint `json:"waypoints"`
	BuildTime  string          `json:"build_time"`
}

// handlePlan lists plans (GET), shows or exports one (GET ?id=[&format=gpx]),
// stores an uploaded GPX file (POST [?name=]) and deletes one (DELETE ?id=).
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if r.URL.Query().Get("id") == "" {
			s.listPlans(w)
			return
		}
		s.showPlan(w, r)
	case http.MethodPost:
		s.uploadPlan(w, r)
	case http.MethodDelete:
		s.deletePlan(w, r)
	default:
		methodNotAllowed(w)
	}
}

func planID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, errors.New("invalid 'id' parameter")
	}
	return id, nil
}

func (s *Server) listPlans(w http.ResponseWriter) {
	plans, err := s.db.Plans()
	if err != nil {
		internalError(w, fmt.Sprintf("failed to list plans: %v", err))
		return
	}
	if plans == nil {
		plans = []db.PlanInfo{}
	}
	writeJSON(w, http.StatusOK, plans)
}

func (s *Server) showPlan(w http.ResponseWriter, r *http.Request) {
	id, err := planID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.EqualFold(r.URL.Query().Get("format"), "gpx") {
		src, err := s.db.LoadPlan(id)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		b, err := trackfile.Encode(src)
		if err != nil {
			internalError(w, fmt.Sprintf("failed to encode plan: %v", err))
			return
		}
		w.Header().Set("Content-Type", "application/gpx+xml")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=plan-%d.gpx", id))
		_, _ = w.Write(b)
		return
	}

	e, err := s.plans.Get(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	wps := e.Plan.Waypoints
	if wps == nil {
		wps = []plan.Waypoint{}
	}
	writeJSON(w, http.StatusOK, planSummary{
		ID:         id,
		Name:       e.Plan.Name,
		Segments:   len(e.Plan.Segments),
		Sections:   e.Plan.Sections,
		Crossroads: len(e.Plan.Crossroads),
		Waypoints:  wps,
		BuildTime:  e.BuildTime.String(),
	})
}

func (s *Server) uploadPlan(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPlanBody))
	if err != nil {
		badRequest(w, fmt.Sprintf("failed to read plan: %v", err))
		return
	}
	src, err := trackfile.ParseBytes(body)
	if err != nil {
		badRequest(w, fmt.Sprintf("invalid GPX: %v", err))
		return
	}
	if name := strings.TrimSpace(r.URL.Query().Get("name")); name != "" {
		src.Name = name
	}
	if src.Name == "" {
		badRequest(w, "plan has no name; pass ?name=")
		return
	}
	id, err := s.db.SavePlan(src)
	if err != nil {
		internalError(w, err.Error())
		return
	}
	s.plans.Invalidate(id)
	monitoring.Logf("api: stored plan %d (%q, %d tracks)", id, src.Name, len(src.Tracks))
	writeJSON(w, http.StatusCreated, map[string]interface{}{"id": id, "name": src.Name})
}

func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	id, err := planID(r)
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	if sess, ok := s.rides.Current(); ok && sess.PlanID == id {
		s.rides.Stop()
	}
	if err := s.db.DeletePlan(id); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.plans.Invalidate(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRides(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	var id int64
	if v := r.URL.Query().Get("plan"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			badRequest(w, "invalid 'plan' parameter")
			return
		}
		id = n
	}
	rides, err := s.db.Rides(id)
	if err != nil {
		internalError(w, fmt.Sprintf("failed to list rides: %v", err))
		return
	}
	if rides == nil {
		rides = []db.Ride{}
	}
	writeJSON(w, http.StatusOK, rides)
}

type startRequest struct {
	PlanID int64  `json:"plan_id,omitempty"`
	Plan   string `json:"plan,omitempty"`
}

type startResponse struct {
	RideID   string    `json:"ride_id"`
	PlanID   int64     `json:"plan_id"`
	PlanName string    `json:"plan_name"`
	Started  time.Time `json:"started"`
}

func (s *Server) handleRideStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req startRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxLocationBody)).Decode(&req); err != nil {
		badRequest(w, fmt.Sprintf("invalid request: %v", err))
		return
	}
	id := req.PlanID
	if id == 0 && req.Plan != "" {
		var err error
		if id, err = s.db.PlanByName(req.Plan); err != nil {
			s.writeStoreError(w, err)
			return
		}
	}
	if id <= 0 {
		badRequest(w, "plan_id or plan is required")
		return
	}

	sess, err := s.rides.Start(r.Context(), id)
	switch {
	case errors.Is(err, db.ErrNotFound):
		notFound(w, err.Error())
		return
	case errors.Is(err, plan.ErrNotCompleted):
		writeJSONError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		internalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{
		RideID:   sess.ID,
		PlanID:   sess.PlanID,
		PlanName: sess.Entry.Plan.Name,
		Started:  sess.Started,
	})
}

func (s *Server) handleRideStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if _, ok := s.rides.Current(); !ok {
		writeJSONError(w, http.StatusConflict, ride.ErrNoRide.Error())
		return
	}
	s.rides.Stop()
	w.WriteHeader(http.StatusNoContent)
}
