// Package ride runs one ride at a time: it builds the engine for a stored
// plan, attaches the process-wide listeners, persists the ride and drives
// the GPS watchdog until the ride is replaced or stopped.
package ride

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/planstore"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/timeutil"
)

// ErrNoRide is returned when a fix arrives with no ride running.
var ErrNoRide = errors.New("ride: no active ride")

const (
	// RecorderLimit bounds the in-memory alarm history of a ride.
	RecorderLimit = 500
	// TraceLimit bounds the positions kept for debug plots.
	TraceLimit = 5000
)

// Plans resolves plan IDs to built plans. *planstore.Store implements it.
type Plans interface {
	Get(ctx context.Context, id int64) (*planstore.Entry, error)
}

// Observer sees the engine state after every fix and watchdog tick.
type Observer interface {
	ObserveSnapshot(s radar.Snapshot)
}

// RideAware listeners are told the ID of each ride as it starts.
type RideAware interface {
	SetRide(id string)
}

// Session is one running ride.
type Session struct {
	ID       string
	PlanID   int64
	Entry    *planstore.Entry
	Core     *radar.RadarCore
	Recorder *radar.Recorder
	Started  time.Time

	cancel context.CancelFunc
	done   chan struct{}

	traceMu sync.Mutex
	trace   []geo.Point
}

// Trace returns the smoothed positions of the accepted fixes, oldest first.
func (s *Session) Trace() []geo.Point {
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	return append([]geo.Point(nil), s.trace...)
}

func (s *Session) addTrace(p geo.Point) {
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	s.trace = append(s.trace, p)
	if len(s.trace) > TraceLimit {
		s.trace = append(s.trace[:0], s.trace[len(s.trace)-TraceLimit:]...)
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	plans Plans
	store *db.DB
	clock timeutil.Clock

	mu        sync.Mutex
	cfg       radar.Config
	listeners []radar.Listener
	cur       *Session

	// obsMu is never held while taking mu.
	obsMu     sync.Mutex
	observers []Observer
}

// NewManager returns a manager building rides from plans. store may be nil,
// in which case rides are not persisted.
func NewManager(plans Plans, store *db.DB, cfg radar.Config, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Manager{plans: plans, store: store, cfg: cfg, clock: clock}
}

// AddListener attaches l to every ride started afterwards.
func (m *Manager) AddListener(l radar.Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// AddObserver registers o for state snapshots.
func (m *Manager) AddObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, o)
}

// SetConfig replaces the settings used for the next ride.
func (m *Manager) SetConfig(cfg radar.Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
}

// Current returns the running ride, if any.
func (m *Manager) Current() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, m.cur != nil
}

// Start ends the running ride, if any, and starts a new one on planID.
func (m *Manager) Start(ctx context.Context, planID int64) (*Session, error) {
	entry, err := m.plans.Get(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("load plan %d: %w", planID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()

	now := m.clock.Now()
	id := uuid.NewString()
	if m.store != nil {
		r, err := m.store.StartRide(planID, now)
		if err != nil {
			return nil, err
		}
		id = r.ID
	}

	rec := radar.NewRecorder(RecorderLimit)
	listeners := append([]radar.Listener{rec}, m.listeners...)
	if m.store != nil {
		listeners = append(listeners, db.NewRideRecorder(m.store, id))
	}
	for _, l := range m.listeners {
		if ra, ok := l.(RideAware); ok {
			ra.SetRide(id)
		}
	}

	core, err := radar.NewWithIndex(entry.Index, m.cfg, m.clock, listeners...)
	if err != nil {
		return nil, err
	}
	core.Start(now)

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:       id,
		PlanID:   planID,
		Entry:    entry,
		Core:     core,
		Recorder: rec,
		Started:  now,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	m.cur = s
	go m.watch(runCtx, s)

	monitoring.Logf("ride: %s started on plan %d (%q)", id, planID, entry.Plan.Name)
	m.observe(core.Snapshot())
	return s, nil
}

// watch ticks the GPS watchdog of s and reports state until cancelled.
func (m *Manager) watch(ctx context.Context, s *Session) {
	defer close(s.done)
	ticker := m.clock.NewTicker(radar.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C():
			s.Core.Tick(now)
			m.observe(s.Core.Snapshot())
		}
	}
}

func (m *Manager) observe(snap radar.Snapshot) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for _, o := range m.observers {
		o.ObserveSnapshot(snap)
	}
}

// UpdateLocation feeds f to the running ride. It satisfies nmea.Sink.
func (m *Manager) UpdateLocation(f radar.Fix) error {
	s, ok := m.Current()
	if !ok {
		return ErrNoRide
	}
	err := s.Core.UpdateLocation(f)
	snap := s.Core.Snapshot()
	if err == nil {
		s.addTrace(snap.Position)
	}
	m.observe(snap)
	return err
}

// Stop ends the running ride. It is a no-op when none is running.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	s := m.cur
	if s == nil {
		return
	}
	m.cur = nil
	s.cancel()
	<-s.done
	if m.store != nil {
		if err := m.store.EndRide(s.ID, m.clock.Now()); err != nil {
			monitoring.Logf("ride: end %s: %v", s.ID, err)
		}
	}
	monitoring.Logf("ride: %s ended", s.ID)
}
