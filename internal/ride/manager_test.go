package ride

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/route.radar/internal/db"
	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/planstore"
	"github.com/banshee-data/route.radar/internal/radar"
	"github.com/banshee-data/route.radar/internal/testutil"
	"github.com/banshee-data/route.radar/internal/timeutil"
)

var (
	t0   = testutil.T0
	east = testutil.East
)

type snapshots struct {
	mu   sync.Mutex
	last radar.Snapshot
	n    int
}

func (s *snapshots) ObserveSnapshot(snap radar.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = snap
	s.n++
}

func (s *snapshots) Last() radar.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

type rideNames struct {
	radar.Recorder
	mu  sync.Mutex
	ids []string
}

func (r *rideNames) SetRide(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
}

func (r *rideNames) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

type fixture struct {
	store  *db.DB
	clock  *timeutil.MockClock
	m      *Manager
	planID int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewDB(t)
	id := testutil.SavePlan(t, store, testutil.StraightSource("straight", 2000, 100))

	clock := timeutil.NewMockClock(t0)
	cfg := radar.DefaultConfig()
	cfg.GpsFilter = false
	plans := planstore.New(store, plan.DefaultOptions(), 4, time.Hour)
	m := NewManager(plans, store, cfg, clock)
	t.Cleanup(m.Stop)
	return &fixture{store: store, clock: clock, m: m, planID: id}
}

func (f *fixture) fix(t *testing.T, p geo.Point) error {
	t.Helper()
	f.clock.Advance(time.Second)
	acc := 5.0
	return f.m.UpdateLocation(radar.Fix{Position: p, Accuracy: &acc, Time: f.clock.Now()})
}

func TestUpdateWithoutRide(t *testing.T) {
	f := newFixture(t)
	err := f.fix(t, east(0))
	assert.True(t, errors.Is(err, ErrNoRide))
	_, ok := f.m.Current()
	assert.False(t, ok)
}

func TestStartPersistsRideAndDeliversAlarms(t *testing.T) {
	f := newFixture(t)
	shared := &rideNames{}
	obs := &snapshots{}
	f.m.AddListener(shared)
	f.m.AddObserver(obs)

	s, err := f.m.Start(context.Background(), f.planID)
	require.NoError(t, err)
	assert.Equal(t, []string{s.ID}, shared.IDs())
	assert.Equal(t, "straight", s.Entry.Plan.Name)
	assert.Same(t, s.Entry.Index, s.Core.Index())

	r, err := f.store.GetRide(s.ID)
	require.NoError(t, err)
	assert.Equal(t, f.planID, r.PlanID)
	assert.Nil(t, r.Ended)

	for x := 0.0; x <= 40; x += 10 {
		require.NoError(t, f.fix(t, east(x)))
	}
	assert.Contains(t, s.Recorder.Kinds(), radar.Engaged)
	assert.Contains(t, shared.Kinds(), radar.Engaged)
	assert.Equal(t, radar.StateEngaged, obs.Last().State)
	assert.Len(t, s.Trace(), 5)

	stored, err := f.store.Alarms(s.ID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, stored)
	assert.Equal(t, radar.Engaged, stored[0].Kind)

	msgs, err := f.store.Messages(s.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, msgs)
}

func TestInvalidFixIsReportedAndObserved(t *testing.T) {
	f := newFixture(t)
	obs := &snapshots{}
	f.m.AddObserver(obs)
	_, err := f.m.Start(context.Background(), f.planID)
	require.NoError(t, err)

	err = f.fix(t, geo.Point{Lat: 120, Lon: 0})
	assert.True(t, errors.Is(err, radar.ErrInvalidFix))
	assert.Equal(t, 1, obs.Last().Rejected)
	cur, _ := f.m.Current()
	assert.Empty(t, cur.Trace())
}

func TestStartReplacesRunningRide(t *testing.T) {
	f := newFixture(t)
	shared := &rideNames{}
	f.m.AddListener(shared)

	first, err := f.m.Start(context.Background(), f.planID)
	require.NoError(t, err)
	second, err := f.m.Start(context.Background(), f.planID)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, []string{first.ID, second.ID}, shared.IDs())

	cur, ok := f.m.Current()
	require.True(t, ok)
	assert.Equal(t, second.ID, cur.ID)

	r, err := f.store.GetRide(first.ID)
	require.NoError(t, err)
	require.NotNil(t, r.Ended)

	f.m.Stop()
	_, ok = f.m.Current()
	assert.False(t, ok)
	r, err = f.store.GetRide(second.ID)
	require.NoError(t, err)
	assert.NotNil(t, r.Ended)
}

func TestStartUnknownPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.Start(context.Background(), f.planID+100)
	require.Error(t, err)
	assert.True(t, errors.Is(err, db.ErrNotFound))
}

func TestWatchdogLoopRaisesGpsLost(t *testing.T) {
	f := newFixture(t)
	obs := &snapshots{}
	f.m.AddObserver(obs)
	s, err := f.m.Start(context.Background(), f.planID)
	require.NoError(t, err)
	require.True(t, f.clock.WaitForWaiters(1, time.Second))

	require.Eventually(t, func() bool {
		f.clock.Advance(time.Second)
		for _, k := range s.Recorder.Kinds() {
			if k == radar.GpsLost {
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return obs.Last().GpsLost }, time.Second, 5*time.Millisecond)
}

func TestRidesWithoutStore(t *testing.T) {
	monitoring.SetLogger(nil)
	e, err := planstore.Build(context.Background(), 7, testutil.StraightSource("", 500, 100), plan.Options{})
	require.NoError(t, err)

	m := NewManager(staticPlans{7: e}, nil, radar.DefaultConfig(), timeutil.NewMockClock(t0))
	defer m.Stop()
	s, err := m.Start(context.Background(), 7)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, int64(7), s.PlanID)
}

type staticPlans map[int64]*planstore.Entry

func (p staticPlans) Get(_ context.Context, id int64) (*planstore.Entry, error) {
	if e, ok := p[id]; ok {
		return e, nil
	}
	return nil, db.ErrNotFound
}
