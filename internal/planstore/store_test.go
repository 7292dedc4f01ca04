package planstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/route.radar/internal/geo"
	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
)

type fakeLoader struct {
	calls atomic.Int32
	delay time.Duration
}

var errMissing = errors.New("missing")

func (f *fakeLoader) LoadPlan(id int64) (plan.Source, error) {
	f.calls.Add(1)
	time.Sleep(f.delay)
	if id <= 0 {
		return plan.Source{}, errMissing
	}
	start := geo.Point{Lat: 46, Lon: 7 + float64(id)*0.01}
	var tr plan.Track
	for i := 0; i <= 10; i++ {
		tr.Points = append(tr.Points, plan.TrackPoint{Point: geo.Destination(start, 90, float64(i)*100)})
	}
	return plan.Source{Name: "p", Tracks: []plan.Track{tr}}, nil
}

func init() { monitoring.SetLogger(nil) }

func TestGetCachesBuiltPlan(t *testing.T) {
	l := &fakeLoader{}
	s := New(l, plan.Options{}, 4, time.Hour)
	var built int
	s.OnBuild = func(e *Entry) { built++ }

	a, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, a.Index)
	assert.NotEmpty(t, a.Plan.Segments)

	b, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.EqualValues(t, 1, l.calls.Load())
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, s.Len())

	s.Invalidate(1)
	assert.Equal(t, 0, s.Len())
	c, err := s.Get(context.Background(), 1)
	require.NoError(t, err)
	assert.NotSame(t, a, c)
}

func TestConcurrentMissesShareOneBuild(t *testing.T) {
	l := &fakeLoader{delay: 50 * time.Millisecond}
	s := New(l, plan.Options{}, 4, time.Hour)

	var wg sync.WaitGroup
	entries := make([]*Entry, 8)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := s.Get(context.Background(), 2)
			assert.NoError(t, err)
			entries[i] = e
		}(i)
	}
	wg.Wait()
	assert.EqualValues(t, 1, l.calls.Load())
	for _, e := range entries {
		assert.Same(t, entries[0], e)
	}
}

func TestLoaderErrorIsNotCached(t *testing.T) {
	l := &fakeLoader{}
	s := New(l, plan.Options{}, 4, time.Hour)
	_, err := s.Get(context.Background(), 0)
	assert.ErrorIs(t, err, errMissing)
	_, err = s.Get(context.Background(), 0)
	assert.ErrorIs(t, err, errMissing)
	assert.EqualValues(t, 2, l.calls.Load())
	assert.Equal(t, 0, s.Len())
}

func TestSizeBound(t *testing.T) {
	s := New(&fakeLoader{}, plan.Options{}, 2, time.Hour)
	for id := int64(1); id <= 3; id++ {
		_, err := s.Get(context.Background(), id)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, s.Len())
}

func TestCancelledBuild(t *testing.T) {
	s := New(&fakeLoader{}, plan.Options{}, 2, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Get(ctx, 1)
	assert.ErrorIs(t, err, plan.ErrNotCompleted)
}
