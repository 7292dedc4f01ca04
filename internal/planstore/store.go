// Package planstore caches built plans and their segment indexes so several
// rides over the same plan share one graph.
package planstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/banshee-data/route.radar/internal/monitoring"
	"github.com/banshee-data/route.radar/internal/plan"
	"github.com/banshee-data/route.radar/internal/segindex"
)

// Loader fetches the source of a stored plan.
type Loader interface {
	LoadPlan(id int64) (plan.Source, error)
}

// Entry is a built plan ready for a ride.
type Entry struct {
	ID        int64
	Plan      *plan.PlanData
	Index     *segindex.Index
	BuildTime time.Duration
	Built     time.Time
}

// Store is safe for concurrent use.
type Store struct {
	loader Loader
	opts   plan.Options
	cache  *expirable.LRU[int64, *Entry]
	group  singleflight.Group

	// OnBuild, when set, is called after every successful build.
	OnBuild func(e *Entry)
}

// New returns a store holding up to size plans for at most ttl each.
func New(loader Loader, opts plan.Options, size int, ttl time.Duration) *Store {
	if size <= 0 {
		size = 8
	}
	onEvict := func(id int64, e *Entry) {
		monitoring.Logf("planstore: evicted plan %d", id)
	}
	return &Store{
		loader: loader,
		opts:   opts,
		cache:  expirable.NewLRU[int64, *Entry](size, onEvict, ttl),
	}
}

// Get returns the built plan for id, building it on a miss. Concurrent
// misses for the same id share one build.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	if e, ok := s.cache.Get(id); ok {
		return e, nil
	}
	v, err, _ := s.group.Do(strconv.FormatInt(id, 10), func() (interface{}, error) {
		if e, ok := s.cache.Get(id); ok {
			return e, nil
		}
		src, err := s.loader.LoadPlan(id)
		if err != nil {
			return nil, err
		}
		e, err := Build(ctx, id, src, s.opts)
		if err != nil {
			return nil, err
		}
		s.cache.Add(id, e)
		if s.OnBuild != nil {
			s.OnBuild(e)
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// Build constructs and indexes a plan outside any cache.
func Build(ctx context.Context, id int64, src plan.Source, opts plan.Options) (*Entry, error) {
	start := time.Now()
	pd, err := plan.Build(ctx, src, opts)
	if err != nil {
		return nil, fmt.Errorf("build plan %d: %w", id, err)
	}
	return &Entry{
		ID:        id,
		Plan:      pd,
		Index:     segindex.New(pd),
		BuildTime: time.Since(start),
		Built:     time.Now(),
	}, nil
}

// Invalidate drops a cached plan, for example after it was replaced.
func (s *Store) Invalidate(id int64) { s.cache.Remove(id) }

// Len returns the number of cached plans.
func (s *Store) Len() int { return s.cache.Len() }
