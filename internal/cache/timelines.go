package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"golang.org/x/sync/singleflight"

	"train-timeline/internal/timeline"
	"train-timeline/internal/track"
)

// Day is everything built for one service day.
type Day struct {
	Timeline    timeline.Timeline
	Data        *track.Data
	Routes      map[string]string // trip id -> route id
	Diagnostics []timeline.Diagnostic
	BuiltAt     time.Time
}

// RouteOf returns the route of a trip, or "" when unknown.
func (d *Day) RouteOf(tripID string) string { return d.Routes[tripID] }

// Loader builds the Day for the service day starting at the given midnight.
type Loader func(ctx context.Context, day time.Time) (*Day, error)

type Hooks interface {
	CacheHit()
	CacheMiss()
}

// Timelines caches built days with LRU eviction and a TTL. Concurrent misses
// for the same day share one load.
type Timelines struct {
	c     gcache.Cache
	group singleflight.Group
	load  Loader
	hooks Hooks
	gen   atomic.Uint64
}

func NewTimelines(size int, ttl time.Duration, load Loader, hooks Hooks) *Timelines {
	if size <= 0 {
		size = 1
	}
	b := gcache.New(size).LRU()
	if ttl > 0 {
		b = b.Expiration(ttl)
	}
	return &Timelines{c: b.Build(), load: load, hooks: hooks}
}

func dayKey(day time.Time) (string, time.Time) {
	y, m, d := day.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, day.Location())
	return start.Format("2006-01-02"), start
}

// Get returns the Day containing day, loading it on a miss.
func (t *Timelines) Get(ctx context.Context, day time.Time) (*Day, error) {
	key, start := dayKey(day)
	if v, err := t.c.Get(key); err == nil {
		t.hit()
		return v.(*Day), nil
	}
	t.miss()

	gen := t.gen.Load()
	v, err, _ := t.group.Do(key, func() (interface{}, error) {
		if v, err := t.c.Get(key); err == nil {
			return v, nil
		}
		// shared by every waiter, so one caller's cancellation must not fail the rest
		d, err := t.load(context.WithoutCancel(ctx), start)
		if err != nil {
			return nil, err
		}
		if d == nil {
			return nil, errors.New("loader returned no day")
		}
		if t.gen.Load() == gen {
			if err := t.c.Set(key, d); err != nil {
				return nil, err
			}
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Day), nil
}

// Invalidate drops every cached day. Loads already in flight are returned to
// their callers but not stored.
func (t *Timelines) Invalidate() {
	t.gen.Add(1)
	t.c.Purge()
}

// Len reports the number of cached days.
func (t *Timelines) Len() int { return t.c.Len(true) }

func (t *Timelines) hit() {
	if t.hooks != nil {
		t.hooks.CacheHit()
	}
}

func (t *Timelines) miss() {
	if t.hooks != nil {
		t.hooks.CacheMiss()
	}
}
