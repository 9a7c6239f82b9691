package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"train-timeline/internal/cache"
	"train-timeline/internal/config"
	"train-timeline/internal/db"
	"train-timeline/internal/metrics"
	"train-timeline/internal/publisher"
	"train-timeline/internal/timeline"
	"train-timeline/internal/track"
)

// dayLoader builds service day timelines from one database. The track
// topology is read once and shared by every day.
type dayLoader struct {
	db          *sql.DB
	cfg         *config.Config
	pub         *publisher.NATSPublisher // nil when snapshots are not published
	mcol        *metrics.Collector
	routeEvents bool

	mu   sync.Mutex
	data *track.Data
}

func (l *dayLoader) trackData(ctx context.Context) (*track.Data, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.data != nil {
		return l.data, nil
	}
	start := time.Now()
	data, err := db.FetchTrackData(ctx, l.db, l.cfg.TrackSchema)
	if err != nil {
		return nil, err
	}
	log.Printf("loaded track data: %d nodes, %d ways, %d stop positions in %s",
		len(data.Nodes), len(data.Ways), len(data.StopPositions), time.Since(start).Round(time.Millisecond))
	l.data = data
	return data, nil
}

func (l *dayLoader) options() []timeline.Option {
	return []timeline.Option{
		timeline.WithObserver(l.mcol),
		timeline.WithChainBlocks(l.cfg.ChainBlocks),
		timeline.WithSlowRouteThreshold(l.cfg.SlowRouteThreshold),
		timeline.WithRouteEvents(l.routeEvents),
	}
}

func (l *dayLoader) Load(ctx context.Context, day time.Time) (*cache.Day, error) {
	start := time.Now()
	data, err := l.trackData(ctx)
	if err != nil {
		return nil, fmt.Errorf("track data: %w", err)
	}
	sched, err := db.FetchSchedule(ctx, l.db, db.ScheduleSource{Schema: l.cfg.GTFSSchema, RouteTypes: l.cfg.RouteTypes}, day)
	if err != nil {
		return nil, fmt.Errorf("schedule for %s: %w", day.Format("2006-01-02"), err)
	}
	tl, diags, err := timeline.Build(day, data, sched, l.options()...)
	if err != nil {
		return nil, err
	}
	took := time.Since(start)
	l.mcol.TimelineBuilt(len(tl.Trains), took)
	log.Printf("built timeline for %s: %d trips, %d trains, %d diagnostics in %s",
		day.Format("2006-01-02"), len(sched.Trips), len(tl.Trains), len(diags), took.Round(time.Millisecond))

	if l.pub != nil {
		if err := l.pub.PublishTimeline(tl); err != nil {
			log.Printf("publish timeline %s: %v", day.Format("2006-01-02"), err)
		}
	}

	routes := make(map[string]string, len(sched.Trips))
	for _, t := range sched.Trips {
		routes[t.TripID] = t.RouteID
	}
	return &cache.Day{Timeline: tl, Data: data, Routes: routes, Diagnostics: diags, BuiltAt: time.Now()}, nil
}
