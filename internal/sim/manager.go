package sim

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"train-timeline/internal/cache"
	"train-timeline/internal/publisher"
	"train-timeline/internal/timeline"
)

// Source hands out the built timeline of a service day.
type Source interface {
	Get(ctx context.Context, day time.Time) (*cache.Day, error)
}

type Publisher interface {
	PublishPosition(msg publisher.PositionMessage) error
}

type Metrics interface {
	TrainStarted(active int)
	TrainFinished(active int)
	TrainScheduled(scheduled int)
	SetScheduled(scheduled int)
	TickObserve(d time.Duration)
}

type Options struct {
	PublishInterval time.Duration
	RefreshInterval time.Duration
	PreloadHorizon  time.Duration // simulated time
	SpeedMultiplier float64
	Location        *time.Location
	Metrics         Metrics
	Now             func() time.Time // wall clock, defaults to time.Now
}

// Manager replays timelines against the clock: one goroutine per running
// train publishes its position every PublishInterval. Simulated time runs
// SpeedMultiplier times faster than the wall clock from the moment the
// manager is created.
type Manager struct {
	src  Source
	pub  Publisher
	opts Options

	anchor time.Time

	mu      sync.Mutex
	running map[string]context.CancelFunc // run key -> cancel
	wg      sync.WaitGroup

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup

	scheduled   map[string]context.CancelFunc // run key -> cancel (not yet started)
	scheduledWG sync.WaitGroup
}

func NewManager(src Source, pub Publisher, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SpeedMultiplier <= 0 {
		opts.SpeedMultiplier = 1
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = time.Second
	}
	return &Manager{
		src:       src,
		pub:       pub,
		opts:      opts,
		anchor:    opts.Now(),
		running:   make(map[string]context.CancelFunc),
		scheduled: make(map[string]context.CancelFunc),
	}
}

// SimTime maps a wall clock instant to simulated time.
func (m *Manager) SimTime(wall time.Time) time.Time {
	elapsed := time.Duration(float64(wall.Sub(m.anchor)) * m.opts.SpeedMultiplier)
	return m.anchor.Add(elapsed).In(m.opts.Location)
}

func (m *Manager) now() time.Time { return m.SimTime(m.opts.Now()) }

// wallDelay converts a simulated duration to wall clock time.
func (m *Manager) wallDelay(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(float64(d) / m.opts.SpeedMultiplier)
}

// runKey identifies one run of a train across service days: the previous-day
// copy of an overnight trip already carries its service date.
func runKey(day time.Time, t timeline.Train) string {
	trips := t.Trips()
	if len(trips) == 0 {
		return t.ID.String()
	}
	if strings.Contains(trips[0], "@") {
		return trips[0]
	}
	return trips[0] + "@" + day.Format("2006-01-02")
}

type run struct {
	key   string
	day   *cache.Day
	train timeline.Train
}

// Start launches the trains running now and those due within the preload horizon.
func (m *Manager) Start(ctx context.Context) error {
	return m.RefreshActive(ctx)
}

// RefreshActive starts every train that is running and not yet replayed, and
// schedules those starting within the preload horizon. The next service day
// is consulted once the horizon reaches past midnight.
func (m *Manager) RefreshActive(ctx context.Context) error {
	now := m.now()
	days := []time.Time{now}
	if next := now.Add(m.opts.PreloadHorizon); !sameDay(now, next) {
		days = append(days, next)
	}
	for _, d := range days {
		day, err := m.src.Get(ctx, d)
		if err != nil {
			return err
		}
		for _, t := range day.Timeline.Trains {
			start, end := t.EarliestTime(), t.LatestTime()
			if now.After(end) {
				continue
			}
			r := run{key: runKey(day.Timeline.Day, t), day: day, train: t}
			if now.Before(start) {
				if start.Sub(now) <= m.opts.PreloadHorizon {
					m.scheduleTrain(ctx, r, start)
				}
				continue
			}
			m.startTrain(ctx, r)
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Running reports the run keys currently replayed.
func (m *Manager) Running() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.running))
	for k := range m.running {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) startTrain(parent context.Context, r run) {
	m.mu.Lock()
	if _, exists := m.running[r.key]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.running[r.key] = cancel
	m.wg.Add(1)
	if m.opts.Metrics != nil {
		m.opts.Metrics.TrainStarted(len(m.running))
	}
	m.mu.Unlock()

	log.Printf("starting train %s (%s) until %s", r.train.ID, r.key, r.train.LatestTime().Format(time.RFC3339))
	go func() {
		defer m.wg.Done()
		if err := m.runTrain(ctx, r); err != nil && ctx.Err() == nil {
			log.Printf("train %s error: %v", r.train.ID, err)
		}
		m.mu.Lock()
		delete(m.running, r.key)
		if m.opts.Metrics != nil {
			m.opts.Metrics.TrainFinished(len(m.running))
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) runTrain(ctx context.Context, r run) error {
	tick := time.NewTicker(m.opts.PublishInterval)
	defer tick.Stop()
	end := r.train.LatestTime()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			tickStart := time.Now()
			now := m.now()
			if now.After(end) {
				log.Printf("finished train %s at %s", r.train.ID, now.Format(time.RFC3339))
				return nil
			}
			msg, ok, err := sample(r.day, r.train, now)
			if err != nil {
				log.Printf("locate train %s: %v", r.train.ID, err)
			} else if ok {
				if err := m.pub.PublishPosition(msg); err != nil {
					log.Printf("publish error for %s: %v", r.train.ID, err)
				}
			}
			if m.opts.Metrics != nil {
				m.opts.Metrics.TickObserve(time.Since(tickStart))
			}
		}
	}
}

func (m *Manager) scheduleTrain(parent context.Context, r run, start time.Time) {
	m.mu.Lock()
	if _, running := m.running[r.key]; running {
		m.mu.Unlock()
		return
	}
	if _, exists := m.scheduled[r.key]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.scheduled[r.key] = cancel
	m.scheduledWG.Add(1)
	if m.opts.Metrics != nil {
		m.opts.Metrics.TrainScheduled(len(m.scheduled))
	}
	m.mu.Unlock()

	log.Printf("scheduled train %s (%s) for %s", r.train.ID, r.key, start.Format(time.RFC3339))
	go func() {
		defer m.scheduledWG.Done()
		defer func() {
			m.mu.Lock()
			delete(m.scheduled, r.key)
			if m.opts.Metrics != nil {
				m.opts.Metrics.SetScheduled(len(m.scheduled))
			}
			m.mu.Unlock()
		}()
		timer := time.NewTimer(m.wallDelay(start.Sub(m.now())))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if m.now().After(r.train.LatestTime()) {
			return
		}
		m.startTrain(parent, r)
	}()
}

// StartRefresher periodically re-reads the timeline so new trains start and
// the next service day is picked up.
func (m *Manager) StartRefresher(parent context.Context) {
	if m.opts.RefreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.refreshCancel = cancel
	m.refreshWG.Add(1)
	go func() {
		defer m.refreshWG.Done()
		ticker := time.NewTicker(m.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.RefreshActive(ctx); err != nil {
					log.Printf("refresh trains error: %v", err)
				}
			}
		}
	}()
}

// Stop cancels the refresher, pending starts and running trains, and waits
// for all of them.
func (m *Manager) Stop() {
	if m.refreshCancel != nil {
		m.refreshCancel()
	}
	m.refreshWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.scheduled {
		cancel()
	}
	m.mu.Unlock()
	m.scheduledWG.Wait()
	m.mu.Lock()
	for _, cancel := range m.running {
		cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
