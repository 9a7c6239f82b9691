package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"train-timeline/internal/cache"
	"train-timeline/internal/config"
	"train-timeline/internal/db"
	"train-timeline/internal/metrics"
	"train-timeline/internal/publisher"
	"train-timeline/internal/sim"
)

func main() {
	var (
		dump   = flag.Bool("dump", false, "build one day's timeline, write it as JSON and exit")
		day    = flag.String("day", "", "service day for -dump (YYYY-MM-DD, default today)")
		from   = flag.String("from", "", "with -dump, keep events from this time of day (HH:MM[:SS])")
		to     = flag.String("to", "", "with -dump, keep events up to this time of day (HH:MM[:SS], may exceed 24h)")
		out    = flag.String("out", "-", "with -dump, output file")
		routes = flag.Bool("routes", false, "with -dump, add a Route event with the full path ahead of every routed hop")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	sqlDB, currentDBName, err := connect(ctx, cfg, "")
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	if *dump {
		err := dumpTimeline(ctx, cfg, sqlDB, dumpOptions{day: *day, from: *from, to: *to, out: *out, routes: *routes})
		sqlDB.Close()
		if err != nil {
			log.Fatalf("dump: %v", err)
		}
		return
	}

	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.SpeedMultiplier, cfg.PublishInterval, cfg.TrainsRefreshInterval, cfg.PreloadHorizon)
		srv := mcol.Serve(cfg.MetricsAddr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSStreamName, cfg.LogNATSSubjects, mcol)
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	var snapshots *publisher.NATSPublisher
	if cfg.PublishTimeline {
		snapshots = pub
	}
	var loader atomic.Pointer[dayLoader]
	loader.Store(&dayLoader{db: sqlDB, cfg: cfg, pub: snapshots, mcol: mcol})
	timelines := cache.NewTimelines(cfg.TimelineCacheSize, cfg.TimelineTTL, func(ctx context.Context, day time.Time) (*cache.Day, error) {
		return loader.Load().Load(ctx, day)
	}, mcol)

	svc := &service{cfg: cfg, timelines: timelines, pub: pub, mcol: mcol}
	svc.restart(ctx)

	var wg sync.WaitGroup
	if cfg.City != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &cityWatcher{cfg: cfg, db: sqlDB, name: currentDBName, mcol: mcol}
			w.run(ctx, 30*time.Minute, func(newDB *sql.DB) {
				loader.Store(&dayLoader{db: newDB, cfg: cfg, pub: snapshots, mcol: mcol})
				timelines.Invalidate()
				svc.restart(ctx)
			})
			w.db.Close()
		}()
	} else {
		defer sqlDB.Close()
	}

	<-ctx.Done()
	svc.stop()
	wg.Wait()
	log.Println("shutdown complete")
}

// service owns the replay manager, which is replaced whenever the data source changes.
type service struct {
	cfg       *config.Config
	timelines *cache.Timelines
	pub       *publisher.NATSPublisher
	mcol      *metrics.Collector

	mu  sync.Mutex
	mgr *sim.Manager
}

func (s *service) restart(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr != nil {
		s.mgr.Stop()
	}
	s.mgr = sim.NewManager(s.timelines, s.pub, sim.Options{
		PublishInterval: s.cfg.PublishInterval,
		RefreshInterval: s.cfg.TrainsRefreshInterval,
		PreloadHorizon:  s.cfg.PreloadHorizon,
		SpeedMultiplier: s.cfg.SpeedMultiplier,
		Location:        s.cfg.Location,
		Metrics:         s.mcol,
	})
	if err := s.mgr.Start(ctx); err != nil {
		// the refresher retries on its next tick
		log.Printf("start replay: %v", err)
	}
	s.mgr.StartRefresher(ctx)
}

func (s *service) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mgr != nil {
		s.mgr.Stop()
	}
}

// connect opens the configured database. With CITY set, the database of the
// latest import for that city is used unless name is given.
func connect(ctx context.Context, cfg *config.Config, name string) (*sql.DB, string, error) {
	dsn := cfg.DatabaseURL
	if cfg.City != "" && name == "" {
		var err error
		if name, err = latestImport(ctx, cfg); err != nil {
			return nil, "", err
		}
		log.Printf("using database %q for city %q", name, cfg.City)
	}
	if name != "" {
		var err error
		if dsn, err = db.WithDBName(cfg.DatabaseURL, name); err != nil {
			return nil, "", fmt.Errorf("compose DSN: %w", err)
		}
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, "", err
	}
	if err := db.Ping(ctx, conn); err != nil {
		conn.Close()
		return nil, "", err
	}
	return conn, name, nil
}

// latestImport asks the cluster's postgres database for the newest import of the city.
func latestImport(ctx context.Context, cfg *config.Config) (string, error) {
	rootDSN, err := db.WithDBName(cfg.DatabaseURL, "postgres")
	if err != nil {
		return "", fmt.Errorf("invalid base DSN: %w", err)
	}
	meta, err := db.Open(rootDSN)
	if err != nil {
		return "", err
	}
	defer meta.Close()
	if err := db.Ping(ctx, meta); err != nil {
		return "", fmt.Errorf("meta db: %w", err)
	}
	return db.ResolveLatestImportDBName(ctx, meta, cfg.City)
}

// cityWatcher switches to a newer import of the city, or reconnects when the
// current database stops answering.
type cityWatcher struct {
	cfg  *config.Config
	db   *sql.DB
	name string
	mcol *metrics.Collector
}

func (w *cityWatcher) run(ctx context.Context, every time.Duration, switched func(*sql.DB)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		reason := ""
		if err := db.Ping(ctx, w.db); err != nil {
			log.Printf("db ping failed: %v, re-resolving city db", err)
			reason = "ping_failure"
		}
		target := w.name
		if latest, err := latestImport(ctx, w.cfg); err != nil {
			log.Printf("resolve latest import error: %v", err)
		} else if latest != w.name {
			log.Printf("detected updated db for city %q: %q -> %q", w.cfg.City, w.name, latest)
			target, reason = latest, "update"
		}
		if reason == "" {
			continue
		}

		newDB, _, err := connect(ctx, w.cfg, target)
		if err != nil {
			log.Printf("connect %q: %v", target, err)
			continue
		}
		w.mcol.DBSwitched(reason)
		switched(newDB)
		w.db.Close()
		w.db, w.name = newDB, target
		log.Printf("switched to db %q for city %q", w.name, w.cfg.City)
	}
}

type dumpOptions struct {
	day, from, to, out string
	routes             bool
}

func dumpTimeline(ctx context.Context, cfg *config.Config, sqlDB *sql.DB, o dumpOptions) error {
	day := time.Now().In(cfg.Location)
	if o.day != "" {
		d, err := time.ParseInLocation("2006-01-02", o.day, cfg.Location)
		if err != nil {
			return fmt.Errorf("invalid -day: %w", err)
		}
		day = d
	}
	y, m, d := day.Date()
	day = time.Date(y, m, d, 0, 0, 0, 0, cfg.Location)

	l := &dayLoader{db: sqlDB, cfg: cfg, routeEvents: o.routes}
	built, err := l.Load(ctx, day)
	if err != nil {
		return err
	}
	tl := built.Timeline
	if o.from != "" || o.to != "" {
		start, end, err := clockBounds(tl, o.from, o.to)
		if err != nil {
			return err
		}
		tl = tl.FilterTimes(start, end)
	}

	var w io.Writer = os.Stdout
	if o.out != "-" && o.out != "" {
		f, err := os.Create(o.out)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(tl)
}
