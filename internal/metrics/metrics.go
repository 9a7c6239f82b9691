package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the service's Prometheus registry. A nil *Collector is a
// valid no-op sink for every hook method.
type Collector struct {
	reg *prometheus.Registry

	ActiveTrains    prometheus.Gauge
	ScheduledTrains prometheus.Gauge

	TrainsStarted   prometheus.Counter
	TrainsFinished  prometheus.Counter
	TrainsScheduled prometheus.Counter

	TimelineTrains  prometheus.Gauge
	BuildDuration   prometheus.Histogram
	RouteDuration   prometheus.Histogram
	HopFailures     *prometheus.CounterVec // reason label: no_path|unknown_endpoint|other
	UnresolvedStops prometheus.Counter

	CacheLookups *prometheus.CounterVec // result label: hit|miss

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	DBSwitches *prometheus.CounterVec // reason label: update|ping_failure

	TickDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedMultiplier prometheus.Gauge
	PublishInterval prometheus.Gauge // seconds
	RefreshInterval prometheus.Gauge // seconds
	PreloadMinutes  prometheus.Gauge
}

func NewCollector(speedMultiplier float64, publishInterval, refreshInterval, preloadHorizon time.Duration) *Collector {
	reg := prometheus.NewRegistry()
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Name: "timeline_" + name, Help: help})
	}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Name: "timeline_" + name, Help: help})
	}
	histogram := func(name, help string, start float64) prometheus.Histogram {
		return prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeline_" + name,
			Help:    help,
			Buckets: prometheus.ExponentialBuckets(start, 2, 15),
		})
	}

	c := &Collector{
		reg:             reg,
		ActiveTrains:    gauge("active_trains", "Number of trains currently being replayed."),
		ScheduledTrains: gauge("scheduled_trains", "Number of trains waiting to start within the preload horizon."),
		TrainsStarted:   counter("trains_started_total", "Total trains started."),
		TrainsFinished:  counter("trains_finished_total", "Total trains finished."),
		TrainsScheduled: counter("trains_scheduled_total", "Total trains scheduled for a future start."),
		TimelineTrains:  gauge("trains", "Number of trains in the last built timeline."),
		BuildDuration:   histogram("build_duration_seconds", "Duration of a full day timeline build, loading included.", 0.01),
		RouteDuration:   histogram("route_duration_seconds", "Duration of a single shortest path query.", 0.00001),
		HopFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_hop_failures_total",
			Help: "Stop to stop hops that could not be routed.",
		}, []string{"reason"}),
		UnresolvedStops: counter("unresolved_stops_total", "Stop visits whose stop has no track position."),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_cache_lookups_total",
			Help: "Timeline cache lookups.",
		}, []string{"result"}),
		NATSPublished:   counter("nats_published_total", "Total NATS messages published."),
		NATSPublishErrs: counter("nats_publish_errors_total", "Total NATS publish errors."),
		NATSConnected:   gauge("nats_connected", "1 if NATS connection is established, 0 otherwise."),
		DBSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_db_switches_total",
			Help: "Number of database switches.",
		}, []string{"reason"}),
		TickDuration:    histogram("tick_duration_seconds", "Duration of one train replay tick.", 0.0001),
		PublishDuration: histogram("publish_duration_seconds", "Duration to marshal and publish a NATS message.", 0.0005),
		SpeedMultiplier: gauge("speed_multiplier", "Current speed multiplier."),
		PublishInterval: gauge("publish_interval_seconds", "Publish interval in seconds."),
		RefreshInterval: gauge("refresh_interval_seconds", "Train refresh interval in seconds."),
		PreloadMinutes:  gauge("preload_horizon_minutes", "Preload horizon in minutes."),
	}

	reg.MustRegister(
		c.ActiveTrains, c.ScheduledTrains,
		c.TrainsStarted, c.TrainsFinished, c.TrainsScheduled,
		c.TimelineTrains, c.BuildDuration, c.RouteDuration, c.HopFailures, c.UnresolvedStops,
		c.CacheLookups,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.DBSwitches, c.TickDuration, c.PublishDuration,
		c.SpeedMultiplier, c.PublishInterval, c.RefreshInterval, c.PreloadMinutes,
	)

	c.SpeedMultiplier.Set(speedMultiplier)
	c.PublishInterval.Set(publishInterval.Seconds())
	c.RefreshInterval.Set(refreshInterval.Seconds())
	c.PreloadMinutes.Set(preloadHorizon.Minutes())

	return c
}

// Registry exposes the registry for tests and extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}

// timeline build hooks

func (c *Collector) RouteObserve(d time.Duration) {
	if c != nil {
		c.RouteDuration.Observe(d.Seconds())
	}
}

func (c *Collector) HopFailedInc(reason string) {
	if c != nil {
		c.HopFailures.WithLabelValues(reason).Inc()
	}
}

func (c *Collector) StopUnresolvedInc() {
	if c != nil {
		c.UnresolvedStops.Inc()
	}
}

func (c *Collector) TimelineBuilt(trains int, took time.Duration) {
	if c != nil {
		c.TimelineTrains.Set(float64(trains))
		c.BuildDuration.Observe(took.Seconds())
	}
}

// cache hooks

func (c *Collector) CacheHit() {
	if c != nil {
		c.CacheLookups.WithLabelValues("hit").Inc()
	}
}

func (c *Collector) CacheMiss() {
	if c != nil {
		c.CacheLookups.WithLabelValues("miss").Inc()
	}
}

// publisher hooks

func (c *Collector) NATSPublishedInc() {
	if c != nil {
		c.NATSPublished.Inc()
	}
}

func (c *Collector) NATSPublishErrInc() {
	if c != nil {
		c.NATSPublishErrs.Inc()
	}
}

func (c *Collector) PublishObserve(d time.Duration) {
	if c != nil {
		c.PublishDuration.Observe(d.Seconds())
	}
}

func (c *Collector) NATSSetConnected(connected bool) {
	if c == nil {
		return
	}
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}

// replay hooks

func (c *Collector) TrainStarted(active int) {
	if c != nil {
		c.TrainsStarted.Inc()
		c.ActiveTrains.Set(float64(active))
	}
}

func (c *Collector) TrainFinished(active int) {
	if c != nil {
		c.TrainsFinished.Inc()
		c.ActiveTrains.Set(float64(active))
	}
}

func (c *Collector) TrainScheduled(scheduled int) {
	if c != nil {
		c.TrainsScheduled.Inc()
		c.ScheduledTrains.Set(float64(scheduled))
	}
}

func (c *Collector) SetScheduled(scheduled int) {
	if c != nil {
		c.ScheduledTrains.Set(float64(scheduled))
	}
}

func (c *Collector) TickObserve(d time.Duration) {
	if c != nil {
		c.TickDuration.Observe(d.Seconds())
	}
}

func (c *Collector) DBSwitched(reason string) {
	if c != nil {
		c.DBSwitches.WithLabelValues(reason).Inc()
	}
}
