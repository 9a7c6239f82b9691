package timeline

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"train-timeline/internal/gtfs"
	"train-timeline/internal/routing"
	"train-timeline/internal/track"
)

// Observer receives build statistics. It is optional.
type Observer interface {
	RouteObserve(d time.Duration)
	HopFailedInc(reason string)
	StopUnresolvedInc()
}

// Diagnostic records a stop visit or hop that could not be built as scheduled.
type Diagnostic struct {
	TripID       string
	StopID       string
	StopSequence int
	Err          error
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("trip %s stop %s (seq %d): %v", d.TripID, d.StopID, d.StopSequence, d.Err)
}

// ErrStopUnresolved marks a stop visit whose stop has no track position.
var ErrStopUnresolved = errors.New("stop has no track position")

type Option func(*options)

type options struct {
	resolver      track.StopResolver
	observer      Observer
	chainBlocks   bool
	routeEvents   bool
	slowRouteWarn time.Duration
}

// WithResolver overrides the stop lookup; the default indexes the topology's stop positions.
func WithResolver(r track.StopResolver) Option { return func(o *options) { o.resolver = r } }

func WithObserver(obs Observer) Option { return func(o *options) { o.observer = obs } }

// WithChainBlocks runs all trips of a GTFS block on one train, routing the
// train from the end of each trip to the start of the next.
func WithChainBlocks(on bool) Option { return func(o *options) { o.chainBlocks = on } }

// WithRouteEvents adds a Route event ahead of the moves of every routed hop.
func WithRouteEvents(on bool) Option { return func(o *options) { o.routeEvents = on } }

// WithSlowRouteThreshold sets how long one hop may take to route before it is logged.
func WithSlowRouteThreshold(d time.Duration) Option { return func(o *options) { o.slowRouteWarn = d } }

// trainNamespace seeds the name-based train ids.
var trainNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("train-timeline/train"))

// Build derives the movement timeline of every train running the schedule on
// the given service day. Malformed topology aborts the build; a stop or hop
// that cannot be resolved only degrades that part of its train, reported as
// a Diagnostic.
func Build(day time.Time, data *track.Data, sched *gtfs.Schedule, opts ...Option) (Timeline, []Diagnostic, error) {
	o := options{slowRouteWarn: 10 * time.Millisecond}
	for _, opt := range opts {
		opt(&o)
	}
	if o.resolver == nil {
		o.resolver = data.StopResolver()
	}
	network, err := routing.Build(data)
	if err != nil {
		return Timeline{}, nil, fmt.Errorf("build network: %w", err)
	}
	b := &builder{opts: o, router: routing.NewRouter(network)}

	byTrip := sched.StopTimesByTrip()
	trains := make([]Train, 0, len(sched.Trips))
	for _, g := range groupTrips(sched.Trips, byTrip, o.chainBlocks) {
		tb := &trainBuilder{b: b}
		for _, trip := range g.trips {
			tb.addTrip(trip, byTrip[trip.TripID])
		}
		if len(tb.events) == 0 {
			continue
		}
		if g.blockID != "" {
			if ev, err := NewDoBlock(earliestTime(tb.events), latestTime(tb.events), g.blockID); err == nil {
				tb.events = append([]Event{ev}, tb.events...)
			}
		}
		sortEvents(tb.events)
		id := uuid.NewSHA1(trainNamespace, []byte(day.Format("2006-01-02")+"/"+g.key))
		trains = append(trains, Train{ID: id, Events: tb.events})
	}
	sort.SliceStable(trains, func(i, j int) bool {
		return trains[i].EarliestTime().Before(trains[j].EarliestTime())
	})
	return Timeline{Day: day, Trains: trains, Events: []Event{}}, b.diagnostics, nil
}

type tripGroup struct {
	key     string
	blockID string // set only when trips are chained
	trips   []gtfs.Trip
}

// groupTrips returns one group per trip, or per block when chaining, in
// schedule order. Chained trips are ordered by their first arrival.
func groupTrips(trips []gtfs.Trip, byTrip map[string][]gtfs.StopTime, chain bool) []tripGroup {
	var groups []tripGroup
	blocks := make(map[string]int)
	for _, t := range trips {
		if !chain || t.BlockID == "" {
			groups = append(groups, tripGroup{key: "trip:" + t.TripID, trips: []gtfs.Trip{t}})
			continue
		}
		if i, ok := blocks[t.BlockID]; ok {
			groups[i].trips = append(groups[i].trips, t)
			continue
		}
		blocks[t.BlockID] = len(groups)
		groups = append(groups, tripGroup{key: "block:" + t.BlockID, blockID: t.BlockID, trips: []gtfs.Trip{t}})
	}
	first := func(t gtfs.Trip) time.Time {
		if sts := byTrip[t.TripID]; len(sts) > 0 {
			return sts[0].Arrival
		}
		return time.Time{}
	}
	for _, g := range groups {
		if len(g.trips) > 1 {
			sort.SliceStable(g.trips, func(i, j int) bool { return first(g.trips[i]).Before(first(g.trips[j])) })
		}
	}
	return groups
}

type builder struct {
	opts        options
	router      *routing.Router
	diagnostics []Diagnostic
}

func (b *builder) record(d Diagnostic) {
	b.diagnostics = append(b.diagnostics, d)
	log.Printf("timeline: %s", d)
}

type trainBuilder struct {
	b      *builder
	events []Event
	last   PositionEvent // last known position, carried across chained trips
}

func (tb *trainBuilder) addTrip(trip gtfs.Trip, sts []gtfs.StopTime) {
	if len(sts) == 0 {
		return
	}
	b := tb.b
	var tmp []Event
	resolved := 0
	tripStart, tripEnd := sts[0].Arrival, sts[0].Departure
	for _, st := range sts {
		if st.Arrival.Before(tripStart) {
			tripStart = st.Arrival
		}
		if st.Departure.After(tripEnd) {
			tripEnd = st.Departure
		}
		arrival, departure := st.Arrival, st.Departure
		if st.HoldTime() < 0 {
			departure = arrival
		}
		diag := Diagnostic{TripID: trip.TripID, StopID: st.StopID, StopSequence: st.StopSequence}

		pos, ok := b.opts.resolver.Resolve(st.StopID)
		if !ok {
			diag.Err = ErrStopUnresolved
			b.record(diag)
			if b.opts.observer != nil {
				b.opts.observer.StopUnresolvedInc()
			}
		} else {
			resolved++
			dwellFrom := arrival
			if tb.last != nil {
				hop, err := tb.route(tb.last.ToPosition(), pos, tb.last.TimeTo())
				switch {
				case err != nil:
					diag.Err = err
					b.record(diag)
					if b.opts.observer != nil {
						b.opts.observer.HopFailedInc(failureReason(err))
					}
				case len(hop) > 0:
					tmp = append(tmp, hop...)
					dwellFrom = hop[len(hop)-1].TimeTo()
				}
			}
			dwellTo := departure
			if dwellTo.Before(dwellFrom) {
				// running late: leave as soon as the train arrives
				dwellTo = dwellFrom
			}
			dwell, err := NewDwell(dwellFrom, dwellTo, pos)
			if err == nil {
				tmp = append(tmp, dwell)
				tb.last = dwell
			}
		}
		if ev, err := NewDoStop(arrival, departure, st.StopID, st.StopSequence); err == nil {
			tmp = append(tmp, ev)
		}
	}
	if resolved == 0 {
		return
	}
	if ev, err := NewDoTrip(tripStart, tripEnd, trip.TripID); err == nil {
		tmp = append([]Event{ev}, tmp...)
	}
	tb.events = append(tb.events, tmp...)
}

// route turns the cheapest path between two positions into back-to-back
// constant speed moves, one per segment, starting at the given instant.
func (tb *trainBuilder) route(from, to track.Position, at time.Time) ([]Event, error) {
	b := tb.b
	start := time.Now()
	path, err := b.router.Route(from, to)
	took := time.Since(start)
	if b.opts.observer != nil {
		b.opts.observer.RouteObserve(took)
	}
	if b.opts.slowRouteWarn > 0 && took > b.opts.slowRouteWarn {
		log.Printf("timeline: routing %s -> %s took %s", from, to, took)
	}
	if err != nil {
		return nil, err
	}
	if len(path) == 0 {
		return nil, nil
	}

	events := make([]Event, 0, len(path)+1)
	t := at
	for _, seg := range path {
		end := t.Add(seg.Duration())
		mv, err := NewMoveConstant(t, end, []routing.Segment{seg})
		if err != nil {
			return nil, err
		}
		events = append(events, mv)
		t = end
	}
	if b.opts.routeEvents {
		r, err := NewRoute(at, t, from, to, path)
		if err != nil {
			return nil, err
		}
		events = append([]Event{r}, events...)
	}
	return events, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, routing.ErrNoPathFound):
		return "no_path"
	case errors.Is(err, routing.ErrUnknownEndpoint):
		return "unknown_endpoint"
	}
	return "other"
}
