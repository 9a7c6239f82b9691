package timeline

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-timeline/internal/gtfs"
	"train-timeline/internal/routing"
	"train-timeline/internal/track"
)

type countingObserver struct {
	mu         sync.Mutex
	routes     int
	failures   map[string]int
	unresolved int
}

func (o *countingObserver) RouteObserve(time.Duration) { o.mu.Lock(); o.routes++; o.mu.Unlock() }
func (o *countingObserver) StopUnresolvedInc()         { o.mu.Lock(); o.unresolved++; o.mu.Unlock() }
func (o *countingObserver) HopFailedInc(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failures == nil {
		o.failures = map[string]int{}
	}
	o.failures[reason]++
}

type mapResolver map[string]track.Position

func (m mapResolver) Resolve(id string) (track.Position, bool) {
	p, ok := m[id]
	return p, ok
}

func twoStopLine() *network {
	n := newNetwork()
	n.way("ab", "A", "B", 1000, 36, true)
	n.stop("s1", "A")
	n.stop("s2", "B")
	return n
}

func TestBuildTwoStopsOneWay(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Day:       day,
		Trips:     []gtfs.Trip{{TripID: "t1", RouteID: "r1"}},
		StopTimes: []gtfs.StopTime{stopTime("t1", "s2", 2, 180, 240), stopTime("t1", "s1", 1, 0, 60)},
	}

	tl, diags, err := Build(day, n.data, sched)
	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, tl.Trains, 1)
	tr := tl.Trains[0]

	moves := eventsOf[MoveConstant](tr.Events)
	require.Len(t, moves, 1)
	mv := moves[0]
	assert.Equal(t, at(60), mv.TimeFrom())
	assert.Equal(t, at(160), mv.TimeTo())
	assert.InDelta(t, 10.0, mv.Speed(), 1e-9)
	require.Len(t, mv.Path, 1)
	assert.InDelta(t, 1000.0, mv.Path[0].Length(), 1e-9)
	assert.InDelta(t, 100.0, mv.Path[0].Cost(), 1e-9)

	dwells := eventsOf[Dwell](tr.Events)
	require.Len(t, dwells, 2)
	assert.Equal(t, track.AtNode(n.node("A")), dwells[0].Position)
	assert.Equal(t, at(0), dwells[0].TimeFrom())
	assert.Equal(t, at(60), dwells[0].TimeTo())
	assert.Equal(t, track.AtNode(n.node("B")), dwells[1].Position)
	assert.Equal(t, at(160), dwells[1].TimeFrom())
	assert.Equal(t, at(240), dwells[1].TimeTo())

	trips := eventsOf[DoTrip](tr.Events)
	require.Len(t, trips, 1)
	assert.Equal(t, at(0), trips[0].TimeFrom())
	assert.Equal(t, at(240), trips[0].TimeTo())
	assert.Len(t, eventsOf[DoStop](tr.Events), 2)

	for i := 1; i < len(tr.Events); i++ {
		assert.False(t, tr.Events[i].TimeFrom().Before(tr.Events[i-1].TimeFrom()), "events sorted by start")
	}
	assert.Equal(t, TypeDoTrip, tr.Events[0].Type())

	p, ok := tr.PositionAt(at(110))
	require.True(t, ok)
	assert.Equal(t, track.AlongWay(n.ways["ab"], 0.5), p)
}

func TestBuildSingleStopTrip(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Trips:     []gtfs.Trip{{TripID: "t1"}},
		StopTimes: []gtfs.StopTime{stopTime("t1", "s1", 1, 0, 60)},
	}

	tl, diags, err := Build(day, n.data, sched)
	require.NoError(t, err)
	assert.Empty(t, diags)
	require.Len(t, tl.Trains, 1)
	ev := tl.Trains[0].Events
	assert.Len(t, eventsOf[Dwell](ev), 1)
	assert.Len(t, eventsOf[DoTrip](ev), 1)
	assert.Len(t, eventsOf[DoStop](ev), 1)
	assert.Empty(t, eventsOf[MoveConstant](ev))
	assert.Empty(t, eventsOf[MoveChangingSpeed](ev))
	assert.Len(t, ev, 3)
}

func TestBuildDegradesHopWithoutPath(t *testing.T) {
	n := newNetwork()
	n.way("ab", "A", "B", 1000, 36, true)
	n.way("cd", "C", "D", 500, 36, true)
	n.stop("s1", "A")
	n.stop("s2", "C")
	n.stop("s3", "D")
	sched := &gtfs.Schedule{
		Trips: []gtfs.Trip{{TripID: "t1"}},
		StopTimes: []gtfs.StopTime{
			stopTime("t1", "s1", 1, 0, 60),
			stopTime("t1", "s2", 2, 200, 260),
			stopTime("t1", "s3", 3, 400, 460),
		},
	}
	obs := &countingObserver{}

	tl, diags, err := Build(day, n.data, sched, WithObserver(obs))
	require.NoError(t, err)
	require.Len(t, diags, 1)
	assert.Equal(t, "s2", diags[0].StopID)
	assert.True(t, errors.Is(diags[0].Err, routing.ErrNoPathFound))
	assert.Equal(t, 1, obs.failures["no_path"])
	assert.Equal(t, 2, obs.routes)

	require.Len(t, tl.Trains, 1, "a failed hop never drops the train")
	ev := tl.Trains[0].Events
	dwells := eventsOf[Dwell](ev)
	require.Len(t, dwells, 3)
	assert.Equal(t, track.AtNode(n.node("C")), dwells[1].Position)
	assert.Equal(t, at(200), dwells[1].TimeFrom())
	assert.Equal(t, at(260), dwells[1].TimeTo())

	moves := eventsOf[MoveConstant](ev)
	require.Len(t, moves, 1, "the next hop is routed from the fallback dwell")
	assert.Equal(t, at(260), moves[0].TimeFrom())
	assert.Equal(t, at(310), moves[0].TimeTo())
}

func TestBuildDegradesUnknownEndpoint(t *testing.T) {
	n := twoStopLine()
	n.stop("s3", "Island") // a node no way touches
	sched := &gtfs.Schedule{
		Trips: []gtfs.Trip{{TripID: "t1"}},
		StopTimes: []gtfs.StopTime{
			stopTime("t1", "s1", 1, 0, 60),
			stopTime("t1", "s3", 2, 200, 260),
			stopTime("t1", "s2", 3, 400, 460),
		},
	}
	obs := &countingObserver{}

	tl, diags, err := Build(day, n.data, sched, WithObserver(obs))
	require.NoError(t, err)
	require.Len(t, tl.Trains, 1)

	// the train stands at the unroutable stop, so the following hop starts
	// from a position the network does not know either
	require.Len(t, diags, 2)
	assert.Equal(t, "s3", diags[0].StopID)
	assert.Equal(t, "s2", diags[1].StopID)
	for _, d := range diags {
		assert.True(t, errors.Is(d.Err, routing.ErrUnknownEndpoint), d.String())
	}
	assert.Equal(t, map[string]int{"unknown_endpoint": 2}, obs.failures)

	ev := tl.Trains[0].Events
	assert.Empty(t, eventsOf[MoveConstant](ev))
	dwells := eventsOf[Dwell](ev)
	require.Len(t, dwells, 3)
	assert.Equal(t, track.AtNode(n.node("Island")), dwells[1].Position)
	assert.Equal(t, at(200), dwells[1].TimeFrom())
	assert.Equal(t, at(260), dwells[1].TimeTo())
	assert.Equal(t, track.AtNode(n.node("B")), dwells[2].Position)
	assert.Equal(t, at(400), dwells[2].TimeFrom())
	assert.Equal(t, at(460), dwells[2].TimeTo())
}

func TestBuildSkipsUnresolvedStops(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Trips: []gtfs.Trip{{TripID: "t1"}, {TripID: "ghost"}},
		StopTimes: []gtfs.StopTime{
			stopTime("t1", "s1", 1, 0, 60),
			stopTime("t1", "nowhere", 2, 100, 120),
			stopTime("t1", "s2", 3, 200, 260),
			stopTime("ghost", "nowhere", 1, 0, 60),
		},
	}
	obs := &countingObserver{}

	tl, diags, err := Build(day, n.data, sched, WithObserver(obs))
	require.NoError(t, err)
	require.Len(t, diags, 2)
	for _, d := range diags {
		assert.True(t, errors.Is(d.Err, ErrStopUnresolved))
	}
	assert.Equal(t, 2, obs.unresolved)

	require.Len(t, tl.Trains, 1, "a trip without resolvable stops yields no train")
	ev := tl.Trains[0].Events
	assert.Len(t, eventsOf[Dwell](ev), 2)
	assert.Len(t, eventsOf[DoStop](ev), 3)
	assert.Equal(t, []string{"t1"}, tl.Trains[0].Trips())
}

func TestBuildRunningLateShortensDwell(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Trips: []gtfs.Trip{{TripID: "t1"}},
		StopTimes: []gtfs.StopTime{
			stopTime("t1", "s1", 1, 0, 60),
			stopTime("t1", "s2", 2, 90, 120), // 100s run, 60s scheduled
		},
	}
	tl, _, err := Build(day, n.data, sched)
	require.NoError(t, err)
	dwells := eventsOf[Dwell](tl.Trains[0].Events)
	require.Len(t, dwells, 2)
	assert.Equal(t, at(160), dwells[1].TimeFrom())
	assert.Equal(t, at(160), dwells[1].TimeTo())
}

func TestBuildMidWayStop(t *testing.T) {
	n := twoStopLine()
	ab := n.ways["ab"]
	resolver := mapResolver{
		"s1":  track.AtNode(n.node("A")),
		"mid": track.AlongWay(ab, 0.3),
	}
	sched := &gtfs.Schedule{
		Trips:     []gtfs.Trip{{TripID: "t1"}},
		StopTimes: []gtfs.StopTime{stopTime("t1", "s1", 1, 0, 60), stopTime("t1", "mid", 2, 100, 120)},
	}
	tl, diags, err := Build(day, n.data, sched, WithResolver(resolver))
	require.NoError(t, err)
	assert.Empty(t, diags)

	moves := eventsOf[MoveConstant](tl.Trains[0].Events)
	require.Len(t, moves, 1)
	assert.InDelta(t, 300.0, routing.TotalLength(moves[0].Path), 1e-9)
	assert.Equal(t, at(90), moves[0].TimeTo())
	assert.Equal(t, track.AlongWay(ab, 0.3), moves[0].ToPosition())
}

func TestBuildRouteEvents(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Trips:     []gtfs.Trip{{TripID: "t1"}},
		StopTimes: []gtfs.StopTime{stopTime("t1", "s1", 1, 0, 60), stopTime("t1", "s2", 2, 180, 240)},
	}
	tl, _, err := Build(day, n.data, sched, WithRouteEvents(true))
	require.NoError(t, err)
	routes := eventsOf[Route](tl.Trains[0].Events)
	require.Len(t, routes, 1)
	assert.Equal(t, track.AtNode(n.node("A")), routes[0].Origin)
	assert.Equal(t, track.AtNode(n.node("B")), routes[0].Destination)
	assert.Equal(t, at(60), routes[0].TimeFrom())
	assert.Equal(t, at(160), routes[0].TimeTo())
}

func TestBuildChainsBlocks(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Trips: []gtfs.Trip{
			{TripID: "back", BlockID: "b1"},
			{TripID: "out", BlockID: "b1"},
			{TripID: "solo"},
		},
		StopTimes: []gtfs.StopTime{
			stopTime("out", "s1", 1, 0, 60),
			stopTime("out", "s2", 2, 180, 240),
			stopTime("back", "s2", 1, 600, 660),
			stopTime("back", "s1", 2, 780, 840),
			stopTime("solo", "s1", 1, 1000, 1060),
		},
	}

	chained, _, err := Build(day, n.data, sched, WithChainBlocks(true))
	require.NoError(t, err)
	require.Len(t, chained.Trains, 2)
	block := chained.Trains[0]
	assert.Equal(t, []string{"out", "back"}, block.Trips())
	blocks := eventsOf[DoBlock](block.Events)
	require.Len(t, blocks, 1)
	assert.Equal(t, "b1", blocks[0].BlockID)
	assert.Equal(t, at(0), blocks[0].TimeFrom())
	assert.Equal(t, at(840), blocks[0].TimeTo())
	assert.Len(t, eventsOf[MoveConstant](block.Events), 2)

	separate, _, err := Build(day, n.data, sched)
	require.NoError(t, err)
	assert.Len(t, separate.Trains, 3)
	for _, tr := range separate.Trains {
		assert.Empty(t, eventsOf[DoBlock](tr.Events))
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	n := twoStopLine()
	sched := &gtfs.Schedule{
		Trips:     []gtfs.Trip{{TripID: "t1"}, {TripID: "t2"}},
		StopTimes: []gtfs.StopTime{stopTime("t1", "s1", 1, 0, 60), stopTime("t2", "s2", 1, 30, 90)},
	}
	a, _, err := Build(day, n.data, sched)
	require.NoError(t, err)
	b, _, err := Build(day, n.data, sched)
	require.NoError(t, err)
	require.Len(t, a.Trains, 2)
	assert.Equal(t, a.Trains[0].ID, b.Trains[0].ID)
	assert.Equal(t, a.Trains[1].ID, b.Trains[1].ID)
	assert.NotEqual(t, a.Trains[0].ID, a.Trains[1].ID)

	next, _, err := Build(day.AddDate(0, 0, 1), n.data, sched)
	require.NoError(t, err)
	assert.NotEqual(t, a.Trains[0].ID, next.Trains[0].ID)
}

func TestBuildRejectsMalformedTopology(t *testing.T) {
	n := twoStopLine()
	id := uuid.New()
	n.data.Ways[id] = track.Way{ID: id, FromNode: uuid.New(), ToNode: n.node("A"), MaxSpeed: 50, Length: 10}

	_, _, err := Build(day, n.data, &gtfs.Schedule{})
	assert.Error(t, err)
}
