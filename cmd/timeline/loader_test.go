package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-timeline/internal/config"
	"train-timeline/internal/gtfs"
	"train-timeline/internal/timeline"
	"train-timeline/internal/track"
)

func countRoutes(tl timeline.Timeline) int {
	n := 0
	for _, tr := range tl.Trains {
		for _, ev := range tr.Events {
			if ev.Type() == timeline.TypeRoute {
				n++
			}
		}
	}
	return n
}

func TestLoaderOptionsRouteEvents(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	data := track.NewData()
	data.Nodes[a] = track.Node{ID: a, Point: orb.Point{-123, 49}}
	data.Nodes[b] = track.Node{ID: b, Point: orb.Point{-122.99, 49}}
	w := track.Way{ID: uuid.New(), FromNode: a, ToNode: b, MaxSpeed: 36, IsBidirectional: true, Length: 1000}
	data.Ways[w.ID] = w
	data.StopPositions[a] = track.StopPosition{ID: a, GTFSID: "s1"}
	data.StopPositions[b] = track.StopPosition{ID: b, GTFSID: "s2"}

	day := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	at := day.Add(8 * time.Hour)
	sched := &gtfs.Schedule{
		Day:   day,
		Trips: []gtfs.Trip{{TripID: "t1", RouteID: "r1"}},
		StopTimes: []gtfs.StopTime{
			{TripID: "t1", StopID: "s1", StopSequence: 1, Arrival: at, Departure: at.Add(time.Minute)},
			{TripID: "t1", StopID: "s2", StopSequence: 2, Arrival: at.Add(5 * time.Minute), Departure: at.Add(6 * time.Minute)},
		},
	}
	cfg := &config.Config{SlowRouteThreshold: 10 * time.Millisecond}

	plain := &dayLoader{cfg: cfg}
	tl, _, err := timeline.Build(day, data, sched, plain.options()...)
	require.NoError(t, err)
	require.Len(t, tl.Trains, 1)
	assert.Zero(t, countRoutes(tl))

	audit := &dayLoader{cfg: cfg, routeEvents: true}
	tl, _, err = timeline.Build(day, data, sched, audit.options()...)
	require.NoError(t, err)
	require.Len(t, tl.Trains, 1)
	assert.Equal(t, 1, countRoutes(tl))
}
