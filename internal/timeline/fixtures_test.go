package timeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"train-timeline/internal/gtfs"
	"train-timeline/internal/track"
)

var (
	tz   = time.FixedZone("PST", -8*3600)
	day  = time.Date(2024, 3, 4, 0, 0, 0, 0, tz)
	base = time.Date(2024, 3, 4, 10, 0, 0, 0, tz)
)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

type network struct {
	data  *track.Data
	nodes map[string]uuid.UUID
	ways  map[string]uuid.UUID
}

func newNetwork() *network {
	return &network{data: track.NewData(), nodes: map[string]uuid.UUID{}, ways: map[string]uuid.UUID{}}
}

func (n *network) node(name string) uuid.UUID {
	if id, ok := n.nodes[name]; ok {
		return id
	}
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	n.nodes[name] = id
	n.data.Nodes[id] = track.Node{ID: id, Point: orb.Point{-123.0 + float64(len(n.nodes))*0.01, 49.2}}
	return id
}

func (n *network) way(name, from, to string, length float64, kmh int, bidi bool) uuid.UUID {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("way/"+name))
	n.ways[name] = id
	n.data.Ways[id] = track.Way{
		ID:              id,
		FromNode:        n.node(from),
		ToNode:          n.node(to),
		MaxSpeed:        kmh,
		IsBidirectional: bidi,
		Length:          length,
	}
	return id
}

func (n *network) stop(gtfsID, node string) {
	id := n.node(node)
	n.data.StopPositions[id] = track.StopPosition{ID: id, Ref: node, GTFSID: gtfsID}
}

func stopTime(trip, stop string, seq, arr, dep int) gtfs.StopTime {
	return gtfs.StopTime{TripID: trip, StopID: stop, StopSequence: seq, Arrival: at(arr), Departure: at(dep)}
}

func eventsOf[T Event](events []Event) []T {
	var res []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			res = append(res, v)
		}
	}
	return res
}
