package routing

import (
	"container/heap"
	"fmt"

	"train-timeline/internal/track"
)

// Router answers cheapest-path queries over a shared network. Route calls
// never modify the shared network, so one Router may serve concurrent callers.
type Router struct {
	network *Network
}

func NewRouter(n *Network) *Router {
	return &Router{network: n}
}

// Route returns the cheapest sequence of segments from one position to
// another. Positions part way along a way are inserted into a private clone
// of the network first. Positions at a way's ends are treated as its nodes.
// Equal positions yield an empty path.
func (r *Router) Route(from, to track.Position) ([]Segment, error) {
	from, to = r.network.Canonical(from), r.network.Canonical(to)
	g, err := r.view(from, to)
	if err != nil {
		return nil, err
	}
	if from == to {
		return nil, nil
	}
	return g.shortestPath(from, to)
}

func (r *Router) view(from, to track.Position) (*Network, error) {
	if r.network.HasVertex(from) && r.network.HasVertex(to) {
		return r.network, nil
	}
	g := r.network.Clone()
	for _, p := range [2]track.Position{from, to} {
		if g.HasVertex(p) {
			continue
		}
		if p.Kind != track.KindWay {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, p)
		}
		if err := g.Subdivide(p); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnknownEndpoint, err)
		}
	}
	return g, nil
}

// shortestPath is Dijkstra over segment costs.
func (n *Network) shortestPath(from, to track.Position) ([]Segment, error) {
	dist := map[track.Position]float64{from: 0}
	prev := make(map[track.Position]*Edge)
	done := make(map[track.Position]bool)

	pq := &queue{}
	heap.Push(pq, &queueItem{pos: from, cost: 0})
	for pq.Len() > 0 {
		item := heap.Pop(pq).(*queueItem)
		cur := item.pos
		if done[cur] {
			continue
		}
		done[cur] = true
		if cur == to {
			return reconstruct(prev, from, to), nil
		}
		for _, e := range n.out[cur] {
			if done[e.To] {
				continue
			}
			c := dist[cur] + e.Segment.Cost()
			if old, ok := dist[e.To]; !ok || c < old {
				dist[e.To] = c
				prev[e.To] = e
				heap.Push(pq, &queueItem{pos: e.To, cost: c})
			}
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoPathFound, from, to)
}

func reconstruct(prev map[track.Position]*Edge, from, to track.Position) []Segment {
	var rev []Segment
	for cur := to; cur != from; {
		e := prev[cur]
		rev = append(rev, e.Segment)
		cur = e.From
	}
	path := make([]Segment, len(rev))
	for i, s := range rev {
		path[len(rev)-1-i] = s
	}
	return path
}

type queueItem struct {
	pos  track.Position
	cost float64
}

type queue []*queueItem

func (q queue) Len() int           { return len(q) }
func (q queue) Less(i, j int) bool { return q[i].cost < q[j].cost }
func (q queue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *queue) Push(x interface{}) {
	*q = append(*q, x.(*queueItem))
}

func (q *queue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
