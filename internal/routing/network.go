package routing

import (
	"fmt"

	"github.com/google/uuid"

	"train-timeline/internal/track"
)

// Edge is one directed, weighted arc of the network.
type Edge struct {
	From    track.Position
	To      track.Position
	Segment Segment
}

// Network is a directed weighted multigraph whose vertices are track
// positions and whose edges are path segments. The network built from the
// topology is shared read-only; subdivision happens on clones.
type Network struct {
	out   map[track.Position][]*Edge
	byWay map[uuid.UUID][]*Edge
	ways  map[uuid.UUID]*track.Way // read-only, shared by clones
	edges int
}

func newNetwork() *Network {
	return &Network{
		out:   make(map[track.Position][]*Edge),
		byWay: make(map[uuid.UUID][]*Edge),
		ways:  make(map[uuid.UUID]*track.Way),
	}
}

// Build adds a forward and a reverse segment between the end nodes of every way.
func Build(data *track.Data) (*Network, error) {
	n := newNetwork()
	for _, id := range data.SortedWayIDs() {
		w := data.Ways[id]
		if _, ok := data.Nodes[w.FromNode]; !ok {
			return nil, fmt.Errorf("way %s: unknown from node %s", w.ID, w.FromNode)
		}
		if _, ok := data.Nodes[w.ToNode]; !ok {
			return nil, fmt.Errorf("way %s: unknown to node %s", w.ID, w.ToNode)
		}
		if w.MaxSpeed <= 0 {
			return nil, fmt.Errorf("way %s: max speed must be positive, got %d", w.ID, w.MaxSpeed)
		}
		if w.Length < 0 {
			return nil, fmt.Errorf("way %s: negative length %.3f", w.ID, w.Length)
		}
		way := &w
		n.ways[w.ID] = way
		fwd, err := NewSegment(way, 0, 1)
		if err != nil {
			return nil, err
		}
		rev, err := NewSegment(way, 1, 0)
		if err != nil {
			return nil, err
		}
		from, to := track.AtNode(w.FromNode), track.AtNode(w.ToNode)
		n.addVertex(from)
		n.addVertex(to)
		n.addEdge(from, to, fwd)
		n.addEdge(to, from, rev)
	}
	return n, nil
}

// Canonical snaps a position at either end of a known way to the node
// there, so each location has exactly one Position value.
func (n *Network) Canonical(p track.Position) track.Position {
	if p.Kind != track.KindWay {
		return p
	}
	if w, ok := n.ways[p.Way]; ok {
		return wayPosition(w, p.Fraction)
	}
	return p
}

func (n *Network) HasVertex(p track.Position) bool {
	_, ok := n.out[p]
	return ok
}

func (n *Network) VertexCount() int { return len(n.out) }

func (n *Network) EdgeCount() int { return n.edges }

// Edges returns every edge of the network in no particular order.
func (n *Network) Edges() []Edge {
	res := make([]Edge, 0, n.edges)
	for _, es := range n.out {
		for _, e := range es {
			res = append(res, *e)
		}
	}
	return res
}

// EdgesOnWay returns the edges backed by the given way.
func (n *Network) EdgesOnWay(id uuid.UUID) []Edge {
	res := make([]Edge, 0, len(n.byWay[id]))
	for _, e := range n.byWay[id] {
		res = append(res, *e)
	}
	return res
}

// Clone returns an independent copy. Edges are immutable and shared.
func (n *Network) Clone() *Network {
	c := &Network{
		out:   make(map[track.Position][]*Edge, len(n.out)+2),
		byWay: make(map[uuid.UUID][]*Edge, len(n.byWay)),
		ways:  n.ways,
		edges: n.edges,
	}
	for v, es := range n.out {
		c.out[v] = append([]*Edge(nil), es...)
	}
	for w, es := range n.byWay {
		c.byWay[w] = append([]*Edge(nil), es...)
	}
	return c
}

// Subdivide inserts p as a vertex, replacing every segment of p's way that
// covers p with two segments meeting at p. It is a no-op when p is already
// a vertex, including a way end that is already one of its nodes.
func (n *Network) Subdivide(p track.Position) error {
	p = n.Canonical(p)
	if n.HasVertex(p) {
		return nil
	}
	if p.Kind != track.KindWay {
		return fmt.Errorf("%w: %s is not on a way", ErrNoEncompassingSegment, p)
	}
	var spanning []*Edge
	for _, e := range n.byWay[p.Way] {
		if e.Segment.Encompasses(p.Fraction) {
			spanning = append(spanning, e)
		}
	}
	if len(spanning) == 0 {
		return fmt.Errorf("%w: %s", ErrNoEncompassingSegment, p)
	}
	n.addVertex(p)
	for _, e := range spanning {
		head, err := e.Segment.WithTo(p.Fraction)
		if err != nil {
			return err
		}
		tail, err := e.Segment.WithFrom(p.Fraction)
		if err != nil {
			return err
		}
		n.removeEdge(e)
		n.addEdge(e.From, p, head)
		n.addEdge(p, e.To, tail)
	}
	return nil
}

func (n *Network) addVertex(p track.Position) {
	if _, ok := n.out[p]; !ok {
		n.out[p] = nil
	}
}

func (n *Network) addEdge(from, to track.Position, s Segment) {
	e := &Edge{From: from, To: to, Segment: s}
	n.out[from] = append(n.out[from], e)
	n.byWay[s.Way.ID] = append(n.byWay[s.Way.ID], e)
	n.edges++
}

func (n *Network) removeEdge(e *Edge) {
	n.out[e.From] = without(n.out[e.From], e)
	id := e.Segment.Way.ID
	n.byWay[id] = without(n.byWay[id], e)
	n.edges--
}

func without(es []*Edge, e *Edge) []*Edge {
	res := es[:0:0]
	for _, x := range es {
		if x != e {
			res = append(res, x)
		}
	}
	return res
}
