package track

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Polyline returns the way's geometry from FromNode to ToNode.
func (d *Data) Polyline(w Way) (orb.LineString, error) {
	ids := make([]uuid.UUID, 0, len(w.Nodes)+2)
	if len(w.Nodes) == 0 || w.Nodes[0] != w.FromNode {
		ids = append(ids, w.FromNode)
	}
	ids = append(ids, w.Nodes...)
	if ids[len(ids)-1] != w.ToNode {
		ids = append(ids, w.ToNode)
	}
	ls := make(orb.LineString, 0, len(ids))
	for _, id := range ids {
		n, ok := d.Nodes[id]
		if !ok {
			return nil, fmt.Errorf("way %s references unknown node %s", w.ID, id)
		}
		ls = append(ls, n.Point)
	}
	return ls, nil
}

// FillLengths sets the length of every way stored without one to the
// geodesic length of its polyline.
func (d *Data) FillLengths() error {
	for id, w := range d.Ways {
		if w.Length > 0 {
			continue
		}
		ls, err := d.Polyline(w)
		if err != nil {
			return err
		}
		w.Length = geo.Length(ls)
		d.Ways[id] = w
	}
	return nil
}

// Locate converts a track position into a coordinate and the bearing of the
// track at that point (degrees clockwise from north).
func (d *Data) Locate(p Position) (orb.Point, float64, error) {
	switch p.Kind {
	case KindNode:
		n, ok := d.Nodes[p.Node]
		if !ok {
			return orb.Point{}, 0, fmt.Errorf("unknown node %s", p.Node)
		}
		return n.Point, 0, nil
	case KindWay:
		w, ok := d.Ways[p.Way]
		if !ok {
			return orb.Point{}, 0, fmt.Errorf("unknown way %s", p.Way)
		}
		ls, err := d.Polyline(w)
		if err != nil {
			return orb.Point{}, 0, err
		}
		pt, bearing := interpolate(ls, p.Fraction)
		return pt, bearing, nil
	}
	return orb.Point{}, 0, fmt.Errorf("cannot locate %s", p)
}

func interpolate(ls orb.LineString, fraction float64) (orb.Point, float64) {
	if len(ls) == 1 {
		return ls[0], 0
	}
	cum := make([]float64, len(ls))
	for i := 1; i < len(ls); i++ {
		cum[i] = cum[i-1] + geo.Distance(ls[i-1], ls[i])
	}
	total := cum[len(cum)-1]
	if fraction < 0 {
		fraction = 0
	} else if fraction > 1 {
		fraction = 1
	}
	target := total * fraction

	i := 1
	for i < len(ls)-1 && cum[i] < target {
		i++
	}
	p0, p1 := ls[i-1], ls[i]
	bearing := geo.Bearing(p0, p1)
	if bearing < 0 {
		bearing += 360
	}
	seg := cum[i] - cum[i-1]
	if seg == 0 {
		return p0, bearing
	}
	t := (target - cum[i-1]) / seg
	return orb.Point{p0[0] + (p1[0]-p0[0])*t, p0[1] + (p1[1]-p0[1])*t}, bearing
}
