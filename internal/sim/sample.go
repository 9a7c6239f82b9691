package sim

import (
	"math"
	"time"

	"train-timeline/internal/cache"
	"train-timeline/internal/publisher"
	"train-timeline/internal/routing"
	"train-timeline/internal/timeline"
	"train-timeline/internal/track"
)

// sample describes where train is at the given instant. ok is false while the
// train has no position-bearing event, e.g. laying over between trips.
func sample(day *cache.Day, train timeline.Train, at time.Time) (publisher.PositionMessage, bool, error) {
	ev, ok := train.PositionEventAt(at)
	if !ok {
		return publisher.PositionMessage{}, false, nil
	}
	pos, _ := ev.PositionAt(at)
	pt, _, err := day.Data.Locate(pos)
	if err != nil {
		return publisher.PositionMessage{}, false, err
	}

	msg := publisher.PositionMessage{
		TrainID:   train.ID,
		Timestamp: at,
		Position:  pos,
		Event:     ev.Type(),
		Lon:       pt[0],
		Lat:       pt[1],
	}
	switch e := ev.(type) {
	case timeline.MoveConstant:
		msg.SpeedMps = e.Speed()
		msg.Bearing = heading(day.Data, e.Path, pos)
	case timeline.MoveChangingSpeed:
		msg.SpeedMps = e.SpeedFrom + e.Acceleration()*at.Sub(e.TimeFrom()).Seconds()
		msg.Bearing = heading(day.Data, e.Path, pos)
	}

	for _, e := range train.EventsBetween(at, at) {
		if dt, ok := e.(timeline.DoTrip); ok {
			msg.TripID = dt.TripID
			msg.RouteID = day.RouteOf(dt.TripID)
			if d := dt.Duration(); d > 0 {
				msg.Progress = float64(at.Sub(dt.TimeFrom())) / float64(d)
			}
			break
		}
	}
	return msg, true, nil
}

// heading is the direction of travel at pos along path, in degrees clockwise
// from north.
func heading(data *track.Data, path []routing.Segment, pos track.Position) float64 {
	if len(path) == 0 {
		return 0
	}
	seg := path[len(path)-1]
	f := seg.To
	for _, s := range path {
		if pos.Kind == track.KindWay && s.WayID() == pos.Way {
			seg, f = s, pos.Fraction
			break
		}
		if pos.IsNode() && s.Start() == pos {
			seg, f = s, s.From
			break
		}
	}
	const nudge = 1e-6
	f = math.Min(math.Max(f, nudge), 1-nudge)
	_, bearing, err := data.Locate(track.AlongWay(seg.WayID(), f))
	if err != nil {
		return 0
	}
	if seg.From > seg.To {
		bearing = math.Mod(bearing+180, 360)
	}
	return bearing
}
