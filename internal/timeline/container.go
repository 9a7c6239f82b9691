package timeline

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"train-timeline/internal/track"
)

// Train is the chronologically ordered event list of one train for one
// service day. Trains and timelines are never modified after construction;
// filtering returns new values.
type Train struct {
	ID     uuid.UUID `json:"id"`
	Events []Event   `json:"events"`
}

// Timeline holds every train of a service day plus day-level events.
type Timeline struct {
	Day    time.Time `json:"day"`
	Trains []Train   `json:"trains"`
	Events []Event   `json:"events"`
}

// earliestTime and latestTime return the zero time for an empty list.
func earliestTime(events []Event) time.Time {
	var res time.Time
	for i, e := range events {
		if i == 0 || e.TimeFrom().Before(res) {
			res = e.TimeFrom()
		}
	}
	return res
}

func latestTime(events []Event) time.Time {
	var res time.Time
	for i, e := range events {
		if i == 0 || e.TimeTo().After(res) {
			res = e.TimeTo()
		}
	}
	return res
}

// overlaps is the inclusive any-overlap test between an event and [start, end].
func overlaps(e Event, start, end time.Time) bool {
	tf, tt := e.TimeFrom(), e.TimeTo()
	in := func(t, lo, hi time.Time) bool { return !t.Before(lo) && !t.After(hi) }
	return in(tf, start, end) || in(tt, start, end) || in(start, tf, tt) || in(end, tf, tt)
}

func eventsBetween(events []Event, start, end time.Time) []Event {
	res := make([]Event, 0, len(events))
	for _, e := range events {
		if overlaps(e, start, end) {
			res = append(res, e)
		}
	}
	sortEvents(res)
	return res
}

func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimeFrom().Before(events[j].TimeFrom())
	})
}

func bounds(start, end *time.Time, earliest, latest time.Time) (time.Time, time.Time) {
	s, e := earliest, latest
	if start != nil {
		s = *start
	}
	if end != nil {
		e = *end
	}
	return s, e
}

func (t Train) EarliestTime() time.Time { return earliestTime(t.Events) }
func (t Train) LatestTime() time.Time   { return latestTime(t.Events) }

func (t Train) EventsBetween(start, end time.Time) []Event {
	return eventsBetween(t.Events, start, end)
}

// FilterTimes keeps the events overlapping [start, end]. A nil bound
// defaults to the train's own earliest or latest time.
func (t Train) FilterTimes(start, end *time.Time) Train {
	s, e := bounds(start, end, t.EarliestTime(), t.LatestTime())
	return Train{ID: t.ID, Events: t.EventsBetween(s, e)}
}

// PositionAt returns where the train is at the given instant, using the
// first position-bearing event covering it.
func (t Train) PositionAt(at time.Time) (track.Position, bool) {
	ev, ok := t.PositionEventAt(at)
	if !ok {
		return track.Position{}, false
	}
	return ev.PositionAt(at)
}

func (t Train) PositionEventAt(at time.Time) (PositionEvent, bool) {
	for _, e := range t.Events {
		pe, ok := e.(PositionEvent)
		if !ok {
			continue
		}
		if _, ok := pe.PositionAt(at); ok {
			return pe, true
		}
	}
	return nil, false
}

// Trips returns the ids of the trips the train runs, in order.
func (t Train) Trips() []string {
	var res []string
	for _, e := range t.Events {
		if dt, ok := e.(DoTrip); ok {
			res = append(res, dt.TripID)
		}
	}
	return res
}

func (tl Timeline) flatten() []Event {
	all := append([]Event(nil), tl.Events...)
	for _, t := range tl.Trains {
		all = append(all, t.Events...)
	}
	return all
}

// EarliestTime and LatestTime span every train and day-level event.
func (tl Timeline) EarliestTime() time.Time { return earliestTime(tl.flatten()) }
func (tl Timeline) LatestTime() time.Time   { return latestTime(tl.flatten()) }

// EventsBetween selects the day-level events overlapping [start, end].
func (tl Timeline) EventsBetween(start, end time.Time) []Event {
	return eventsBetween(tl.Events, start, end)
}

// FilterTimes narrows every train and the day-level events to [start, end].
// A nil bound defaults to the timeline's earliest or latest time. Trains left
// without events are dropped.
func (tl Timeline) FilterTimes(start, end *time.Time) Timeline {
	s, e := bounds(start, end, tl.EarliestTime(), tl.LatestTime())
	trains := make([]Train, 0, len(tl.Trains))
	for _, t := range tl.Trains {
		ft := t.FilterTimes(&s, &e)
		if len(ft.Events) > 0 {
			trains = append(trains, ft)
		}
	}
	return Timeline{Day: tl.Day, Trains: trains, Events: eventsBetween(tl.Events, s, e)}
}

func (tl Timeline) Train(id uuid.UUID) (Train, bool) {
	for _, t := range tl.Trains {
		if t.ID == id {
			return t, true
		}
	}
	return Train{}, false
}

// ActiveTrains returns the trains with at least one event covering at.
func (tl Timeline) ActiveTrains(at time.Time) []Train {
	var res []Train
	for _, t := range tl.Trains {
		if len(t.EventsBetween(at, at)) > 0 {
			res = append(res, t)
		}
	}
	return res
}

// ClockTime anchors a time of day, given as the offset from midnight, to the
// service day in the zone of the timeline's earliest event, or of its latest
// event when end is set. An empty timeline anchors in UTC.
func (tl Timeline) ClockTime(clock time.Duration, end bool) time.Time {
	ref := tl.EarliestTime()
	if end {
		ref = tl.LatestTime()
	}
	loc := time.UTC
	if !ref.IsZero() {
		loc = ref.Location()
	}
	y, m, d := tl.Day.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc).Add(clock)
}
