package gtfs

import (
	"sort"
	"time"
)

type Trip struct {
	TripID    string
	RouteID   string
	Headsign  string
	ShortName string
	BlockID   string // empty when the feed does not chain trips into blocks
}

// StopTime is one stop visit of a trip with its instants already resolved
// against the service day.
type StopTime struct {
	TripID       string
	StopID       string
	StopSequence int
	Arrival      time.Time
	Departure    time.Time
}

// HoldTime is how long the train is scheduled to stand at the stop.
func (st StopTime) HoldTime() time.Duration { return st.Departure.Sub(st.Arrival) }

// Schedule is the timetable snapshot of one service day.
type Schedule struct {
	Day       time.Time // midnight of the service day
	Trips     []Trip
	StopTimes []StopTime
}

// StopTimesByTrip groups stop times per trip, each group ordered by stop sequence.
func (s *Schedule) StopTimesByTrip() map[string][]StopTime {
	res := make(map[string][]StopTime)
	for _, st := range s.StopTimes {
		res[st.TripID] = append(res[st.TripID], st)
	}
	for _, sts := range res {
		sort.SliceStable(sts, func(i, j int) bool { return sts[i].StopSequence < sts[j].StopSequence })
	}
	return res
}
