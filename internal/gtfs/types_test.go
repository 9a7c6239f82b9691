package gtfs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopTimesByTrip(t *testing.T) {
	base := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	s := &Schedule{StopTimes: []StopTime{
		{TripID: "a", StopID: "s3", StopSequence: 30},
		{TripID: "b", StopID: "s1", StopSequence: 1},
		{TripID: "a", StopID: "s1", StopSequence: 10},
		{TripID: "a", StopID: "s2", StopSequence: 20, Arrival: base, Departure: base.Add(45 * time.Second)},
	}}

	got := s.StopTimesByTrip()
	require.Len(t, got, 2)
	var stops []string
	for _, st := range got["a"] {
		stops = append(stops, st.StopID)
	}
	assert.Equal(t, []string{"s1", "s2", "s3"}, stops)
	assert.Len(t, got["b"], 1)
	assert.Equal(t, 45*time.Second, got["a"][1].HoldTime())
}
