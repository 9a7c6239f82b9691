package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"train-timeline/internal/gtfs"
)

func TestParseDaySeconds(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"08:15:30", 8*3600 + 15*60 + 30, true},
		{" 25:01:00 ", 25*3600 + 60, true},
		{"7:05", 7*3600 + 5*60, true},
		{"", 0, false},
		{"noon", 0, false},
		{"10:75:00", 0, false},
		{"-1:00:00", 0, false},
		{"1:2:3:4", 0, false},
	}
	for _, c := range cases {
		got, ok := parseDaySeconds(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestSplitUUIDs(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	ids, err := splitUUIDs(a.String() + "," + b.String())
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a, b}, ids)

	ids, err = splitUUIDs("{" + a.String() + "}")
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a}, ids)

	ids, err = splitUUIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = splitUUIDs("not-a-uuid")
	assert.Error(t, err)
}

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://u:p@db:5432/postgres?sslmode=disable", "gtfs_vancouver_2024")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db:5432/gtfs_vancouver_2024?sslmode=disable", got)

	got, err = WithDBName("u@db/postgres", "/other")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@db/other", got)

	_, err = WithDBName("", "x")
	assert.Error(t, err)
	_, err = WithDBName("mysql://db/x", "y")
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	assert.Equal(t, `"gis"."combined_ways"`, table("gis", "combined_ways"))
	assert.Equal(t, `"we""ird"."nodes"`, table(`we"ird`, "nodes"))
}

func TestAssembleAnchorsServiceDays(t *testing.T) {
	today := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	prev := today.AddDate(0, 0, -1)
	runs := []serviceRun{
		{day: prev, services: map[string]bool{"daily": true}},
		{day: today, services: map[string]bool{"daily": true, "weekday": true}},
	}
	trips := []tripRow{
		{Trip: gtfs.Trip{TripID: "late", RouteID: "r"}, serviceID: "daily"},
		{Trip: gtfs.Trip{TripID: "early", RouteID: "r", BlockID: "b"}, serviceID: "daily"},
		{Trip: gtfs.Trip{TripID: "wk", RouteID: "r"}, serviceID: "weekday"},
		{Trip: gtfs.Trip{TripID: "none", RouteID: "r"}, serviceID: "sunday"},
	}
	rows := []stopTimeRow{
		{"late", "a", 1, "23:50:00", "23:51:00"},
		{"late", "b", 2, "24:10:00", ""},
		{"early", "a", 1, "06:00:00", "06:01:00"},
		{"early", "x", 2, "", ""},
		{"early", "b", 3, "", "06:20:00"},
		{"wk", "a", 1, "12:00:00", "12:00:30"},
	}

	s := assemble(today, runs, trips, rows)
	assert.Equal(t, today, s.Day)

	ids := make([]string, 0, len(s.Trips))
	for _, tr := range s.Trips {
		ids = append(ids, tr.TripID)
	}
	assert.Equal(t, []string{"early", "late", "late@2024-03-03", "wk"}, ids)

	byTrip := s.StopTimesByTrip()
	overnight := byTrip["late@2024-03-03"]
	require.Len(t, overnight, 2)
	assert.Equal(t, time.Date(2024, 3, 3, 23, 50, 0, 0, time.UTC), overnight[0].Arrival)
	assert.Equal(t, time.Date(2024, 3, 4, 0, 10, 0, 0, time.UTC), overnight[1].Arrival)
	assert.Equal(t, overnight[1].Arrival, overnight[1].Departure)

	early := byTrip["early"]
	require.Len(t, early, 2, "untimed stop times are skipped")
	assert.Equal(t, early[1].Departure, early[1].Arrival)
	assert.Equal(t, "early", early[0].TripID)

	tonight := byTrip["late"]
	require.Len(t, tonight, 2)
	assert.Equal(t, time.Date(2024, 3, 5, 0, 10, 0, 0, time.UTC), tonight[1].Arrival)
}

func TestAssembleDropsFinishedPreviousDayTrips(t *testing.T) {
	today := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	runs := []serviceRun{{day: today.AddDate(0, 0, -1), services: map[string]bool{"s": true}}}
	trips := []tripRow{{Trip: gtfs.Trip{TripID: "t"}, serviceID: "s"}}
	rows := []stopTimeRow{{"t", "a", 1, "08:00:00", "08:01:00"}}

	s := assemble(today, runs, trips, rows)
	assert.Empty(t, s.Trips)
	assert.Empty(t, s.StopTimes)
}
