package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"train-timeline/internal/gtfs"
)

// ScheduleSource locates the GTFS tables.
type ScheduleSource struct {
	Schema     string
	RouteTypes []int // empty loads every route
}

// FetchSchedule loads the timetable of the service day containing day: every
// trip running on it, plus the trips of the previous service day that are
// still running after midnight. Stop times are resolved against the midnight
// of their own service day, so hours past 24 land on the following date.
func FetchSchedule(ctx context.Context, db *sql.DB, src ScheduleSource, day time.Time) (*gtfs.Schedule, error) {
	today := midnight(day)
	prev := today.AddDate(0, 0, -1)

	var runs []serviceRun
	for _, d := range []time.Time{prev, today} {
		ids, err := fetchActiveServiceIDs(ctx, db, src.Schema, d)
		if err != nil {
			return nil, err
		}
		runs = append(runs, serviceRun{day: d, services: toSet(ids)})
	}
	var all []string
	for _, r := range runs {
		for id := range r.services {
			all = append(all, id)
		}
	}
	if len(all) == 0 {
		return &gtfs.Schedule{Day: today}, nil
	}

	trips, err := fetchTrips(ctx, db, src, all)
	if err != nil {
		return nil, err
	}
	tripIDs := make([]string, 0, len(trips))
	for _, t := range trips {
		tripIDs = append(tripIDs, t.TripID)
	}
	sts, err := fetchStopTimes(ctx, db, src.Schema, tripIDs)
	if err != nil {
		return nil, err
	}
	return assemble(today, runs, trips, sts), nil
}

type serviceRun struct {
	day      time.Time
	services map[string]bool
}

type tripRow struct {
	gtfs.Trip
	serviceID string
}

type stopTimeRow struct {
	tripID    string
	stopID    string
	sequence  int
	arrival   string
	departure string
}

// assemble instantiates every trip once per service run it belongs to. Runs of
// the previous day keep only trips reaching into today and get their date
// appended to the trip id, so both runs of a daily trip can coexist.
func assemble(today time.Time, runs []serviceRun, trips []tripRow, rows []stopTimeRow) *gtfs.Schedule {
	byTrip := make(map[string][]stopTimeRow)
	for _, r := range rows {
		byTrip[r.tripID] = append(byTrip[r.tripID], r)
	}

	sched := &gtfs.Schedule{Day: today}
	untimed := 0
	for _, run := range runs {
		previous := run.day.Before(today)
		for _, t := range trips {
			if !run.services[t.serviceID] {
				continue
			}
			trip := t.Trip
			if previous {
				trip.TripID += "@" + run.day.Format("2006-01-02")
			}
			var sts []gtfs.StopTime
			last := time.Time{}
			for _, r := range byTrip[t.TripID] {
				arr, okA := parseDaySeconds(r.arrival)
				dep, okD := parseDaySeconds(r.departure)
				switch {
				case !okA && !okD:
					untimed++
					continue
				case !okA:
					arr = dep
				case !okD:
					dep = arr
				}
				st := gtfs.StopTime{
					TripID:       trip.TripID,
					StopID:       r.stopID,
					StopSequence: r.sequence,
					Arrival:      run.day.Add(time.Duration(arr) * time.Second),
					Departure:    run.day.Add(time.Duration(dep) * time.Second),
				}
				if st.Departure.After(last) {
					last = st.Departure
				}
				sts = append(sts, st)
			}
			if len(sts) == 0 || (previous && last.Before(today)) {
				continue
			}
			sched.Trips = append(sched.Trips, trip)
			sched.StopTimes = append(sched.StopTimes, sts...)
		}
	}
	if untimed > 0 {
		log.Printf("schedule %s: skipped %d stop times without arrival or departure", today.Format("2006-01-02"), untimed)
	}
	sort.SliceStable(sched.Trips, func(i, j int) bool { return sched.Trips[i].TripID < sched.Trips[j].TripID })
	return sched
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func fetchTrips(ctx context.Context, db *sql.DB, src ScheduleSource, serviceIDs []string) ([]tripRow, error) {
	types := make([]string, 0, len(src.RouteTypes))
	for _, rt := range src.RouteTypes {
		types = append(types, strconv.Itoa(rt))
	}
	q := fmt.Sprintf(`
SELECT t.trip_id, t.route_id, COALESCE(t.trip_headsign, ''), COALESCE(t.trip_short_name, ''),
       COALESCE(t.block_id, ''), t.service_id
FROM %s t
JOIN %s r ON r.route_id = t.route_id
WHERE t.service_id = ANY($1)
  AND (cardinality($2::text[]) = 0 OR r.route_type::text = ANY($2::text[]))`,
		table(src.Schema, "trips"), table(src.Schema, "routes"))

	rows, err := db.QueryContext(ctx, q, serviceIDs, types)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()
	var trips []tripRow
	for rows.Next() {
		var t tripRow
		if err := rows.Scan(&t.TripID, &t.RouteID, &t.Headsign, &t.ShortName, &t.BlockID, &t.serviceID); err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func fetchStopTimes(ctx context.Context, db *sql.DB, schema string, tripIDs []string) ([]stopTimeRow, error) {
	if len(tripIDs) == 0 {
		return nil, nil
	}
	q := fmt.Sprintf(`
SELECT trip_id, stop_id, stop_sequence,
       COALESCE(arrival_time::text, ''), COALESCE(departure_time::text, '')
FROM %s
WHERE trip_id = ANY($1)
ORDER BY trip_id, stop_sequence`, table(schema, "stop_times"))

	rows, err := db.QueryContext(ctx, q, tripIDs)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()
	var res []stopTimeRow
	for rows.Next() {
		var r stopTimeRow
		if err := rows.Scan(&r.tripID, &r.stopID, &r.sequence, &r.arrival, &r.departure); err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func fetchActiveServiceIDs(ctx context.Context, db *sql.DB, schema string, day time.Time) ([]string, error) {
	date := day.Format("2006-01-02")
	dow := int(day.Weekday()) // 0=Sunday

	// calendar booleans and exception types vary between importers
	q := fmt.Sprintf(`
WITH base AS (
  SELECT service_id
  FROM %[1]s
  WHERE start_date <= $1::date AND end_date >= $1::date
    AND (
      ($2 = 0 AND (sunday::text IN ('1','t','true','available'))) OR
      ($2 = 1 AND (monday::text IN ('1','t','true','available'))) OR
      ($2 = 2 AND (tuesday::text IN ('1','t','true','available'))) OR
      ($2 = 3 AND (wednesday::text IN ('1','t','true','available'))) OR
      ($2 = 4 AND (thursday::text IN ('1','t','true','available'))) OR
      ($2 = 5 AND (friday::text IN ('1','t','true','available'))) OR
      ($2 = 6 AND (saturday::text IN ('1','t','true','available')))
    )
), add_exc AS (
  SELECT service_id FROM %[2]s WHERE date = $1::date AND (exception_type::text IN ('1','added'))
), rm_exc AS (
  SELECT service_id FROM %[2]s WHERE date = $1::date AND (exception_type::text IN ('2','removed'))
)
SELECT DISTINCT service_id FROM (SELECT service_id FROM base UNION SELECT service_id FROM add_exc) merged
WHERE service_id NOT IN (SELECT service_id FROM rm_exc)`,
		table(schema, "calendar"), table(schema, "calendar_dates"))

	rows, err := db.QueryContext(ctx, q, date, dow)
	if err != nil {
		return nil, fmt.Errorf("query active services for %s: %w", date, err)
	}
	defer rows.Close()
	var svc []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		svc = append(svc, s)
	}
	return svc, rows.Err()
}
