package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/paulmach/orb"

	"train-timeline/internal/track"
)

// FetchTrackData loads the full track topology stored in schema. Missing way
// lengths are filled in from node geometry.
func FetchTrackData(ctx context.Context, db *sql.DB, schema string) (*track.Data, error) {
	d := track.NewData()
	steps := []struct {
		name string
		load func(context.Context, *sql.DB, string, *track.Data) error
	}{
		{"systems", loadSystems},
		{"nodes", loadNodes},
		{"combined_ways", loadWays},
		{"node_buffer_stops", loadIDSet("node_buffer_stops", func(d *track.Data) map[uuid.UUID]struct{} { return d.BufferStops })},
		{"node_crossings", loadIDSet("node_crossings", func(d *track.Data) map[uuid.UUID]struct{} { return d.Crossings })},
		{"node_milestones", loadMilestones},
		{"node_railway_crossings", loadRailwayCrossings},
		{"node_stop_positions", loadStopPositions},
		{"node_switches", loadSwitches},
	}
	for _, s := range steps {
		if err := s.load(ctx, db, schema, d); err != nil {
			return nil, fmt.Errorf("load %s.%s: %w", schema, s.name, err)
		}
	}
	if err := d.FillLengths(); err != nil {
		return nil, err
	}
	return d, nil
}

func loadSystems(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `SELECT id, COALESCE(name, ''), COALESCE(suffix, '') FROM ` + table(schema, "systems")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var s track.System
		if err := rows.Scan(&s.ID, &s.Name, &s.Suffix); err != nil {
			return err
		}
		d.Systems[s.ID] = s
		return nil
	})
}

func loadNodes(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `SELECT id, ST_X(point), ST_Y(point), system_id, COALESCE(osm_id::text, '') FROM ` + table(schema, "nodes")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var (
			n      track.Node
			x, y   float64
			system uuid.NullUUID
		)
		if err := rows.Scan(&n.ID, &x, &y, &system, &n.OSMID); err != nil {
			return err
		}
		n.Point = orb.Point{x, y}
		n.SystemID = system.UUID
		d.Nodes[n.ID] = n
		return nil
	})
}

func loadWays(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `
SELECT id, from_node, to_node, COALESCE(array_to_string(nodes, ','), ''),
       COALESCE(elevation::text, ''), COALESCE(service::text, ''),
       COALESCE(max_speed, 0), COALESCE(is_atc, false), COALESCE(is_bidirectional, false),
       COALESCE(length, 0), COALESCE(osm_id::text, '')
FROM ` + table(schema, "combined_ways")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var (
			w                         track.Way
			nodes, elevation, service string
		)
		if err := rows.Scan(&w.ID, &w.FromNode, &w.ToNode, &nodes, &elevation, &service,
			&w.MaxSpeed, &w.IsATC, &w.IsBidirectional, &w.Length, &w.OSMID); err != nil {
			return err
		}
		var err error
		if w.Nodes, err = splitUUIDs(nodes); err != nil {
			return fmt.Errorf("way %s: %w", w.ID, err)
		}
		if elevation != "" {
			if w.Elevation, err = track.ParseElevation(elevation); err != nil {
				return fmt.Errorf("way %s: %w", w.ID, err)
			}
		}
		if service != "" {
			if w.Service, err = track.ParseService(service); err != nil {
				return fmt.Errorf("way %s: %w", w.ID, err)
			}
		}
		d.Ways[w.ID] = w
		return nil
	})
}

func loadIDSet(name string, target func(*track.Data) map[uuid.UUID]struct{}) func(context.Context, *sql.DB, string, *track.Data) error {
	return func(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
		set := target(d)
		return each(ctx, db, `SELECT id FROM `+table(schema, name), func(rows *sql.Rows) error {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return err
			}
			set[id] = struct{}{}
			return nil
		})
	}
}

func loadMilestones(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `SELECT id, COALESCE(description, '') FROM ` + table(schema, "node_milestones")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var m track.Milestone
		if err := rows.Scan(&m.ID, &m.Description); err != nil {
			return err
		}
		d.Milestones[m.ID] = m
		return nil
	})
}

func loadRailwayCrossings(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `SELECT id, way_pair_1_a, way_pair_1_b, way_pair_2_a, way_pair_2_b FROM ` + table(schema, "node_railway_crossings")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var c track.RailwayCrossing
		p := &c.WayPairs
		if err := rows.Scan(&c.ID, &p[0][0], &p[0][1], &p[1][0], &p[1][1]); err != nil {
			return err
		}
		d.RailwayCrossings[c.ID] = c
		return nil
	})
}

func loadStopPositions(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `SELECT id, COALESCE(ref, ''), COALESCE(gtfs_id, '') FROM ` + table(schema, "node_stop_positions")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var sp track.StopPosition
		if err := rows.Scan(&sp.ID, &sp.Ref, &sp.GTFSID); err != nil {
			return err
		}
		d.StopPositions[sp.ID] = sp
		return nil
	})
}

func loadSwitches(ctx context.Context, db *sql.DB, schema string, d *track.Data) error {
	q := `
SELECT id, COALESCE(ref, ''), type::text, turnout_side::text, common_way, left_way, right_way
FROM ` + table(schema, "node_switches")
	return each(ctx, db, q, func(rows *sql.Rows) error {
		var (
			s         track.Switch
			typ, side string
		)
		if err := rows.Scan(&s.ID, &s.Ref, &typ, &side, &s.CommonWay, &s.LeftWay, &s.RightWay); err != nil {
			return err
		}
		var err error
		if s.Type, err = track.ParseSwitchType(typ); err != nil {
			return fmt.Errorf("switch %s: %w", s.ID, err)
		}
		if s.TurnoutSide, err = track.ParseTurnoutSide(side); err != nil {
			return fmt.Errorf("switch %s: %w", s.ID, err)
		}
		d.Switches[s.ID] = s
		return nil
	})
}

func each(ctx context.Context, db *sql.DB, q string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// splitUUIDs parses the comma separated text form of a uuid[] column.
func splitUUIDs(s string) ([]uuid.UUID, error) {
	s = strings.Trim(strings.TrimSpace(s), "{}")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		id, err := uuid.Parse(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
