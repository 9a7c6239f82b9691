package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL           string `validate:"required"`
	City                  string
	TrackSchema           string         `validate:"required,printascii,excludes=;"`
	GTFSSchema            string         `validate:"required,printascii,excludes=;"`
	RouteTypes            []int          `validate:"dive,gte=0"`
	NATSURL               string         `validate:"required,url"`
	NATSStreamName        string         `validate:"required,excludesall=.*>"`
	PublishInterval       time.Duration  `validate:"gt=0"`
	TrainsRefreshInterval time.Duration  `validate:"gt=0"`
	PreloadHorizon        time.Duration  `validate:"gte=0"`
	SpeedMultiplier       float64        `validate:"gt=0"`
	Location              *time.Location `validate:"required"`
	LogNATSSubjects       bool
	PublishTimeline       bool
	MetricsAddr           string        `validate:"omitempty,hostname_port|startswith=:"`
	TimelineTTL           time.Duration `validate:"gt=0"`
	TimelineCacheSize     int           `validate:"gt=0"`
	ChainBlocks           bool
	SlowRouteThreshold    time.Duration `validate:"gte=0"`
}

// Load reads .env (if present) and the process environment, then validates
// the result.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv assembles a Config from a variable lookup.
func FromEnv(getenv func(string) string) (*Config, error) {
	e := env{get: getenv}
	cfg := &Config{}

	dsn, err := e.databaseURL()
	if err != nil {
		return nil, err
	}
	cfg.DatabaseURL = dsn
	cfg.City = firstNonEmpty(getenv("CITY"), getenv("CITY_NAME"))
	cfg.TrackSchema = e.str("TRACK_SCHEMA", "gis")
	cfg.GTFSSchema = e.str("GTFS_SCHEMA", "public")
	cfg.NATSURL = e.str("NATS_URL", "nats://127.0.0.1:4222")
	cfg.NATSStreamName = e.str("NATS_STREAM_NAME", "TRAINS")
	cfg.MetricsAddr = getenv("METRICS_ADDR")

	cfg.PublishInterval = e.duration("PUBLISH_INTERVAL_MS", time.Millisecond, 1000)
	cfg.TrainsRefreshInterval = e.duration("TRAINS_REFRESH_INTERVAL_SEC", time.Second, 60)
	cfg.PreloadHorizon = e.duration("TRAINS_PRELOAD_MINUTES", time.Minute, 30)
	cfg.TimelineTTL = e.duration("TIMELINE_TTL_HOURS", time.Hour, 36)
	cfg.SlowRouteThreshold = e.duration("SLOW_ROUTE_MS", time.Millisecond, 10)
	cfg.TimelineCacheSize = e.integer("TIMELINE_CACHE_SIZE", 3)
	cfg.SpeedMultiplier = e.float("SPEED_MULTIPLIER", 1.0)
	cfg.LogNATSSubjects = e.boolean("LOG_NATS_SUBJECTS", false)
	cfg.PublishTimeline = e.boolean("PUBLISH_TIMELINE", false)
	cfg.ChainBlocks = e.boolean("CHAIN_BLOCKS", false)
	cfg.RouteTypes = e.ints("ROUTE_TYPES")

	if tz := getenv("TZ"); tz == "" {
		cfg.Location = time.Local
	} else {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			e.fail("TZ", tz)
		} else {
			cfg.Location = loc
		}
	}

	if len(e.errs) > 0 {
		return nil, errors.Join(e.errs...)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) fail(key, v string) {
	e.errs = append(e.errs, fmt.Errorf("invalid %s: %q", key, v))
}

func (e *env) str(key, def string) string {
	if v := strings.TrimSpace(e.get(key)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return n
}

func (e *env) duration(key string, unit time.Duration, def int) time.Duration {
	return time.Duration(e.integer(key, def)) * unit
}

func (e *env) float(key string, def float64) float64 {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v)
		return def
	}
	return f
}

func (e *env) boolean(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(e.get(key)))
	switch v {
	case "":
		return def
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	e.fail(key, v)
	return def
}

// ints parses a comma separated list; unset yields nil, which means no filter.
func (e *env) ints(key string) []int {
	v := strings.TrimSpace(e.get(key))
	if v == "" {
		return nil
	}
	var res []int
	for _, p := range strings.Split(v, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			e.fail(key, v)
			return nil
		}
		res = append(res, n)
	}
	return res
}

// databaseURL prefers DATABASE_URL / PG_DSN and otherwise builds a DSN from PG* vars.
func (e *env) databaseURL() (string, error) {
	if dsn := firstNonEmpty(e.get("DATABASE_URL"), e.get("PG_DSN")); dsn != "" {
		return dsn, nil
	}
	host := e.str("PGHOST", "127.0.0.1")
	port := e.str("PGPORT", "5432")
	user := e.str("PGUSER", "postgres")
	pass := e.get("PGPASSWORD")
	db := e.get("PGDATABASE")
	// with CITY the real database is resolved later from the metadata db
	if db == "" && firstNonEmpty(e.get("CITY"), e.get("CITY_NAME")) != "" {
		db = "postgres"
	}
	if db == "" {
		return "", errors.New("PGDATABASE or DATABASE_URL must be set (set PGDATABASE=postgres when using CITY)")
	}
	sslmode := e.str("PGSSLMODE", "disable")
	u := url.URL{
		Scheme:   "postgres",
		User:     url.User(user),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	}
	return u.String(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
