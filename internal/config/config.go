package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DatabaseURL      string
	NATSURL          string
	BroadcastBucket  string
	RouteFile        string
	HTTPAddr         string
	MetricsAddr      string
	LocationInterval time.Duration
	ResetCooldown    time.Duration
	GPSMode          string // "sim" or "none"
	SimSpeedMps      float64
	LogBroadcastKeys bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{}

	// Database URL: prefer DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(
		os.Getenv("DATABASE_URL"),
		os.Getenv("PG_DSN"),
	)
	if dsn == "" {
		host := getenvDefault("PGHOST", "127.0.0.1")
		port := getenvDefault("PGPORT", "5432")
		user := getenvDefault("PGUSER", "postgres")
		pass := os.Getenv("PGPASSWORD")
		db := os.Getenv("PGDATABASE")
		if db == "" {
			return nil, errors.New("PGDATABASE or DATABASE_URL must be set")
		}
		sslmode := getenvDefault("PGSSLMODE", "disable")
		if pass != "" {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
		} else {
			cfg.DatabaseURL = fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
		}
	} else {
		cfg.DatabaseURL = dsn
	}

	cfg.NATSURL = getenvDefault("NATS_URL", "nats://127.0.0.1:4222")

	// JetStream KV bucket mirroring per-bus trip state
	cfg.BroadcastBucket = getenvDefault("BROADCAST_BUCKET", "buses")

	cfg.RouteFile = os.Getenv("ROUTE_FILE")
	if cfg.RouteFile == "" {
		return nil, errors.New("ROUTE_FILE must be set")
	}

	cfg.HTTPAddr = getenvDefault("HTTP_ADDR", ":8080")

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = os.Getenv("METRICS_ADDR")

	// Location publish cadence
	if v := os.Getenv("LOCATION_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid LOCATION_INTERVAL_MS: %q", v)
		}
		cfg.LocationInterval = time.Duration(ms) * time.Millisecond
	} else {
		cfg.LocationInterval = 2 * time.Second
	}

	// Cooldown between trip completion and the automatic reset
	if v := os.Getenv("RESET_COOLDOWN_SEC"); v != "" {
		sec, err := strconv.Atoi(v)
		if err != nil || sec < 0 {
			return nil, fmt.Errorf("invalid RESET_COOLDOWN_SEC: %q", v)
		}
		cfg.ResetCooldown = time.Duration(sec) * time.Second
	} else {
		cfg.ResetCooldown = 8 * time.Second
	}

	cfg.GPSMode = strings.ToLower(getenvDefault("GPS_MODE", "sim"))
	switch cfg.GPSMode {
	case "sim", "none":
	default:
		return nil, fmt.Errorf("invalid GPS_MODE: %q (want sim or none)", cfg.GPSMode)
	}

	if v := os.Getenv("SIM_SPEED_MPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			return nil, fmt.Errorf("invalid SIM_SPEED_MPS: %q", v)
		}
		cfg.SimSpeedMps = f
	} else {
		cfg.SimSpeedMps = 8.0
	}

	// Debug logging for broadcast store keys
	if v := os.Getenv("LOG_BROADCAST_KEYS"); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "t", "yes", "y", "on":
			cfg.LogBroadcastKeys = true
		default:
			cfg.LogBroadcastKeys = false
		}
	}

	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
