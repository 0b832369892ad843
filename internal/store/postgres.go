package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// StopRecord is one entry of the trip document's per-stop map.
type StopRecord struct {
	Name      string     `json:"name"`
	Order     int        `json:"order"`
	Status    string     `json:"status"`
	ReachedAt *time.Time `json:"reachedAt,omitempty"` // client clock
	// ReachedAtServer is assigned by the database on the reach patch and is
	// the authoritative ordering instant.
	ReachedAtServer *time.Time `json:"reachedAtServer,omitempty"`
}

// TripRecord is the durable trip document, the long-lived source of truth
// for one execution of a route.
type TripRecord struct {
	TripID        string
	BusNumber     string
	RouteID       string
	DriverID      string
	Status        string
	CurrentStopID string // empty when no current stop
	StartedAt     time.Time
	FinishedAt    *time.Time
	Stops         map[string]StopRecord
}

// TripStore persists trip documents in Postgres. Mutations after creation
// are field-path patches (jsonb_set on the stop map, targeted column
// updates), never full-document rewrites.
type TripStore struct {
	db *sql.DB
}

func NewTripStore(db *sql.DB) *TripStore { return &TripStore{db: db} }

func (s *TripStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS trips (
    trip_id         text PRIMARY KEY,
    bus_number      text NOT NULL,
    route_id        text NOT NULL,
    driver_id       text NOT NULL,
    status          text NOT NULL,
    current_stop_id text,
    started_at      timestamptz NOT NULL,
    finished_at     timestamptz,
    stops           jsonb NOT NULL DEFAULT '{}'::jsonb
)`, `
CREATE INDEX IF NOT EXISTS trips_bus_started_idx ON trips (bus_number, started_at DESC)`}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure trips schema: %w", err)
		}
	}
	return nil
}

func (s *TripStore) CreateTrip(ctx context.Context, rec TripRecord) error {
	stops, err := json.Marshal(rec.Stops)
	if err != nil {
		return fmt.Errorf("marshal stops: %w", err)
	}
	const q = `
INSERT INTO trips (trip_id, bus_number, route_id, driver_id, status, current_stop_id, started_at, stops)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)`
	if _, err := s.db.ExecContext(ctx, q,
		rec.TripID, rec.BusNumber, rec.RouteID, rec.DriverID,
		rec.Status, rec.CurrentStopID, rec.StartedAt, stops); err != nil {
		return fmt.Errorf("insert trip %s: %w", rec.TripID, err)
	}
	return nil
}

// MarkStopReached patches the reached stop's status and arrival stamps into
// the trip document and moves the denormalized current-stop pointer to
// nextStopID (empty clears it). The server-assigned reachedAtServer comes
// from now() so ordering does not depend on the client clock.
func (s *TripStore) MarkStopReached(ctx context.Context, tripID, stopID string, reachedAt time.Time, nextStopID string) error {
	reached, err := json.Marshal(reachedAt)
	if err != nil {
		return err
	}
	var q string
	if nextStopID == "" {
		q = `
UPDATE trips
SET stops = jsonb_set(
        jsonb_set(
            jsonb_set(stops, ARRAY[$2::text, 'status'], '"reached"', true),
            ARRAY[$2::text, 'reachedAt'], $3::jsonb, true),
        ARRAY[$2::text, 'reachedAtServer'], to_jsonb(now()), true),
    current_stop_id = NULL
WHERE trip_id = $1`
		if _, err := s.db.ExecContext(ctx, q, tripID, stopID, string(reached)); err != nil {
			return fmt.Errorf("patch trip %s stop %s: %w", tripID, stopID, err)
		}
		return nil
	}
	q = `
UPDATE trips
SET stops = jsonb_set(
        jsonb_set(
            jsonb_set(
                jsonb_set(stops, ARRAY[$2::text, 'status'], '"reached"', true),
                ARRAY[$2::text, 'reachedAt'], $3::jsonb, true),
            ARRAY[$2::text, 'reachedAtServer'], to_jsonb(now()), true),
        ARRAY[$4::text, 'status'], '"current"', true),
    current_stop_id = $4
WHERE trip_id = $1`
	if _, err := s.db.ExecContext(ctx, q, tripID, stopID, string(reached), nextStopID); err != nil {
		return fmt.Errorf("patch trip %s stop %s: %w", tripID, stopID, err)
	}
	return nil
}

// SetStatus finalizes the trip's lifecycle column. finishedAt is recorded
// for completed and cancelled trips; a zero value leaves the column alone.
func (s *TripStore) SetStatus(ctx context.Context, tripID, status string, finishedAt time.Time) error {
	const q = `
UPDATE trips
SET status = $2,
    finished_at = COALESCE($3::timestamptz, finished_at)
WHERE trip_id = $1`
	var arg sql.NullTime
	if !finishedAt.IsZero() {
		arg = sql.NullTime{Time: finishedAt, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, q, tripID, status, arg); err != nil {
		return fmt.Errorf("set trip %s status: %w", tripID, err)
	}
	return nil
}

// RecentTrips returns the newest trips for one bus, newest first.
func (s *TripStore) RecentTrips(ctx context.Context, busNumber string, limit int) ([]TripRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT trip_id, bus_number, route_id, driver_id, status,
       COALESCE(current_stop_id, ''), started_at, finished_at, stops
FROM trips
WHERE bus_number = $1
ORDER BY started_at DESC
LIMIT $2`
	rows, err := s.db.QueryContext(ctx, q, busNumber, limit)
	if err != nil {
		return nil, fmt.Errorf("query trips: %w", err)
	}
	defer rows.Close()

	var out []TripRecord
	for rows.Next() {
		var rec TripRecord
		var finished sql.NullTime
		var stops []byte
		if err := rows.Scan(&rec.TripID, &rec.BusNumber, &rec.RouteID, &rec.DriverID,
			&rec.Status, &rec.CurrentStopID, &rec.StartedAt, &finished, &stops); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			rec.FinishedAt = &t
		}
		if err := json.Unmarshal(stops, &rec.Stops); err != nil {
			return nil, fmt.Errorf("decode stops for trip %s: %w", rec.TripID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
