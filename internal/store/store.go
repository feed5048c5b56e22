package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bike-tracker/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func Ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}

// Store persists the derived facts: stations, movements, and stays.
// Every write commits on its own; no transaction spans a whole snapshot.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the fact tables and converts the time-series tables
// into TimescaleDB hypertables partitioned on start_time. Safe to run on
// every boot.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stations (
			uid  BIGINT PRIMARY KEY,
			name TEXT,
			lat  DOUBLE PRECISION,
			lng  DOUBLE PRECISION
		)`,
		`CREATE TABLE IF NOT EXISTS bike_movements (
			bike_number       TEXT NOT NULL,
			start_time        TIMESTAMPTZ NOT NULL,
			end_time          TIMESTAMPTZ NOT NULL,
			start_station_uid BIGINT,
			end_station_uid   BIGINT,
			distance_km       DOUBLE PRECISION,
			PRIMARY KEY (bike_number, start_time)
		)`,
		`CREATE TABLE IF NOT EXISTS bike_stays (
			bike_number TEXT NOT NULL,
			station_uid BIGINT NOT NULL,
			start_time  TIMESTAMPTZ NOT NULL,
			end_time    TIMESTAMPTZ,
			PRIMARY KEY (bike_number, station_uid, start_time)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_bike_stays_active
			ON bike_stays (bike_number) WHERE end_time IS NULL`,
		`CREATE EXTENSION IF NOT EXISTS timescaledb`,
		`SELECT create_hypertable('bike_movements', 'start_time', if_not_exists => TRUE, migrate_data => true)`,
		`SELECT create_hypertable('bike_stays', 'start_time', if_not_exists => TRUE, migrate_data => true)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) UpsertStation(ctx context.Context, st model.Station) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stations (uid, name, lat, lng)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (uid) DO UPDATE
		  SET name = EXCLUDED.name, lat = EXCLUDED.lat, lng = EXCLUDED.lng
	`, st.UID, st.Name, st.Lat, st.Lng)
	if err != nil {
		return fmt.Errorf("upsert station %d: %w", st.UID, err)
	}
	return nil
}

// GetStation returns nil without error when the station is unknown.
func (s *Store) GetStation(ctx context.Context, uid int64) (*model.Station, error) {
	var st model.Station
	row := s.db.QueryRowContext(ctx, `SELECT uid, name, lat, lng FROM stations WHERE uid = $1`, uid)
	if err := row.Scan(&st.UID, &st.Name, &st.Lat, &st.Lng); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get station %d: %w", uid, err)
	}
	return &st, nil
}

func (s *Store) CreateMovement(ctx context.Context, mv model.Movement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bike_movements (bike_number, start_time, end_time, start_station_uid, end_station_uid, distance_km)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, mv.BikeNumber, mv.StartTime, mv.EndTime, mv.StartStationUID, mv.EndStationUID, mv.DistanceKM)
	if err != nil {
		return fmt.Errorf("create movement for bike %s: %w", mv.BikeNumber, err)
	}
	return nil
}

// FindActiveStay returns the bike's open stay (end_time IS NULL), or nil
// when the bike has none.
func (s *Store) FindActiveStay(ctx context.Context, bikeNumber string) (*model.Stay, error) {
	var st model.Stay
	row := s.db.QueryRowContext(ctx, `
		SELECT bike_number, station_uid, start_time, end_time
		FROM bike_stays
		WHERE bike_number = $1 AND end_time IS NULL
		LIMIT 1
	`, bikeNumber)
	var end sql.NullTime
	if err := row.Scan(&st.BikeNumber, &st.StationUID, &st.StartTime, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find active stay for bike %s: %w", bikeNumber, err)
	}
	if end.Valid {
		st.EndTime = &end.Time
	}
	return &st, nil
}

func (s *Store) CreateStay(ctx context.Context, stay model.Stay) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bike_stays (bike_number, station_uid, start_time, end_time)
		VALUES ($1, $2, $3, $4)
	`, stay.BikeNumber, stay.StationUID, stay.StartTime, stay.EndTime)
	if err != nil {
		return fmt.Errorf("create stay for bike %s: %w", stay.BikeNumber, err)
	}
	return nil
}

func (s *Store) EndStay(ctx context.Context, stay *model.Stay, end time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bike_stays SET end_time = $1
		WHERE bike_number = $2 AND station_uid = $3 AND start_time = $4 AND end_time IS NULL
	`, end, stay.BikeNumber, stay.StationUID, stay.StartTime)
	if err != nil {
		return fmt.Errorf("end stay for bike %s: %w", stay.BikeNumber, err)
	}
	return nil
}
