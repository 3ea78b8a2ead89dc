// Package store is the persistence tier: a thin repository layer over
// database/sql + mattn/go-sqlite3, one repository struct per entity family,
// each method issuing its own ExecContext/QueryRowContext/QueryContext call
// against the shared *sql.DB — the same one-struct-per-entity,
// one-statement-per-operation repository shape the teacher's
// go/materialize/driver/sql package uses for its SQL materialization driver,
// scaled down from a pluggable driver abstraction to a single embedded
// engine.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store owns the database handle and every repository.
type Store struct {
	DB       *sql.DB
	Devices  *DeviceRepository
	Readings *ReadingRepository
	Alerts   *AlertRepository
	Reports  *ReportRepository
}

// Open opens (and migrates) the sqlite database at dsn.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY under sqlite's single-writer
	// model; reads and writes alike are serialized through it.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &Store{
		DB:       db,
		Devices:  &DeviceRepository{db: db},
		Readings: &ReadingRepository{db: db},
		Alerts:   &AlertRepository{db: db},
		Reports:  &ReportRepository{db: db},
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.DB.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS devices (
	id                               TEXT PRIMARY KEY,
	device_id                        TEXT NOT NULL UNIQUE,
	name                             TEXT NOT NULL,
	type                             TEXT NOT NULL,
	firmware_version                 TEXT,
	mac_address                      TEXT,
	ip_address                       TEXT,
	sensors                          TEXT NOT NULL DEFAULT '[]',
	location_building                TEXT,
	location_floor                   TEXT,
	location_notes                   TEXT,
	status                           TEXT NOT NULL,
	registration_status              TEXT NOT NULL,
	is_registered                    INTEGER NOT NULL DEFAULT 0,
	registered_at                    TEXT,
	last_seen                        TEXT,
	created_at                       TEXT NOT NULL,
	updated_at                       TEXT NOT NULL,
	is_deleted                       INTEGER NOT NULL DEFAULT 0,
	deleted_at                       TEXT,
	scheduled_permanent_deletion_at  TEXT
);
CREATE INDEX IF NOT EXISTS idx_devices_tombstone ON devices(is_deleted, scheduled_permanent_deletion_at);
CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status, last_seen);

CREATE TABLE IF NOT EXISTS readings (
	id              TEXT PRIMARY KEY,
	device_id       TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	ph              REAL,
	ph_valid        INTEGER NOT NULL DEFAULT 0,
	turbidity       REAL,
	turbidity_valid INTEGER NOT NULL DEFAULT 0,
	tds             REAL,
	tds_valid       INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	is_deleted      INTEGER NOT NULL DEFAULT 0,
	deleted_at      TEXT
);
CREATE INDEX IF NOT EXISTS idx_readings_device_ts ON readings(device_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_readings_ts_device ON readings(timestamp, device_id);
CREATE INDEX IF NOT EXISTS idx_readings_tombstone ON readings(is_deleted, created_at);

CREATE TABLE IF NOT EXISTS alerts (
	id                TEXT PRIMARY KEY,
	device_id         TEXT NOT NULL,
	parameter         TEXT NOT NULL,
	severity          TEXT NOT NULL,
	value             REAL NOT NULL,
	threshold         REAL NOT NULL,
	current_value     REAL NOT NULL,
	message           TEXT NOT NULL,
	status            TEXT NOT NULL,
	acknowledged      INTEGER NOT NULL DEFAULT 0,
	acknowledged_at   TEXT,
	acknowledged_by   TEXT,
	resolved_at       TEXT,
	resolved_by       TEXT,
	resolution_notes  TEXT,
	occurrence_count  INTEGER NOT NULL DEFAULT 1,
	first_occurrence  TEXT NOT NULL,
	last_occurrence   TEXT NOT NULL,
	email_sent        INTEGER NOT NULL DEFAULT 0,
	created_at        TEXT NOT NULL,
	dedup_window      INTEGER NOT NULL DEFAULT 0,
	is_deleted        INTEGER NOT NULL DEFAULT 0,
	deleted_at        TEXT
);
-- Enforces "at most one open alert per (device,parameter,severity) within a
-- single cooldown window" (§9): dedup_window is createdAt floored to the
-- crossed severity's cooldown duration (pkg/alerts.dedupWindow), so this
-- partial unique index is time-bounded rather than global — a later
-- crossing past cooldown falls into a new bucket and is free to open a
-- second alert even while the first stays open. Concurrent inserts racing
-- within the same bucket get SQLITE_CONSTRAINT; the loser retries as a merge
-- (see pkg/alerts).
CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_unique
	ON alerts(device_id, parameter, severity, dedup_window)
	WHERE acknowledged = 0 AND is_deleted = 0;
CREATE INDEX IF NOT EXISTS idx_alerts_device_param ON alerts(device_id, parameter, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status, severity);

CREATE TABLE IF NOT EXISTS reports (
	id              TEXT PRIMARY KEY,
	type            TEXT NOT NULL,
	title           TEXT NOT NULL,
	description     TEXT,
	status          TEXT NOT NULL,
	format          TEXT NOT NULL,
	parameters      TEXT NOT NULL DEFAULT '{}',
	file_handle     TEXT,
	file_name       TEXT,
	file_size       INTEGER,
	file_type       TEXT,
	generated_by    TEXT NOT NULL,
	generated_at    TEXT,
	error_message   TEXT,
	created_at      TEXT NOT NULL,
	expires_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_expiry ON reports(expires_at);
CREATE INDEX IF NOT EXISTS idx_reports_status ON reports(status);
`

func migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}

// IsUniqueConstraint reports whether err is a sqlite UNIQUE constraint
// violation — the signal pkg/alerts uses to detect it lost the race to
// create an open alert and should retry as a merge instead.
func IsUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	// sqlite3.Error carries a Code; comparing the string avoids importing
	// the driver's error type into every caller.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
