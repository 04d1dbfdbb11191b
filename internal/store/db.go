package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults and applies
// schema migrations.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(context.Background()); err != nil {
		return &DB{Client: db}, err
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{Client: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS profiles (
		id          UUID PRIMARY KEY,
		user_id     UUID UNIQUE NOT NULL,
		name        TEXT NOT NULL,
		email       TEXT UNIQUE NOT NULL,
		roll_number TEXT,
		password_hash TEXT NOT NULL,
		photo_url   TEXT NOT NULL DEFAULT '',
		attendance_percentage DOUBLE PRECISION,
		status      TEXT NOT NULL DEFAULT 'active',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS user_roles (
		user_id     UUID NOT NULL REFERENCES profiles(user_id),
		role        TEXT NOT NULL CHECK (role IN ('admin', 'student')),
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (user_id, role)
	);

	CREATE TABLE IF NOT EXISTS refresh_tokens (
		token       TEXT PRIMARY KEY,
		user_id     UUID NOT NULL,
		expires_at  TIMESTAMPTZ NOT NULL,
		revoked     BOOLEAN NOT NULL DEFAULT FALSE,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_windows (
		id           UUID PRIMARY KEY,
		session_name TEXT NOT NULL,
		start_time   TEXT NOT NULL,
		end_time     TEXT NOT NULL,
		days_active  TEXT NOT NULL DEFAULT '',
		active_status BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS locations (
		id           UUID PRIMARY KEY,
		name         TEXT NOT NULL,
		latitude     DOUBLE PRECISION NOT NULL,
		longitude    DOUBLE PRECISION NOT NULL,
		radius_m     DOUBLE PRECISION NOT NULL DEFAULT 50,
		active_status BOOLEAN NOT NULL DEFAULT TRUE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS attendance_records (
		id           UUID PRIMARY KEY,
		student_id   UUID NOT NULL,
		session_type TEXT NOT NULL,
		day          DATE NOT NULL,
		marked_at    TIMESTAMPTZ NOT NULL,
		status       TEXT NOT NULL DEFAULT 'present',
		verification_method TEXT NOT NULL DEFAULT 'face_recognition',
		location_lat DOUBLE PRECISION,
		location_lng DOUBLE PRECISION,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, session_type, day)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance_records(student_id, day);

	CREATE TABLE IF NOT EXISTS device_registrations (
		id           UUID PRIMARY KEY,
		student_id   UUID NOT NULL,
		fingerprint  TEXT NOT NULL,
		device_name  TEXT,
		status       TEXT NOT NULL DEFAULT 'active',
		switch_count INTEGER NOT NULL DEFAULT 0,
		registered_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (student_id, fingerprint)
	);

	CREATE TABLE IF NOT EXISTS audit_logs (
		id           UUID PRIMARY KEY,
		table_name   TEXT NOT NULL,
		record_id    TEXT NOT NULL,
		action       TEXT NOT NULL,
		performed_by TEXT,
		reason       TEXT,
		performed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
