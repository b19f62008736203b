package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"doorwatch/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:doorwatch.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT NOT NULL,
			ts_millis INTEGER NOT NULL,
			iso_ts TEXT NOT NULL,
			device_id TEXT,
			badge_id TEXT,
			door_id TEXT,
			status TEXT NOT NULL,
			topic TEXT NOT NULL,
			message TEXT NOT NULL,
			raw TEXT,
			payload_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_millis)`,
		`CREATE INDEX IF NOT EXISTS idx_events_device ON events(device_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, ts_millis, iso_ts, device_id, badge_id, door_id, status, topic, message, raw, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID,
		ev.TimestampMillis,
		ev.ISOTimestamp,
		ev.DeviceID,
		ev.BadgeID,
		ev.DoorID,
		string(ev.Status),
		ev.Topic,
		ev.Message,
		ev.Raw,
		encodeJSON(ev.Payload),
	)
	return err
}
