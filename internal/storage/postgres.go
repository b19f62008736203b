package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"doorwatch/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/doorwatch?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT NOT NULL,
			ts_millis BIGINT NOT NULL,
			iso_ts TEXT NOT NULL,
			device_id TEXT,
			badge_id TEXT,
			door_id TEXT,
			status TEXT NOT NULL,
			topic TEXT NOT NULL,
			message TEXT NOT NULL,
			raw TEXT,
			payload_json JSONB
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

func (s *postgresStore) SaveEvent(ctx context.Context, ev model.Event) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_id, ts_millis, iso_ts, device_id, badge_id, door_id, status, topic, message, raw, payload_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
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
