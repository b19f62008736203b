package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

// Store persists normalized events as an audit trail. It is write-only from
// the pipeline's perspective; the in-memory log is never rebuilt from it.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveEvent(ctx context.Context, ev model.Event) error
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db *sql.DB
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
