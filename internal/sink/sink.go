package sink

import (
	"context"
	"log/slog"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

// Sink receives every normalized event as a write-only side channel. Sinks
// are audit fan-out: failures are logged and never reach the pipeline.
type Sink interface {
	Publish(ctx context.Context, ev model.Event) error
	Close() error
}

// Build assembles the enabled sinks from config.
func Build(cfg config.SinksConfig, logger *slog.Logger) []Sink {
	var sinks []Sink
	if cfg.Kafka.Enabled {
		sinks = append(sinks, NewKafka(cfg.Kafka))
	}
	if cfg.Redis.Enabled {
		sinks = append(sinks, NewRedisStream(cfg.Redis))
	}
	if logger != nil && len(sinks) > 0 {
		logger.Info("event sinks enabled", "count", len(sinks))
	}
	return sinks
}

// FanOut publishes to every sink, swallowing individual failures.
func FanOut(ctx context.Context, sinks []Sink, ev model.Event, logger *slog.Logger) {
	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil && logger != nil {
			logger.Warn("event sink publish failed", "err", err, "event_id", ev.ID)
		}
	}
}
