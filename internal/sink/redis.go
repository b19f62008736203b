package sink

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

type redisSink struct {
	client *redis.Client
	stream string
}

// NewRedisStream builds a sink appending events to a Redis Stream via XADD.
func NewRedisStream(cfg config.RedisSinkConfig) Sink {
	return &redisSink{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		stream: cfg.Stream,
	}
}

func (s *redisSink) Publish(ctx context.Context, ev model.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event_id":  ev.ID,
			"device_id": ev.DeviceID,
			"topic":     ev.Topic,
			"status":    string(ev.Status),
			"data":      string(data),
		},
	}).Err()
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
