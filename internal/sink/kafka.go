package sink

import (
	"context"
	"encoding/json"

	"github.com/segmentio/kafka-go"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

type kafkaSink struct {
	writer *kafka.Writer
}

// NewKafka builds a sink writing normalized events as JSON, keyed by device
// id so per-device ordering survives partitioning.
func NewKafka(cfg config.KafkaSinkConfig) Sink {
	return &kafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(cfg.Brokers...),
			Topic:    cfg.Topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (s *kafkaSink) Publish(ctx context.Context, ev model.Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.DeviceID
	if key == "" {
		key = "unknown-device"
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(ev.Topic)},
		},
	})
}

func (s *kafkaSink) Close() error {
	return s.writer.Close()
}
