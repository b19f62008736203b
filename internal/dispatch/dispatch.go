package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"doorwatch/internal/config"
	"doorwatch/internal/metrics"
	"doorwatch/internal/model"
)

// Publisher is the outbound side of the stream session.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

var ErrEmptyDeviceID = errors.New("dispatch: empty device id")

var doorActions = map[string]bool{"open": true, "close": true, "toggle": true}

// Dispatcher publishes device commands on the shared transport. It is a thin
// boundary: no retries, no buffering, errors go straight back to the caller.
type Dispatcher struct {
	pub     Publisher
	cfg     config.StreamConfig
	logger  *slog.Logger
	metrics *metrics.Pipeline
	now     func() time.Time
}

func New(pub Publisher, cfg config.StreamConfig, logger *slog.Logger, m *metrics.Pipeline) *Dispatcher {
	return &Dispatcher{
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SimulateBadge publishes a simulate_badge command to a badge reader.
func (d *Dispatcher) SimulateBadge(deviceID, badgeID, doorID string) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	cmd := model.BadgeCommand{
		Action:    "simulate_badge",
		Timestamp: d.now().Format(time.RFC3339Nano),
		BadgeID:   badgeID,
		DoorID:    doorID,
	}
	topic := fmt.Sprintf(d.cfg.BadgeCommandTopic, deviceID)
	if err := d.publish(topic, cmd, cmd.Action); err != nil {
		return err
	}
	if d.logger != nil {
		d.logger.Info("badge command published", "topic", topic, "badge_id", badgeID)
	}
	return nil
}

// Door publishes an open/close/toggle command to a door device.
func (d *Dispatcher) Door(deviceID, action string, data *model.DoorCommandData) error {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return ErrEmptyDeviceID
	}
	if !doorActions[action] {
		return fmt.Errorf("dispatch: invalid door action %q", action)
	}
	cmd := model.DoorCommand{
		Action: action,
		Source: "doorwatch",
		TS:     d.now().Format(time.RFC3339Nano),
		Data:   data,
	}
	topic := fmt.Sprintf(d.cfg.DoorCommandTopic, deviceID)
	return d.publish(topic, cmd, action)
}

func (d *Dispatcher) publish(topic string, cmd any, action string) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	if err := d.pub.Publish(topic, payload); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.CommandsPublished.WithLabelValues(action).Inc()
	}
	return nil
}
