package dispatch

import (
	"encoding/json"
	"testing"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

type recorder struct {
	topics   []string
	payloads [][]byte
	err      error
}

func (r *recorder) Publish(topic string, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, payload)
	return nil
}

func newDispatcher(r *recorder) *Dispatcher {
	return New(r, config.DefaultConfig().Stream, nil, nil)
}

func TestSimulateBadge(t *testing.T) {
	r := &recorder{}
	d := newDispatcher(r)
	if err := d.SimulateBadge("badgeuse-7", "B1", "porte-2"); err != nil {
		t.Fatalf("simulate badge: %v", err)
	}
	if r.topics[0] != "iot/badgeuse/badgeuse-7/commands" {
		t.Fatalf("topic: %s", r.topics[0])
	}
	var cmd model.BadgeCommand
	if err := json.Unmarshal(r.payloads[0], &cmd); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if cmd.Action != "simulate_badge" || cmd.BadgeID != "B1" || cmd.DoorID != "porte-2" {
		t.Fatalf("command: %+v", cmd)
	}
	if cmd.Timestamp == "" {
		t.Fatalf("timestamp missing")
	}
}

func TestSimulateBadgeOmitsEmptyDoor(t *testing.T) {
	r := &recorder{}
	d := newDispatcher(r)
	if err := d.SimulateBadge("badgeuse-7", "B1", ""); err != nil {
		t.Fatalf("simulate badge: %v", err)
	}
	var raw map[string]any
	_ = json.Unmarshal(r.payloads[0], &raw)
	if _, ok := raw["doorID"]; ok {
		t.Fatalf("doorID must be omitted when empty: %s", r.payloads[0])
	}
}

func TestSimulateBadgeEmptyDevice(t *testing.T) {
	d := newDispatcher(&recorder{})
	if err := d.SimulateBadge("  ", "B1", ""); err != ErrEmptyDeviceID {
		t.Fatalf("expected ErrEmptyDeviceID, got %v", err)
	}
}

func TestDoorCommand(t *testing.T) {
	r := &recorder{}
	d := newDispatcher(r)
	if err := d.Door("porte-1", "open", &model.DoorCommandData{BadgeDeviceID: "badgeuse-7", TagID: "B1", Success: true}); err != nil {
		t.Fatalf("door: %v", err)
	}
	if r.topics[0] != "iot/porte/porte-1/commands" {
		t.Fatalf("topic: %s", r.topics[0])
	}
	var cmd model.DoorCommand
	_ = json.Unmarshal(r.payloads[0], &cmd)
	if cmd.Action != "open" || cmd.Source != "doorwatch" || cmd.Data == nil || cmd.Data.TagID != "B1" {
		t.Fatalf("command: %+v", cmd)
	}
}

func TestDoorRejectsUnknownAction(t *testing.T) {
	d := newDispatcher(&recorder{})
	if err := d.Door("porte-1", "explode", nil); err == nil {
		t.Fatalf("invalid action must fail")
	}
}
