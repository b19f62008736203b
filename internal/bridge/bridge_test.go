package bridge

import (
	"sync"
	"testing"
	"time"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

type fakeCommander struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCommander) Door(deviceID, action string, _ *model.DoorCommandData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, deviceID+":"+action)
	return nil
}

func (f *fakeCommander) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func badgeEvent(doorID string, status model.Status) model.Event {
	return model.Event{
		Topic:    "badge_event",
		Status:   status,
		DoorID:   doorID,
		DeviceID: "badgeuse-1",
		BadgeID:  "B1",
	}
}

func newBridge(cmd DoorCommander, cfg config.BridgeConfig) *Bridge {
	b := New(cmd, cfg, nil)
	return b
}

func TestSuccessfulBadgeOpensDoor(t *testing.T) {
	cmd := &fakeCommander{}
	b := newBridge(cmd, config.BridgeConfig{OpenAction: "open", Debounce: 0, AutoClose: 0})
	b.HandleEvent(badgeEvent("porte-1", model.StatusSuccess))
	calls := cmd.snapshot()
	if len(calls) != 1 || calls[0] != "porte-1:open" {
		t.Fatalf("calls: %v", calls)
	}
}

func TestFailedBadgeIgnored(t *testing.T) {
	cmd := &fakeCommander{}
	b := newBridge(cmd, config.BridgeConfig{OpenAction: "open"})
	b.HandleEvent(badgeEvent("porte-1", model.StatusFailure))
	b.HandleEvent(badgeEvent("porte-1", model.StatusInfo))
	if len(cmd.snapshot()) != 0 {
		t.Fatalf("non-success events must not actuate")
	}
}

func TestMissingDoorIgnored(t *testing.T) {
	cmd := &fakeCommander{}
	b := newBridge(cmd, config.BridgeConfig{OpenAction: "open"})
	b.HandleEvent(badgeEvent("", model.StatusSuccess))
	if len(cmd.snapshot()) != 0 {
		t.Fatalf("missing door id must not actuate")
	}
}

func TestNonBadgeTopicIgnored(t *testing.T) {
	cmd := &fakeCommander{}
	b := newBridge(cmd, config.BridgeConfig{OpenAction: "open"})
	b.HandleEvent(model.Event{Topic: "door_state", Status: model.StatusSuccess, DoorID: "porte-1"})
	if len(cmd.snapshot()) != 0 {
		t.Fatalf("non badge_event topics must not actuate")
	}
}

func TestDebouncePerDoor(t *testing.T) {
	cmd := &fakeCommander{}
	b := newBridge(cmd, config.BridgeConfig{OpenAction: "open", Debounce: time.Minute})
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	b.HandleEvent(badgeEvent("porte-1", model.StatusSuccess))
	b.HandleEvent(badgeEvent("porte-1", model.StatusSuccess))
	b.HandleEvent(badgeEvent("porte-2", model.StatusSuccess))
	if got := cmd.snapshot(); len(got) != 2 {
		t.Fatalf("debounce: %v", got)
	}

	now = now.Add(2 * time.Minute)
	b.HandleEvent(badgeEvent("porte-1", model.StatusSuccess))
	if got := cmd.snapshot(); len(got) != 3 {
		t.Fatalf("debounce expiry: %v", got)
	}
}

func TestAutoClose(t *testing.T) {
	cmd := &fakeCommander{}
	b := newBridge(cmd, config.BridgeConfig{OpenAction: "open", AutoClose: 10 * time.Millisecond})
	defer b.Stop()
	b.HandleEvent(badgeEvent("porte-1", model.StatusSuccess))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		calls := cmd.snapshot()
		if len(calls) == 2 {
			if calls[1] != "porte-1:close" {
				t.Fatalf("calls: %v", calls)
			}
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("auto-close never fired: %v", cmd.snapshot())
}
