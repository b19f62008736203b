package state

import (
	"encoding/json"
	"sync"
	"time"

	"doorwatch/internal/model"
)

// Store folds door-state and badge-event frames into live projections:
// door id -> open/closed, and badge-reader device id -> last badge seen.
// Both folds are tolerant: everything short of a usable device id and field
// is silently dropped, no frame is ever rejected because of it.
type Store struct {
	mu        sync.RWMutex
	doors     map[string]bool
	badges    map[string]model.BadgeSighting
	listeners []Listener
}

type Listener func(doors map[string]bool, badges map[string]model.BadgeSighting)

func New() *Store {
	return &Store{
		doors:  make(map[string]bool),
		badges: make(map[string]model.BadgeSighting),
	}
}

type doorStateFrame struct {
	DeviceID string `json:"device_id"`
	Data     struct {
		IsOpen *bool `json:"is_open"`
	} `json:"data"`
}

// ApplyDoorState records the most recent open/closed value for a door.
// Returns true if the frame produced an update.
func (s *Store) ApplyDoorState(text string) bool {
	var frame doorStateFrame
	if err := json.Unmarshal([]byte(text), &frame); err != nil {
		return false
	}
	if frame.DeviceID == "" || frame.Data.IsOpen == nil {
		return false
	}
	s.mu.Lock()
	s.doors[frame.DeviceID] = *frame.Data.IsOpen
	doors, badges := s.snapshotLocked()
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, doors, badges)
	return true
}

// ApplyBadgeEvent records the last badge seen by a reader. Two wire shapes
// are accepted: the enveloped form {type:"badge_event",data:{badge_id|tag_id,
// door_id}} and the flattened form {badgeID,doorID,timestamp}. topicDeviceID
// is the device segment of the delivering channel.
func (s *Store) ApplyBadgeEvent(topicDeviceID string, text string) bool {
	if topicDeviceID == "" {
		return false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return false
	}
	sighting, ok := parseBadgeEvent(raw, topicDeviceID)
	if !ok {
		return false
	}
	s.mu.Lock()
	s.badges[topicDeviceID] = sighting
	doors, badges := s.snapshotLocked()
	listeners := s.listeners
	s.mu.Unlock()

	s.notify(listeners, doors, badges)
	return true
}

func parseBadgeEvent(raw map[string]any, deviceID string) (model.BadgeSighting, bool) {
	if raw == nil {
		return model.BadgeSighting{}, false
	}
	if _, hasBadge := raw["badgeID"]; hasBadge || hasKey(raw, "doorID") {
		return model.BadgeSighting{
			BadgeID:   str(raw["badgeID"]),
			DoorID:    str(raw["doorID"]),
			Timestamp: tsOrNow(str(raw["timestamp"])),
			DeviceID:  deviceID,
		}, true
	}
	if t, _ := raw["type"].(string); t == "badge_event" {
		data, _ := raw["data"].(map[string]any)
		badge := str(data["badge_id"])
		if badge == "" {
			badge = str(data["tag_id"])
		}
		ts := str(raw["ts"])
		if ts == "" {
			ts = str(raw["timestamp"])
		}
		return model.BadgeSighting{
			BadgeID:   badge,
			DoorID:    str(data["door_id"]),
			Timestamp: tsOrNow(ts),
			DeviceID:  deviceID,
		}, true
	}
	return model.BadgeSighting{}, false
}

func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func tsOrNow(ts string) string {
	if ts != "" {
		return ts
	}
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// DoorOpen reports the last known state for a door.
func (s *Store) DoorOpen(deviceID string) (bool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	open, ok := s.doors[deviceID]
	return open, ok
}

func (s *Store) Doors() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doors, _ := s.snapshotLocked()
	return doors
}

func (s *Store) LastBadge(deviceID string) (model.BadgeSighting, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.badges[deviceID]
	return b, ok
}

func (s *Store) Badges() map[string]model.BadgeSighting {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, badges := s.snapshotLocked()
	return badges
}

func (s *Store) Subscribe(fn Listener) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners), len(s.listeners)+1)
	copy(listeners, s.listeners)
	s.listeners = append(listeners, fn)
	s.mu.Unlock()
}

func (s *Store) snapshotLocked() (map[string]bool, map[string]model.BadgeSighting) {
	doors := make(map[string]bool, len(s.doors))
	for k, v := range s.doors {
		doors[k] = v
	}
	badges := make(map[string]model.BadgeSighting, len(s.badges))
	for k, v := range s.badges {
		badges[k] = v
	}
	return doors, badges
}

func (s *Store) notify(listeners []Listener, doors map[string]bool, badges map[string]model.BadgeSighting) {
	for _, fn := range listeners {
		fn(doors, badges)
	}
}
