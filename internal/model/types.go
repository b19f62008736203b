package model

import "time"

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusInfo    Status = "info"
)

type ConnState string

const (
	ConnIdle       ConnState = "idle"
	ConnConnecting ConnState = "connecting"
	ConnConnected  ConnState = "connected"
	ConnError      ConnState = "error"
)

// Event is the canonical record stored in the event log. Immutable once built.
type Event struct {
	ID              string         `json:"id"`
	TimestampMillis int64          `json:"timestamp"`
	ISOTimestamp    string         `json:"iso_timestamp"`
	BadgeID         string         `json:"badge_id,omitempty"`
	DoorID          string         `json:"door_id,omitempty"`
	DeviceID        string         `json:"device_id,omitempty"`
	Status          Status         `json:"status"`
	Topic           string         `json:"topic"`
	Message         string         `json:"message"`
	Raw             string         `json:"raw,omitempty"`
	Payload         map[string]any `json:"payload,omitempty"`
}

func (e Event) Time() time.Time {
	return time.UnixMilli(e.TimestampMillis).UTC()
}

// BadgeSighting is the last badge event observed for a badge-reader device.
type BadgeSighting struct {
	BadgeID   string `json:"badge_id"`
	DoorID    string `json:"door_id,omitempty"`
	Timestamp string `json:"timestamp"`
	DeviceID  string `json:"device_id"`
}

// BadgeCommand is the outbound simulate-badge payload.
type BadgeCommand struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp"`
	BadgeID   string `json:"badgeID"`
	DoorID    string `json:"doorID,omitempty"`
}

// DoorCommand is the outbound door actuation payload.
type DoorCommand struct {
	Action string           `json:"action"`
	Source string           `json:"source,omitempty"`
	TS     string           `json:"ts"`
	Data   *DoorCommandData `json:"data,omitempty"`
}

type DoorCommandData struct {
	BadgeDeviceID string `json:"badge_device_id,omitempty"`
	TagID         string `json:"tag_id,omitempty"`
	Success       bool   `json:"success"`
}
