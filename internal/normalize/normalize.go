package normalize

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"doorwatch/internal/config"
	"doorwatch/internal/model"
)

// altKeys maps each logical attribute to its candidate payload spellings,
// resolved first-present-wins. Device payloads drift between snake_case and
// camelCase depending on firmware, so resolution stays data-driven.
var altKeys = map[string][]string{
	"deviceId":  {"deviceId", "device_id"},
	"badgeId":   {"badgeID", "badge_id"},
	"doorId":    {"doorID", "door_id"},
	"firstName": {"firstName", "first_name"},
	"lastName":  {"lastName", "last_name"},
}

type Normalizer struct {
	templates config.TemplatesConfig
	now       func() time.Time
	newID     func(time.Time) string
}

type Option func(*Normalizer)

func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

func WithIDGenerator(gen func(time.Time) string) Option {
	return func(n *Normalizer) { n.newID = gen }
}

func New(templates config.TemplatesConfig, opts ...Option) *Normalizer {
	n := &Normalizer{
		templates: templates,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     NewID,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize turns one decoded frame into a canonical event. It never fails:
// unparseable text yields an event with a nil payload, info status, and
// ingestion-time timestamps.
func (n *Normalizer) Normalize(text string, sourceTopic string) model.Event {
	payload := parseObject(text)
	now := n.now()
	ts := resolveTimestamp(payload, now)
	data := nestedData(payload)
	status := resolveStatus(data)
	topic := resolveTopic(payload, sourceTopic)

	return model.Event{
		ID:              n.newID(now),
		TimestampMillis: ts.UnixMilli(),
		ISOTimestamp:    ts.UTC().Format(time.RFC3339Nano),
		BadgeID:         pickString(data, "badgeId"),
		DoorID:          pickString(data, "doorId"),
		DeviceID:        pickString(payload, "deviceId"),
		Status:          status,
		Topic:           topic,
		Message:         n.buildMessage(topic, status, data),
		Raw:             text,
		Payload:         payload,
	}
}

func parseObject(text string) map[string]any {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var value any
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return obj
}

func nestedData(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	data, _ := payload["data"].(map[string]any)
	return data
}

func resolveTimestamp(payload map[string]any, fallback time.Time) time.Time {
	for _, key := range []string{"ts", "timestamp"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		if s, ok := raw.(string); ok {
			if t, err := ParseTimestamp(s); err == nil {
				return t
			}
		}
	}
	return fallback
}

func resolveStatus(data map[string]any) model.Status {
	success, ok := data["success"].(bool)
	if !ok {
		return model.StatusInfo
	}
	if success {
		return model.StatusSuccess
	}
	return model.StatusFailure
}

func resolveTopic(payload map[string]any, sourceTopic string) string {
	if t, ok := payload["type"].(string); ok && t != "" {
		return t
	}
	return sourceTopic
}

func (n *Normalizer) buildMessage(topic string, status model.Status, data map[string]any) string {
	switch topic {
	case "manual_override":
		door := pickString(data, "doorId")
		if door == "" {
			door = "door"
		}
		msg := fmt.Sprintf(n.templates.ManualOverride, door)
		if name := fullName(data); name != "" {
			msg += " for " + name
		}
		return msg
	case "badge_event":
		badge := pickString(data, "badgeId")
		if badge == "" {
			badge = "unknown badge"
		}
		switch status {
		case model.StatusSuccess:
			return fmt.Sprintf(n.templates.GrantedFor, badge)
		case model.StatusFailure:
			return fmt.Sprintf(n.templates.DeniedFor, badge)
		default:
			return fmt.Sprintf(n.templates.BadgeInfoFor, badge)
		}
	}
	switch status {
	case model.StatusSuccess:
		return n.templates.Granted
	case model.StatusFailure:
		return n.templates.Denied
	default:
		return n.templates.Info
	}
}

func fullName(data map[string]any) string {
	first := pickString(data, "firstName")
	last := pickString(data, "lastName")
	parts := make([]string, 0, 2)
	if first != "" {
		parts = append(parts, first)
	}
	if last != "" {
		parts = append(parts, last)
	}
	return strings.Join(parts, " ")
}

// pickString resolves a logical attribute against its alternate-key table.
func pickString(source map[string]any, logical string) string {
	if source == nil {
		return ""
	}
	for _, key := range altKeys[logical] {
		if v, ok := source[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// NewID returns a collision-resistant event id, falling back to a
// time-plus-random composite when the uuid source is unavailable.
func NewID(now time.Time) string {
	if id, err := uuid.NewRandom(); err == nil {
		return id.String()
	}
	return "log-" + strconv.FormatInt(now.UnixMilli(), 36) + "-" + strconv.FormatUint(rand.Uint64(), 16)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
