package stream

import "testing"

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"iot/porte/+/state", "iot/porte/doorA/state", true},
		{"iot/porte/+/state", "iot/porte/doorA/events", false},
		{"iot/porte/+/state", "iot/porte/a/b/state", false},
		{"iot/badgeuse/+/events", "iot/badgeuse/dev1/events", true},
		{"iot/badgeuse/+/events", "iot/porte/dev1/events", false},
		{"iot/#", "iot/porte/doorA/state", true},
		{"a/b", "a/b", true},
		{"a/b", "a/b/c", false},
		{"a/+", "a", false},
	}
	for _, tc := range cases {
		if got := MatchTopic(tc.pattern, tc.topic); got != tc.want {
			t.Fatalf("MatchTopic(%q, %q) = %v, want %v", tc.pattern, tc.topic, got, tc.want)
		}
	}
}

func TestDeviceSegment(t *testing.T) {
	if got := DeviceSegment("iot/badgeuse/+/events", "iot/badgeuse/dev1/events"); got != "dev1" {
		t.Fatalf("device segment: %q", got)
	}
	if got := DeviceSegment("iot/porte/+/state", "iot/badgeuse/dev1/events"); got != "" {
		t.Fatalf("mismatched topic must yield empty, got %q", got)
	}
}
