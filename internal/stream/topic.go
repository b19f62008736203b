package stream

import "strings"

// MatchTopic reports whether topic matches an MQTT-style pattern, where "+"
// matches exactly one segment and "#" matches the remainder.
func MatchTopic(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range pp {
		if seg == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if seg == "+" {
			continue
		}
		if seg != tp[i] {
			return false
		}
	}
	return len(pp) == len(tp)
}

// DeviceSegment extracts the topic segment standing in for the pattern's
// first "+" wildcard. Empty when the topic does not match.
func DeviceSegment(pattern, topic string) string {
	if !MatchTopic(pattern, topic) {
		return ""
	}
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	for i, seg := range pp {
		if seg == "+" && i < len(tp) {
			return tp[i]
		}
	}
	return ""
}
