package topic

import "strings"

// Wildcard segments of an MQTT topic filter.
const (
	SingleLevel = "+"
	MultiLevel  = "#"
)

// Match reports whether topic is matched by filter.
//
//	Match("a/#", "a/b/c")     == true
//	Match("a/#", "a")         == true
//	Match("a/+/c", "a/b/c")   == true
//	Match("a/+/c", "a/b/x/c") == false
//	Match("a/b", "a/b/c")     == false
//
// A "#" segment matches the remainder of the topic, including nothing, as
// long as the topic has every segment that precedes it.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")

	for i, seg := range fs {
		if seg == MultiLevel {
			return len(ts) >= i
		}
		if i >= len(ts) {
			return false
		}
		if seg != SingleLevel && seg != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}

// IsWildcard reports whether filter contains a wildcard segment.
func IsWildcard(filter string) bool {
	for _, seg := range strings.Split(filter, "/") {
		if seg == SingleLevel || seg == MultiLevel {
			return true
		}
	}
	return false
}
