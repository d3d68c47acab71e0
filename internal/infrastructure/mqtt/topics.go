package mqtt

import (
	"fmt"
	"strings"
)

// Wildcards defined by the MQTT topic filter grammar.
const (
	SingleLevelWildcard = "+"
	MultiLevelWildcard  = "#"
	levelSeparator      = "/"
)

// ValidateFilter checks a subscription topic filter.
//
// "+" must occupy a whole level and "#" must occupy the whole last level.
//
//	pg/update/+/id/#   valid
//	pg/up+date         invalid
//	pg/#/id            invalid
func ValidateFilter(filter string) error {
	if filter == "" {
		return ErrInvalidTopic
	}
	levels := strings.Split(filter, levelSeparator)
	for i, level := range levels {
		if strings.Contains(level, MultiLevelWildcard) {
			if level != MultiLevelWildcard || i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the whole last level", ErrInvalidTopic, filter)
			}
		}
		if strings.Contains(level, SingleLevelWildcard) && level != SingleLevelWildcard {
			return fmt.Errorf("%w: %q: '+' must be a whole level", ErrInvalidTopic, filter)
		}
	}
	return nil
}

// ValidateTopic checks a concrete topic name used for publishing.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, SingleLevelWildcard+MultiLevelWildcard) {
		return fmt.Errorf("%w: %q: wildcards are not allowed when publishing", ErrInvalidTopic, topic)
	}
	return nil
}

// MatchTopic reports whether a concrete topic matches a topic filter.
//
// It follows broker semantics: "pg/#" also matches the parent "pg".
func MatchTopic(filter, topic string) bool {
	f := strings.Split(filter, levelSeparator)
	t := strings.Split(topic, levelSeparator)

	for i, level := range f {
		if level == MultiLevelWildcard {
			return true
		}
		if i >= len(t) {
			return false
		}
		if level != SingleLevelWildcard && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
