package nats

import (
	"fmt"
	"strings"
)

// FilterToSubject translates an MQTT-style topic filter into a NATS subject.
func FilterToSubject(filter string) (string, error) {
	if filter == "" {
		return "", ErrInvalidTopic
	}
	levels := strings.Split(filter, "/")
	tokens := make([]string, len(levels))
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return "", fmt.Errorf("%w: %q: '#' must be the whole last level", ErrInvalidTopic, filter)
			}
			tokens[i] = ">"
		case level == "+":
			tokens[i] = "*"
		default:
			if err := validateLevel(filter, level); err != nil {
				return "", err
			}
			tokens[i] = level
		}
	}
	return strings.Join(tokens, "."), nil
}

// TopicToSubject translates a concrete topic into a publishable subject.
func TopicToSubject(topic string) (string, error) {
	if topic == "" {
		return "", ErrInvalidTopic
	}
	levels := strings.Split(topic, "/")
	for _, level := range levels {
		if err := validateLevel(topic, level); err != nil {
			return "", err
		}
	}
	return strings.Join(levels, "."), nil
}

// SubjectToTopic is the inverse of TopicToSubject.
func SubjectToTopic(subject string) string {
	return strings.ReplaceAll(subject, ".", "/")
}

func validateLevel(topic, level string) error {
	switch {
	case level == "":
		return fmt.Errorf("%w: %q: empty level", ErrInvalidTopic, topic)
	case strings.ContainsAny(level, "+#*>"):
		return fmt.Errorf("%w: %q: wildcard inside level %q", ErrInvalidTopic, topic, level)
	case strings.ContainsAny(level, ". \t\r\n"):
		return fmt.Errorf("%w: %q: level %q is not a subject token", ErrInvalidTopic, topic, level)
	}
	return nil
}
