package live

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/pglive/internal/changeevent"
)

// Args are the client-supplied subscription arguments. Tables is a
// shorthand for subscribing to every change on a table.
type Args struct {
	Topics           []string        `json:"topics"`
	Tables           []string        `json:"tables,omitempty"`
	QoS              *int            `json:"qos,omitempty"`
	Filter           json.RawMessage `json:"filter,omitempty"`
	Initialize       bool            `json:"initialize,omitempty"`
	Throttle         *int            `json:"throttle,omitempty"` // milliseconds
	ThrottleLeading  *bool           `json:"throttleLeading,omitempty"`
	ThrottleTrailing *bool           `json:"throttleTrailing,omitempty"`
}

// settings are Args with defaults applied and validated.
type settings struct {
	topics     []string
	qos        byte
	interval   time.Duration
	leading    bool
	trailing   bool
	initialize bool
}

func (a Args) resolve(defaultQoS byte, defaultThrottle time.Duration) (settings, error) {
	if len(a.Topics) == 0 {
		return settings{}, ErrNoTopics
	}
	for i, t := range a.Topics {
		if t == "" {
			return settings{}, fmt.Errorf("%w: topics[%d]", ErrEmptyTopic, i)
		}
	}

	s := settings{
		topics:     dedupe(a.Topics),
		qos:        defaultQoS,
		interval:   defaultThrottle,
		leading:    true,
		trailing:   true,
		initialize: a.Initialize,
	}
	if a.QoS != nil {
		if *a.QoS < 0 || *a.QoS > 2 {
			return settings{}, fmt.Errorf("%w: got %d", ErrInvalidQoS, *a.QoS)
		}
		s.qos = byte(*a.QoS)
	}
	if a.Throttle != nil {
		if *a.Throttle < 0 {
			return settings{}, fmt.Errorf("%w: got %d", ErrNegativeThrottle, *a.Throttle)
		}
		s.interval = time.Duration(*a.Throttle) * time.Millisecond
	}
	if a.ThrottleLeading != nil {
		s.leading = *a.ThrottleLeading
	}
	if a.ThrottleTrailing != nil {
		s.trailing = *a.ThrottleTrailing
	}
	if !s.leading && !s.trailing {
		return settings{}, ErrNoEdge
	}
	return s, nil
}

// expandTables appends a table-wide change filter for each named table.
func (a Args) expandTables(codec changeevent.Codec) (Args, error) {
	if len(a.Tables) == 0 {
		return a, nil
	}
	topics := append([]string(nil), a.Topics...)
	for i, table := range a.Tables {
		if table == "" {
			return a, fmt.Errorf("%w: tables[%d]", ErrEmptyTopic, i)
		}
		topics = append(topics, codec.TableFilter(table))
	}
	a.Topics = topics
	return a, nil
}

// dedupe drops repeated topics, keeping first occurrences in order.
func dedupe(topics []string) []string {
	seen := make(map[string]bool, len(topics))
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}
