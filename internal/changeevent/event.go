package changeevent

import "strings"

// DefaultPrefix is the channel prefix used when none is configured.
const DefaultPrefix = "pg"

const separator = "/"

// Event is a parsed change-event topic. It is immutable once parsed.
type Event struct {
	// IsRelevant is true when the first topic level equals the codec prefix.
	IsRelevant bool

	Prefix    string
	Operation string
	Table     string
	Column    string
	Value     string
}

// Topic renders the event back to its wire form.
func (e Event) Topic() string {
	return strings.Join([]string{e.Prefix, e.Operation, e.Table, e.Column, e.Value}, separator)
}

// Codec parses and builds change-event topics for one channel prefix.
type Codec struct {
	Prefix string
}

// NewCodec returns a Codec for prefix, falling back to DefaultPrefix.
func NewCodec(prefix string) Codec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Codec{Prefix: prefix}
}

// Parse classifies a received topic.
func (c Codec) Parse(topic string) Event {
	levels := strings.SplitN(topic, separator, 6)
	level := func(i int) string {
		if i < len(levels) {
			return levels[i]
		}
		return ""
	}

	return Event{
		IsRelevant: level(0) == c.Prefix,
		Prefix:     level(0),
		Operation:  level(1),
		Table:      level(2),
		Column:     level(3),
		Value:      level(4),
	}
}

// Build renders the wire topic for a row change.
func (c Codec) Build(operation, table, column, value string) string {
	return Event{
		Prefix:    c.Prefix,
		Operation: operation,
		Table:     table,
		Column:    column,
		Value:     value,
	}.Topic()
}

// TableFilter returns a filter matching every change on table, for any
// operation, column and value.
func (c Codec) TableFilter(table string) string {
	return strings.Join([]string{c.Prefix, "+", table, "#"}, separator)
}
