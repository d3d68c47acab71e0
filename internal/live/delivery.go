package live

import (
	"bytes"
	"encoding/json"

	"github.com/nerrad567/pglive/internal/filter"
)

// Delivery is one message sent to a subscriber.
type Delivery struct {
	Topic   string          `json:"topic"`
	Message json.RawMessage `json:"message"`
}

// initializePayload is delivered once, ahead of any change, when a client
// subscribes with initialize set.
var initializePayload = []byte(`{"` + filter.InitializeKey + `":true}`)

// decodePayload returns the document the filter is evaluated against.
// Payloads that are not JSON are matched as plain strings.
func decodePayload(payload []byte) any {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return string(payload)
	}
	return doc
}

// messageJSON returns payload as a JSON value, quoting it as a string when
// it is not valid JSON on its own.
func messageJSON(payload []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(string(payload)) //nolint:errcheck // Marshalling a string cannot fail
	return quoted
}
