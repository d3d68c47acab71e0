// Package brokertest provides an in-memory broker transport for tests.
package brokertest

import (
	"errors"
	"sort"
	"sync"

	"github.com/nerrad567/pglive/internal/infrastructure/mqtt"
)

// ErrSubscribeRejected is returned for filters listed in Transport.Reject.
var ErrSubscribeRejected = errors.New("brokertest: subscribe rejected")

type registration struct {
	qos     byte
	handler func(topic string, payload []byte) error
}

// Transport is a loopback broker: Publish delivers synchronously to every
// matching subscription using MQTT filter semantics.
type Transport struct {
	mu           sync.Mutex
	subs         map[string]registration
	subscribes   int
	unsubscribes int
	reject       map[string]bool
	published    []string
}

// New returns an empty Transport.
func New() *Transport {
	return &Transport{
		subs:   make(map[string]registration),
		reject: make(map[string]bool),
	}
}

// Reject makes subsequent Subscribe calls for filter fail.
func (t *Transport) Reject(filter string) {
	t.mu.Lock()
	t.reject[filter] = true
	t.mu.Unlock()
}

// Subscribe records the filter, replacing any previous registration.
func (t *Transport) Subscribe(filter string, qos byte, handler func(topic string, payload []byte) error) error {
	if err := mqtt.ValidateFilter(filter); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reject[filter] {
		return ErrSubscribeRejected
	}
	t.subs[filter] = registration{qos: qos, handler: handler}
	t.subscribes++
	return nil
}

// Unsubscribe forgets the filter.
func (t *Transport) Unsubscribe(filter string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.subs, filter)
	t.unsubscribes++
	return nil
}

// Publish delivers payload to every matching filter.
func (t *Transport) Publish(topic string, payload []byte, _ byte, _ bool) error {
	if err := mqtt.ValidateTopic(topic); err != nil {
		return err
	}
	t.mu.Lock()
	t.published = append(t.published, topic)
	var handlers []func(string, []byte) error
	for filter, reg := range t.subs {
		if mqtt.MatchTopic(filter, topic) {
			handlers = append(handlers, reg.handler)
		}
	}
	t.mu.Unlock()

	for _, h := range handlers {
		_ = h(topic, payload)
	}
	return nil
}

// Filters returns the currently subscribed filters, sorted.
func (t *Transport) Filters() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for f := range t.subs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// QoS returns the QoS the filter is subscribed with.
func (t *Transport) QoS(filter string) (byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	reg, ok := t.subs[filter]
	return reg.qos, ok
}

// Calls returns the number of Subscribe and Unsubscribe calls made.
func (t *Transport) Calls() (subscribes, unsubscribes int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subscribes, t.unsubscribes
}

// Published returns every topic published so far.
func (t *Transport) Published() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.published...)
}
