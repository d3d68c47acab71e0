package broker

import (
	"errors"
	"fmt"
	"sync"
)

// MessageHandler is the transport-level callback shape shared by the MQTT
// and NATS clients.
type MessageHandler = func(topic string, payload []byte) error

// Transport is a connected publish/subscribe client.
//
// Implementations must accept the MQTT topic filter grammar ("+" and "#")
// and report received messages with slash-delimited topics.
type Transport interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Handler receives messages for one registration. It is called from the
// transport's delivery goroutine and must not block.
type Handler func(topic string, payload []byte)

// Handle identifies one registration on the bridge.
type Handle struct {
	id     uint64
	filter string
}

// Filter returns the topic filter the handle was registered on.
func (h Handle) Filter() string { return h.filter }

// route is one broker-level subscription and its local handlers.
type route struct {
	qos      byte
	handlers map[uint64]Handler
}

// Bridge multiplexes many local registrations onto one Transport.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - subMu serialises broker subscribe/unsubscribe calls. It is never held
//     while dispatching, so a transport that delivers synchronously from
//     within Subscribe cannot deadlock against the routing table.
type Bridge struct {
	transport Transport

	subMu sync.Mutex

	mu     sync.RWMutex
	routes map[string]*route
	nextID uint64
	closed bool
}

// New creates a Bridge over a connected transport.
func New(transport Transport) *Bridge {
	return &Bridge{
		transport: transport,
		routes:    make(map[string]*route),
	}
}

// Subscribe registers handler on a topic filter.
//
// The first registration on a filter subscribes on the broker. A later
// registration asking for a higher QoS re-issues the broker subscription
// at that QoS.
func (b *Bridge) Subscribe(filter string, qos byte, handler Handler) (Handle, error) {
	if filter == "" {
		return Handle{}, ErrInvalidTopic
	}
	if qos > 2 {
		return Handle{}, ErrInvalidQoS
	}
	if handler == nil {
		return Handle{}, ErrNilHandler
	}

	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Handle{}, ErrClosed
	}
	r, exists := b.routes[filter]
	needBroker := !exists || qos > r.qos
	b.mu.Unlock()

	if needBroker {
		if err := b.transport.Subscribe(filter, qos, b.dispatcher(filter)); err != nil {
			return Handle{}, fmt.Errorf("subscribing to %q: %w", filter, err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	r, exists = b.routes[filter]
	if !exists {
		r = &route{qos: qos, handlers: make(map[uint64]Handler)}
		b.routes[filter] = r
	}
	if qos > r.qos {
		r.qos = qos
	}
	b.nextID++
	h := Handle{id: b.nextID, filter: filter}
	r.handlers[h.id] = handler

	return h, nil
}

// Unsubscribe releases a handle. The broker subscription is removed with
// the last handle on its filter. A dispatch already in progress may still
// invoke the handler once; no new dispatch will.
func (b *Bridge) Unsubscribe(h Handle) error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	r, ok := b.routes[h.filter]
	if !ok {
		b.mu.Unlock()
		return ErrUnknownHandle
	}
	if _, ok := r.handlers[h.id]; !ok {
		b.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(r.handlers, h.id)
	last := len(r.handlers) == 0
	if last {
		delete(b.routes, h.filter)
	}
	b.mu.Unlock()

	if last {
		if err := b.transport.Unsubscribe(h.filter); err != nil {
			return fmt.Errorf("unsubscribing from %q: %w", h.filter, err)
		}
	}
	return nil
}

// Publish forwards a message to the transport.
func (b *Bridge) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if qos > 2 {
		return ErrInvalidQoS
	}
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	return b.transport.Publish(topic, payload, qos, retained)
}

// dispatcher returns the transport callback for one filter.
func (b *Bridge) dispatcher(filter string) MessageHandler {
	return func(topic string, payload []byte) error {
		b.mu.RLock()
		r, ok := b.routes[filter]
		var handlers []Handler
		if ok {
			handlers = make([]Handler, 0, len(r.handlers))
			for _, h := range r.handlers {
				handlers = append(handlers, h)
			}
		}
		b.mu.RUnlock()

		for _, h := range handlers {
			h(topic, payload)
		}
		return nil
	}
}

// Filters returns the number of distinct broker-level subscriptions.
func (b *Bridge) Filters() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes)
}

// Handles returns the number of live local registrations.
func (b *Bridge) Handles() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, r := range b.routes {
		n += len(r.handlers)
	}
	return n
}

// Close unsubscribes every remaining filter on the broker. The transport
// itself is owned by the caller and left open.
func (b *Bridge) Close() error {
	b.subMu.Lock()
	defer b.subMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	filters := make([]string, 0, len(b.routes))
	for filter := range b.routes {
		filters = append(filters, filter)
	}
	b.routes = make(map[string]*route)
	b.mu.Unlock()

	var errs []error
	for _, filter := range filters {
		if err := b.transport.Unsubscribe(filter); err != nil {
			errs = append(errs, fmt.Errorf("unsubscribing from %q: %w", filter, err))
		}
	}
	return errors.Join(errs...)
}
