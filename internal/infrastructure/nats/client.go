package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	natsio "github.com/nats-io/nats.go"

	"github.com/nerrad567/pglive/internal/infrastructure/config"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultFlushTimeout   = 5 * time.Second
	maxQoS                = 2
)

// Logger interface for optional logging support.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler receives slash-delimited topics, never raw subjects.
type MessageHandler = func(topic string, payload []byte) error

// Client wraps a nats.go connection with the topic model used by the bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - nats.go resubscribes automatically after a reconnect.
type Client struct {
	conn *natsio.Conn

	subscriptions map[string]*natsio.Subscription
	subMu         sync.Mutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect dials the configured NATS server. A failed initial connect is
// returned to the caller, who treats it as fatal.
func Connect(cfg config.NATSConfig) (*Client, error) {
	c := &Client{
		subscriptions: make(map[string]*natsio.Subscription),
	}

	opts := []natsio.Option{
		natsio.Name(cfg.Name),
		natsio.Timeout(defaultConnectTimeout),
		natsio.MaxReconnects(cfg.MaxReconnects),
		natsio.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Second),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if err != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Warn("NATS disconnected", "error", err)
				}
			}
		}),
		natsio.ClosedHandler(func(_ *natsio.Conn) {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("NATS connection closed")
			}
		}),
	}

	conn, err := natsio.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.conn = conn

	return c, nil
}

// Subscribe registers a handler for a topic filter.
// The qos argument is accepted for transport compatibility.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	subject, err := FilterToSubject(topic)
	if err != nil {
		return err
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: invalid QoS %d", ErrSubscribeFailed, qos)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	// Re-subscribing replaces the previous handler.
	if existing, ok := c.subscriptions[topic]; ok {
		if err := existing.Unsubscribe(); err != nil {
			return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
		}
		delete(c.subscriptions, topic)
	}

	sub, err := c.conn.Subscribe(subject, c.wrapHandler(handler))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	// Flush so the server has registered interest before we return.
	if err := c.conn.FlushTimeout(defaultFlushTimeout); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subscriptions[topic] = sub
	return nil
}

// Unsubscribe removes the subscription registered for topic.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}

	c.subMu.Lock()
	sub, ok := c.subscriptions[topic]
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Publish sends payload to the subject derived from topic.
// NATS has no retained messages, so retained is ignored.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	subject, err := TopicToSubject(topic)
	if err != nil {
		return err
	}
	if qos > maxQoS {
		return fmt.Errorf("%w: invalid QoS %d", ErrPublishFailed, qos)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := c.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// SubscriptionCount returns the number of registered topic filters.
func (c *Client) SubscriptionCount() int {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return len(c.subscriptions)
}

// IsConnected reports the current connection status.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// HealthCheck reports whether the server connection is up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("nats health check: %w", ctx.Err())
	default:
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// Close closes the connection without draining. Pending messages are
// discarded.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.Close()
	return nil
}

// SetLogger sets a logger for handler errors and recovered panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// wrapHandler converts subjects back to topics and recovers handler panics.
func (c *Client) wrapHandler(handler MessageHandler) natsio.MsgHandler {
	return func(msg *natsio.Msg) {
		topic := SubjectToTopic(msg.Subject)
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("NATS handler panic recovered", "topic", topic, "panic", r)
				}
			}
		}()

		if err := handler(topic, msg.Data); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("NATS handler returned error", "topic", topic, "error", err)
			}
		}
	}
}
