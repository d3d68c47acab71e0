package live

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/pglive/internal/access"
	"github.com/nerrad567/pglive/internal/audit"
	"github.com/nerrad567/pglive/internal/broker"
	"github.com/nerrad567/pglive/internal/filter"
	"github.com/nerrad567/pglive/internal/infrastructure/logging"
	"github.com/nerrad567/pglive/internal/throttle"
)

// Subscription is one client's live change stream.
type Subscription struct {
	id       string
	role     string
	topics   []string
	openedAt time.Time

	manager   *Manager
	session   access.Session
	predicate *filter.Predicate
	gate      *throttle.Gate
	group     *broker.Group
	out       chan Delivery
	logger    *logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// Topics returns the topic filters the subscription listens on.
func (s *Subscription) Topics() []string {
	return append([]string(nil), s.topics...)
}

// Deliveries returns the delivery stream. It is closed by Close.
func (s *Subscription) Deliveries() <-chan Delivery { return s.out }

// Stats returns the subscription's gate counters.
func (s *Subscription) Stats() throttle.Stats { return s.gate.Stats() }

// evaluate is the gate pipeline: the client filter first, then the row
// access check for change events. The initialize message bypasses both.
func (s *Subscription) evaluate(ctx context.Context, msg throttle.Message) throttle.Verdict {
	if msg.Initial {
		return throttle.Pass
	}

	if !s.predicate.Match(decodePayload(msg.Payload)) {
		return throttle.Filtered
	}

	ev := s.manager.cfg.Codec.Parse(msg.Topic)
	allowed, err := s.manager.cfg.Checker.Allowed(ctx, s.session, ev)
	if err != nil {
		s.logger.Debug("access check failed", "topic", msg.Topic, "error", err)
	}
	if !allowed {
		return throttle.Denied
	}
	return throttle.Pass
}

// emit hands a passed message to the consumer, giving up when the gate
// closes.
func (s *Subscription) emit(ctx context.Context, msg throttle.Message) error {
	d := Delivery{Topic: msg.Topic, Message: messageJSON(msg.Payload)}
	select {
	case s.out <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the subscription's broker registrations, stops its gate
// and closes Deliveries. Nothing is delivered after Close returns. It is
// idempotent and returns the first call's error.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.group.Close()
		s.gate.Close()
		close(s.out)

		s.manager.remove(s)
		if m := s.manager.cfg.Metrics; m != nil {
			m.SubscriptionClosed()
		}

		stats := s.gate.Stats()
		s.manager.audit(context.Background(), &audit.AuditLog{
			Action:     audit.ActionUnsubscribe,
			EntityType: audit.EntitySubscription,
			EntityID:   s.id,
			Role:       s.role,
			Details: map[string]any{
				"enqueued":  stats.Enqueued,
				"delivered": stats.Delivered,
				"dropped":   stats.TotalDropped(),
			},
		})
		if s.closeErr != nil {
			s.logger.Warn("subscription closed with errors", "error", s.closeErr)
			return
		}
		s.logger.Info("subscription closed",
			"delivered", stats.Delivered, "dropped", stats.TotalDropped())
	})
	return s.closeErr
}
