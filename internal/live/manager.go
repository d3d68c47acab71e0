package live

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/nerrad567/pglive/internal/access"
	"github.com/nerrad567/pglive/internal/audit"
	"github.com/nerrad567/pglive/internal/broker"
	"github.com/nerrad567/pglive/internal/changeevent"
	"github.com/nerrad567/pglive/internal/filter"
	"github.com/nerrad567/pglive/internal/infrastructure/logging"
	"github.com/nerrad567/pglive/internal/throttle"
)

const (
	defaultSendBuffer = 16
	auditTimeout      = 5 * time.Second
)

// Metrics receives subscription and gate counters.
type Metrics interface {
	throttle.Observer
	SubscriptionOpened()
	SubscriptionClosed()
}

// Config configures a Manager. Only Codec and Checker are required.
type Config struct {
	Codec   changeevent.Codec
	Checker *access.Checker

	DefaultQoS      byte
	DefaultThrottle time.Duration

	// SendBuffer is the Deliveries channel capacity.
	SendBuffer int

	Clock     clock.Clock
	Logger    *logging.Logger
	Metrics   Metrics
	Telemetry Telemetry
	Audit     audit.Repository

	// Source is recorded on audit entries, e.g. "websocket".
	Source string
}

// Manager creates and tracks live subscriptions over a shared bridge.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Manager struct {
	bridge *broker.Bridge
	cfg    Config
	logger *logging.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewManager returns a Manager delivering messages received through bridge.
func NewManager(bridge *broker.Bridge, cfg Config) (*Manager, error) {
	if bridge == nil {
		return nil, errors.New("live: bridge is required")
	}
	if cfg.Checker == nil {
		return nil, errors.New("live: access checker is required")
	}
	if cfg.Codec.Prefix == "" {
		cfg.Codec = changeevent.NewCodec("")
	}
	if cfg.DefaultQoS > 2 {
		return nil, ErrInvalidQoS
	}
	if cfg.DefaultThrottle < 0 {
		return nil, ErrNegativeThrottle
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	return &Manager{
		bridge: bridge,
		cfg:    cfg,
		logger: cfg.Logger.With("component", "live"),
		subs:   make(map[string]*Subscription),
	}, nil
}

// Subscribe opens a subscription that runs access checks on session.
//
// Argument errors and broker subscribe failures are returned; nothing is
// left registered on the broker when Subscribe fails. A filter that does
// not compile is not an error: the subscription then only ever delivers
// the initialize message.
func (m *Manager) Subscribe(ctx context.Context, args Args, session access.Session) (*Subscription, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	args, err := args.expandTables(m.cfg.Codec)
	if err != nil {
		return nil, err
	}
	set, err := args.resolve(m.cfg.DefaultQoS, m.cfg.DefaultThrottle)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	role := roleOf(session)
	logger := m.logger.With("subscription", id, "role", role)

	predicate, err := filter.CompileJSON(args.Filter)
	if err != nil {
		logger.Warn("filter rejected, subscription will drop every change", "error", err)
		predicate = filter.RejectAll()
	}

	sub := &Subscription{
		id:        id,
		role:      role,
		topics:    set.topics,
		manager:   m,
		session:   session,
		predicate: predicate,
		out:       make(chan Delivery, m.cfg.SendBuffer),
		logger:    logger,
		openedAt:  m.cfg.Clock.Now(),
	}

	gate, err := throttle.New(throttle.Config{
		Interval: set.interval,
		Leading:  set.leading,
		Trailing: set.trailing,
		Clock:    m.cfg.Clock,
		Logger:   logger,
		Observer: observer{codec: m.cfg.Codec, metrics: m.cfg.Metrics, telemetry: m.cfg.Telemetry},
	}, sub.evaluate, sub.emit)
	if err != nil {
		return nil, err
	}
	sub.gate = gate

	if set.initialize {
		gate.Inject(throttle.Message{Payload: initializePayload})
	}

	group := m.bridge.NewGroup()
	for _, topic := range set.topics {
		if _, err := group.Subscribe(topic, set.qos, gate.Enqueue); err != nil {
			if cerr := group.Close(); cerr != nil {
				logger.Warn("releasing partial subscription", "error", cerr)
			}
			gate.Close()
			return nil, errors.Join(ErrSubscribeFailed, err)
		}
	}
	sub.group = group

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		group.Close() //nolint:errcheck // Manager is shutting down
		gate.Close()
		return nil, ErrClosed
	}
	m.subs[id] = sub
	m.mu.Unlock()

	gate.Start()

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.SubscriptionOpened()
	}
	m.audit(ctx, &audit.AuditLog{
		Action:     audit.ActionSubscribe,
		EntityType: audit.EntitySubscription,
		EntityID:   id,
		Role:       role,
		Details: map[string]any{
			"topics":      set.topics,
			"qos":         set.qos,
			"throttle_ms": set.interval.Milliseconds(),
			"leading":     set.leading,
			"trailing":    set.trailing,
			"initialize":  set.initialize,
		},
	})
	logger.Info("subscription opened", "topics", set.topics, "qos", set.qos, "throttle", set.interval)

	return sub, nil
}

// Count returns the number of open subscriptions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Close closes every open subscription and rejects new ones. Errors from
// releasing broker registrations are joined.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	subs := make([]*Subscription, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].openedAt.Before(subs[j].openedAt) })

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) remove(s *Subscription) {
	m.mu.Lock()
	delete(m.subs, s.id)
	m.mu.Unlock()
}

// audit records entry without failing the caller. Audit writes outlive the
// request context so a closing connection still gets its unsubscribe entry.
func (m *Manager) audit(ctx context.Context, entry *audit.AuditLog) {
	if m.cfg.Audit == nil {
		return
	}
	entry.Source = m.cfg.Source
	if entry.Source == "" {
		entry.Source = "live"
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditTimeout)
	defer cancel()
	if err := m.cfg.Audit.Create(ctx, entry); err != nil {
		m.logger.Warn("audit write failed", "action", entry.Action, "error", err)
	}
}

// roleOf reads the role from sessions that expose one.
func roleOf(session access.Session) string {
	if r, ok := session.(interface{ Role() string }); ok {
		return r.Role()
	}
	return ""
}
