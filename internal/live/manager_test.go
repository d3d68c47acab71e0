package live

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nerrad567/pglive/internal/access"
	"github.com/nerrad567/pglive/internal/audit"
	"github.com/nerrad567/pglive/internal/broker"
	"github.com/nerrad567/pglive/internal/broker/brokertest"
	"github.com/nerrad567/pglive/internal/changeevent"
	"github.com/nerrad567/pglive/internal/infrastructure/config"
	"github.com/nerrad567/pglive/internal/infrastructure/database"
	"github.com/nerrad567/pglive/internal/throttle"
	_ "github.com/nerrad567/pglive/migrations" // Registers the audit_logs schema
)

const (
	waitLong  = 2 * time.Second
	waitShort = 100 * time.Millisecond
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ptr[T any](v T) *T { return &v }

type fixture struct {
	t         *testing.T
	transport *brokertest.Transport
	bridge    *broker.Bridge
	manager   *Manager
	db        *database.DB
	metrics   *fakeMetrics
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()

	db, err := database.Open(config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "live.db")})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	ctx := context.Background()
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE projects (id INTEGER PRIMARY KEY, status TEXT);
		INSERT INTO projects (id, status) VALUES (1, 'active'), (2, 'archived');
	`); err != nil {
		t.Fatalf("seeding projects: %v", err)
	}

	checker, err := access.NewChecker("id", "")
	if err != nil {
		t.Fatalf("NewChecker() error = %v", err)
	}

	f := &fixture{
		t:         t,
		transport: brokertest.New(),
		db:        db,
		metrics:   &fakeMetrics{dropped: make(map[throttle.DropReason]int)},
	}
	f.bridge = broker.New(f.transport)

	cfg := Config{
		Codec:           changeevent.NewCodec("pg"),
		Checker:         checker,
		DefaultQoS:      1,
		DefaultThrottle: 0,
		Metrics:         f.metrics,
		Audit:           audit.NewSQLiteRepository(db.DB),
		Source:          "test",
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.manager, err = NewManager(f.bridge, cfg)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	t.Cleanup(func() {
		if err := f.manager.Close(); err != nil {
			t.Errorf("Manager.Close() error = %v", err)
		}
		f.bridge.Close() //nolint:errcheck // Test cleanup
		db.Close()       //nolint:errcheck // Test cleanup
	})
	return f
}

func (f *fixture) subscribe(args Args) *Subscription {
	f.t.Helper()
	sub, err := f.manager.Subscribe(context.Background(), args, f.db.Session("viewer"))
	if err != nil {
		f.t.Fatalf("Subscribe() error = %v", err)
	}
	return sub
}

func (f *fixture) publish(topic, payload string) {
	f.t.Helper()
	if err := f.bridge.Publish(topic, []byte(payload), 1, false); err != nil {
		f.t.Fatalf("Publish(%s) error = %v", topic, err)
	}
}

func expectDelivery(t *testing.T, sub *Subscription) Delivery {
	t.Helper()
	select {
	case d, ok := <-sub.Deliveries():
		if !ok {
			t.Fatal("Deliveries closed, expected a delivery")
		}
		return d
	case <-time.After(waitLong):
		t.Fatal("timed out waiting for delivery")
	}
	return Delivery{}
}

func expectNoDelivery(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case d, ok := <-sub.Deliveries():
		if ok {
			t.Fatalf("unexpected delivery %s %s", d.Topic, d.Message)
		}
	case <-time.After(waitShort):
	}
}

// waitForDrops blocks until the subscription has dropped n messages for reason.
func waitForDrops(t *testing.T, sub *Subscription, reason throttle.DropReason, n uint64) {
	t.Helper()
	deadline := time.Now().Add(waitLong)
	for time.Now().Before(deadline) {
		if sub.Stats().Dropped[reason] >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("dropped[%s] = %d, want %d", reason, sub.Stats().Dropped[reason], n)
}

func TestSubscribe_Validation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name    string
		args    Args
		wantErr error
	}{
		{"no topics", Args{}, ErrNoTopics},
		{"empty topic", Args{Topics: []string{"pg/#", ""}}, ErrEmptyTopic},
		{"qos too high", Args{Topics: []string{"pg/#"}, QoS: ptr(3)}, ErrInvalidQoS},
		{"qos negative", Args{Topics: []string{"pg/#"}, QoS: ptr(-1)}, ErrInvalidQoS},
		{"negative throttle", Args{Topics: []string{"pg/#"}, Throttle: ptr(-10)}, ErrNegativeThrottle},
		{"no edges", Args{Topics: []string{"pg/#"}, ThrottleLeading: ptr(false), ThrottleTrailing: ptr(false)}, ErrNoEdge},
		{"invalid filter topic", Args{Topics: []string{"pg/#/x"}}, ErrSubscribeFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.manager.Subscribe(context.Background(), tt.args, f.db.Session("viewer"))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if got := f.transport.Filters(); len(got) != 0 {
		t.Errorf("broker filters after failed subscribes = %v, want none", got)
	}
	if f.manager.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.manager.Count())
	}
}

func TestSubscribe_DeliversVisibleRows(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{Topics: []string{"pg/+/projects/#"}})

	f.publish("pg/update/projects/id/1", `{"id": 1, "status": "active"}`)
	d := expectDelivery(t, sub)
	if d.Topic != "pg/update/projects/id/1" {
		t.Errorf("Topic = %q", d.Topic)
	}
	var msg map[string]any
	if err := json.Unmarshal(d.Message, &msg); err != nil || msg["status"] != "active" {
		t.Errorf("Message = %s (%v)", d.Message, err)
	}

	// No such row: the access check finds nothing.
	f.publish("pg/update/projects/id/99", `{"id": 99}`)
	waitForDrops(t, sub, throttle.DropDenied, 1)
	expectNoDelivery(t, sub)
}

func TestSubscribe_Filter(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{
		Topics: []string{"pg/+/projects/#"},
		Filter: json.RawMessage(`{"status": {"_eq": "active"}}`),
	})

	f.publish("pg/update/projects/id/2", `{"status": "archived"}`)
	waitForDrops(t, sub, throttle.DropFiltered, 1)
	expectNoDelivery(t, sub)

	f.publish("pg/update/projects/id/1", `{"status": "active"}`)
	if d := expectDelivery(t, sub); d.Topic != "pg/update/projects/id/1" {
		t.Errorf("Topic = %q", d.Topic)
	}
}

func TestSubscribe_TopLevelValueFilter(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{
		Topics: []string{"pg/+/projects/status/+"},
		Filter: json.RawMessage(`{"_eq": "active"}`),
	})

	f.publish("pg/update/projects/status/archived", `"archived"`)
	waitForDrops(t, sub, throttle.DropFiltered, 1)
	expectNoDelivery(t, sub)

	f.publish("pg/update/projects/status/active", `"active"`)
	d := expectDelivery(t, sub)
	if d.Topic != "pg/update/projects/status/active" || string(d.Message) != `"active"` {
		t.Errorf("delivery = %q %s", d.Topic, d.Message)
	}
}

func TestSubscribe_Tables(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{Tables: []string{"projects"}})

	if got := sub.Topics(); len(got) != 1 || got[0] != "pg/+/projects/#" {
		t.Fatalf("Topics() = %v, want the table filter", got)
	}
	f.publish("pg/insert/projects/id/1", `{"id": 1}`)
	if d := expectDelivery(t, sub); d.Topic != "pg/insert/projects/id/1" {
		t.Errorf("Topic = %q", d.Topic)
	}
}

type countingSession struct {
	mu    sync.Mutex
	calls int
	rows  int
}

func (s *countingSession) CountRows(context.Context, string, ...any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.rows, nil
}

func (s *countingSession) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSubscribe_IrrelevantSkipsAccessCheck(t *testing.T) {
	f := newFixture(t, nil)
	session := &countingSession{rows: 0}
	sub, err := f.manager.Subscribe(context.Background(), Args{Topics: []string{"sensors/#"}}, session)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	f.publish("sensors/kitchen/temperature", "21.5 C")
	d := expectDelivery(t, sub)
	if string(d.Message) != `"21.5 C"` {
		t.Errorf("Message = %s, want a JSON string", d.Message)
	}
	if session.Calls() != 0 {
		t.Errorf("access checks = %d, want 0", session.Calls())
	}
}

func TestSubscribe_Initialize(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{
		Topics:     []string{"pg/+/projects/#"},
		Filter:     json.RawMessage(`{"status": "never"}`),
		Initialize: true,
	})

	d := expectDelivery(t, sub)
	if d.Topic != "" || string(d.Message) != `{"__initialize":true}` {
		t.Errorf("first delivery = %q %s, want the initialize message", d.Topic, d.Message)
	}

	f.publish("pg/update/projects/id/1", `{"status": "active"}`)
	waitForDrops(t, sub, throttle.DropFiltered, 1)
	expectNoDelivery(t, sub)
}

func TestSubscribe_MalformedFilterRejectsChanges(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{
		Topics:     []string{"pg/#"},
		Filter:     json.RawMessage(`{"status": {"_where": "this.status"}}`),
		Initialize: true,
	})

	expectDelivery(t, sub)

	f.publish("pg/update/projects/id/1", `{"status": "active"}`)
	waitForDrops(t, sub, throttle.DropFiltered, 1)
	expectNoDelivery(t, sub)
}

func TestSubscribe_BurstDeliversLatest(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{Topics: []string{"pg/+/projects/#"}, Throttle: ptr(200)})

	for i := 1; i <= 10; i++ {
		f.publish("pg/update/projects/id/1", `{"n": `+strconv.Itoa(i)+`}`)
	}

	// The leading delivery may carry any early message; the trailing one
	// must carry the last.
	var last Delivery
	deadline := time.After(waitLong)
	for {
		select {
		case d := <-sub.Deliveries():
			last = d
			if string(d.Message) == `{"n": 10}` {
				stats := sub.Stats()
				if stats.Delivered > 2 {
					t.Errorf("Delivered = %d, want at most 2 for one burst", stats.Delivered)
				}
				return
			}
		case <-deadline:
			t.Fatalf("last payload never delivered, last = %s", last.Message)
		}
	}
}

func TestSubscription_Close(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{Topics: []string{"pg/+/projects/#", "pg/delete/#"}})

	if got := f.transport.Filters(); len(got) != 2 {
		t.Fatalf("broker filters = %v, want 2", got)
	}

	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}

	if got := f.transport.Filters(); len(got) != 0 {
		t.Errorf("broker filters after Close = %v, want none", got)
	}
	if f.bridge.Handles() != 0 {
		t.Errorf("bridge handles = %d, want 0", f.bridge.Handles())
	}
	if f.manager.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.manager.Count())
	}

	f.publish("pg/update/projects/id/1", `{}`)
	if _, ok := <-sub.Deliveries(); ok {
		t.Error("delivery after Close")
	}
}

func TestSubscribe_SharedFilters(t *testing.T) {
	f := newFixture(t, nil)
	a := f.subscribe(Args{Topics: []string{"pg/+/projects/#"}})
	b := f.subscribe(Args{Topics: []string{"pg/+/projects/#"}, QoS: ptr(2)})

	if got := f.transport.Filters(); len(got) != 1 {
		t.Fatalf("broker filters = %v, want 1 shared filter", got)
	}
	if qos, _ := f.transport.QoS("pg/+/projects/#"); qos != 2 {
		t.Errorf("broker QoS = %d, want upgraded to 2", qos)
	}

	f.publish("pg/update/projects/id/1", `{"id": 1}`)
	expectDelivery(t, a)
	expectDelivery(t, b)

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := f.transport.Filters(); len(got) != 1 {
		t.Errorf("broker filters after first close = %v, want 1", got)
	}

	f.publish("pg/update/projects/id/1", `{"id": 1}`)
	expectDelivery(t, b)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := f.transport.Filters(); len(got) != 0 {
		t.Errorf("broker filters after last close = %v, want none", got)
	}
}

func TestSubscribe_BrokerFailureReleasesHandles(t *testing.T) {
	f := newFixture(t, nil)
	f.transport.Reject("pg/delete/#")

	_, err := f.manager.Subscribe(context.Background(), Args{
		Topics: []string{"pg/+/projects/#", "pg/delete/#"},
	}, f.db.Session("viewer"))
	if !errors.Is(err, ErrSubscribeFailed) || !errors.Is(err, brokertest.ErrSubscribeRejected) {
		t.Fatalf("Subscribe() error = %v, want ErrSubscribeFailed wrapping the broker error", err)
	}
	if got := f.transport.Filters(); len(got) != 0 {
		t.Errorf("broker filters = %v, want none", got)
	}
}

func TestManager_Close(t *testing.T) {
	f := newFixture(t, nil)
	a := f.subscribe(Args{Topics: []string{"pg/#"}})
	f.subscribe(Args{Topics: []string{"pg/+/projects/#"}})

	if f.manager.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", f.manager.Count())
	}
	if err := f.manager.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if f.manager.Count() != 0 {
		t.Errorf("Count() after Close = %d, want 0", f.manager.Count())
	}
	if _, ok := <-a.Deliveries(); ok {
		t.Error("Deliveries still open after Manager.Close")
	}

	_, err := f.manager.Subscribe(context.Background(), Args{Topics: []string{"pg/#"}}, f.db.Session("viewer"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrClosed", err)
	}
}

func TestSubscription_AuditAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	sub := f.subscribe(Args{Topics: []string{"pg/+/projects/#"}})

	f.publish("pg/update/projects/id/1", `{}`)
	expectDelivery(t, sub)
	if err := sub.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	repo := audit.NewSQLiteRepository(f.db.DB)
	result, err := repo.List(context.Background(), audit.Filter{EntityID: sub.ID()})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("audit entries = %d, want subscribe and unsubscribe", result.Total)
	}
	actions := map[string]bool{}
	for _, l := range result.Logs {
		actions[l.Action] = true
		if l.Role != "viewer" || l.Source != "test" {
			t.Errorf("entry role=%q source=%q", l.Role, l.Source)
		}
	}
	if !actions[audit.ActionSubscribe] || !actions[audit.ActionUnsubscribe] {
		t.Errorf("actions = %v", actions)
	}

	f.metrics.mu.Lock()
	defer f.metrics.mu.Unlock()
	if f.metrics.opened != 1 || f.metrics.closed != 1 {
		t.Errorf("opened=%d closed=%d, want 1 and 1", f.metrics.opened, f.metrics.closed)
	}
	if f.metrics.enqueued != 1 || f.metrics.delivered != 1 {
		t.Errorf("enqueued=%d delivered=%d, want 1 and 1", f.metrics.enqueued, f.metrics.delivered)
	}
}

type fakeMetrics struct {
	mu        sync.Mutex
	opened    int
	closed    int
	enqueued  int
	delivered int
	dropped   map[throttle.DropReason]int
}

func (m *fakeMetrics) SubscriptionOpened() { m.mu.Lock(); m.opened++; m.mu.Unlock() }
func (m *fakeMetrics) SubscriptionClosed() { m.mu.Lock(); m.closed++; m.mu.Unlock() }
func (m *fakeMetrics) Enqueued()           { m.mu.Lock(); m.enqueued++; m.mu.Unlock() }

func (m *fakeMetrics) Dropped(_ throttle.Message, r throttle.DropReason) {
	m.mu.Lock()
	m.dropped[r]++
	m.mu.Unlock()
}

func (m *fakeMetrics) Delivered(throttle.Message, time.Time) {
	m.mu.Lock()
	m.delivered++
	m.mu.Unlock()
}
