package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/nerrad567/pglive/internal/infrastructure/logging"
)

// Config configures a Gate.
type Config struct {
	// Interval is the minimum spacing between deliveries. Zero still
	// serialises deliveries.
	Interval time.Duration

	Leading  bool
	Trailing bool

	// Clock defaults to clock.WallClock.
	Clock clock.Clock

	// Logger receives per-message drop reasons at debug level.
	Logger *logging.Logger

	// Observer defaults to a no-op.
	Observer Observer
}

// Gate is the throttle state machine for one subscription.
//
// Thread Safety:
//   - Enqueue may be called from any goroutine, including broker callbacks.
//   - Pipeline and Emitter are only called from the gate goroutine.
type Gate struct {
	interval time.Duration
	leading  bool
	trailing bool
	clock    clock.Clock
	logger   *logging.Logger
	observer Observer
	pipeline Pipeline
	emit     Emitter

	mu               sync.Mutex
	queue            []Message
	seq              uint64
	lastEnqueue      time.Time
	lastDelivery     time.Time
	lastDeliveredSeq uint64
	timer            clock.Timer
	initial          *Message
	started          bool
	closed           bool
	stats            Stats

	// ticks holds at most one pending evaluation request.
	ticks chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and returns a stopped Gate. Call Start to begin evaluation.
func New(cfg Config, pipeline Pipeline, emit Emitter) (*Gate, error) {
	if cfg.Interval < 0 {
		return nil, ErrNegativeInterval
	}
	if !cfg.Leading && !cfg.Trailing {
		return nil, ErrNoEdge
	}
	if pipeline == nil || emit == nil {
		return nil, ErrMissingPipeline
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		interval: cfg.Interval,
		leading:  cfg.Leading,
		trailing: cfg.Trailing,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		pipeline: pipeline,
		emit:     emit,
		stats:    Stats{Dropped: make(map[DropReason]uint64)},
		ticks:    make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Inject queues msg for delivery ahead of every real change. It bypasses
// the queue and the rate bound but still passes through the pipeline.
// Only one injected message is kept and it must be set before Start.
func (g *Gate) Inject(msg Message) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || g.closed {
		return
	}
	msg.Initial = true
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = g.clock.Now()
	}
	g.initial = &msg
}

// Start launches the gate goroutine. It is a no-op after the first call.
func (g *Gate) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started || g.closed {
		return
	}
	g.started = true
	g.wg.Add(1)
	go g.run()
}

// Enqueue records an arrival. Messages enqueued after Close are ignored.
func (g *Gate) Enqueue(topic string, payload []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}

	now := g.clock.Now()
	g.seq++
	g.queue = append(g.queue, Message{
		Topic:      topic,
		Payload:    payload,
		EnqueuedAt: now,
		seq:        g.seq,
	})
	g.lastEnqueue = now
	g.stats.Enqueued++
	g.observer.Enqueued()

	g.scheduleLocked(now)
}

// scheduleLocked arranges the next evaluation for a non-empty queue.
func (g *Gate) scheduleLocked(now time.Time) {
	if len(g.queue) == 0 || g.timer != nil {
		return
	}

	if g.lastDelivery.IsZero() || now.Sub(g.lastDelivery) >= g.interval {
		if g.leading {
			g.signal()
			return
		}
		// Trailing only: wait a full interval from the first arrival.
		g.startTimerLocked(g.interval)
		return
	}

	if g.trailing {
		g.startTimerLocked(g.interval - now.Sub(g.lastDelivery))
	}
	// Leading only: the queued message waits for the next arrival after
	// the interval has passed.
}

func (g *Gate) startTimerLocked(d time.Duration) {
	// The callback must not take g.mu: it may run while a tick holds it.
	g.timer = g.clock.AfterFunc(d, g.signal)
}

func (g *Gate) stopTimerLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) signal() {
	select {
	case g.ticks <- struct{}{}:
	default:
	}
}

func (g *Gate) run() {
	defer g.wg.Done()

	g.mu.Lock()
	initial := g.initial
	g.initial = nil
	g.mu.Unlock()

	if initial != nil && !g.deliverInitial(*initial) {
		return
	}

	for {
		select {
		case <-g.ctx.Done():
			return
		case <-g.ticks:
			if !g.tick() {
				return
			}
		}
	}
}

func (g *Gate) deliverInitial(msg Message) bool {
	if v := g.pipeline(g.ctx, msg); v != Pass {
		g.mu.Lock()
		g.dropLocked(msg, verdictReason(v))
		g.mu.Unlock()
		return g.ctx.Err() == nil
	}

	now := g.clock.Now()
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.lastDelivery = now
	g.stats.Delivered++
	// Arrivals during the initial delivery may need a trailing tick now
	// that lastDelivery moved.
	g.scheduleLocked(now)
	g.mu.Unlock()

	g.observer.Delivered(msg, now)
	return g.emit(g.ctx, msg) == nil
}

// tick drains the queue, forwarding at most its newest survivor. It
// returns false when the gate must stop.
func (g *Gate) tick() bool {
	for {
		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return false
		}
		g.stopTimerLocked()
		if len(g.queue) == 0 {
			g.mu.Unlock()
			return true
		}

		now := g.clock.Now()
		if !g.lastDelivery.IsZero() && now.Sub(g.lastDelivery) < g.interval {
			// Too early: leave the candidate at the head and come back at
			// the end of the interval.
			if g.trailing {
				g.startTimerLocked(g.interval - now.Sub(g.lastDelivery))
			}
			g.mu.Unlock()
			return true
		}

		candidate := g.queue[0]
		g.queue = g.queue[1:]

		// Deliveries happen only on an empty queue, so this holds only for a
		// candidate put back behind a newer delivery.
		if candidate.seq <= g.lastDeliveredSeq {
			g.dropLocked(candidate, DropStale)
			g.mu.Unlock()
			continue
		}
		if len(g.queue) > 0 {
			g.dropLocked(candidate, DropBacklog)
			g.mu.Unlock()
			continue
		}
		g.mu.Unlock()

		verdict := g.pipeline(g.ctx, candidate)

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return false
		}
		if verdict != Pass {
			g.dropLocked(candidate, verdictReason(verdict))
			g.mu.Unlock()
			continue
		}
		if len(g.queue) > 0 {
			g.dropLocked(candidate, DropSuperseded)
			g.mu.Unlock()
			continue
		}

		delivered := g.clock.Now()
		g.lastDelivery = delivered
		g.lastDeliveredSeq = candidate.seq
		g.stats.Delivered++
		g.mu.Unlock()

		g.observer.Delivered(candidate, delivered)
		if err := g.emit(g.ctx, candidate); err != nil {
			return false
		}

		// Arrivals during emit saw the old lastDelivery; reschedule them
		// against the new one.
		g.mu.Lock()
		g.scheduleLocked(g.clock.Now())
		g.mu.Unlock()
		return true
	}
}

func (g *Gate) dropLocked(msg Message, reason DropReason) {
	g.stats.Dropped[reason]++
	g.observer.Dropped(msg, reason)
	g.logger.Debug("message dropped", "topic", msg.Topic, "reason", string(reason))
}

func verdictReason(v Verdict) DropReason {
	if v == Denied {
		return DropDenied
	}
	return DropFiltered
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	dropped := make(map[DropReason]uint64, len(g.stats.Dropped))
	for k, v := range g.stats.Dropped {
		dropped[k] = v
	}
	return Stats{
		Enqueued:  g.stats.Enqueued,
		Delivered: g.stats.Delivered,
		Dropped:   dropped,
	}
}

// Pending returns the number of queued messages.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

// Close stops the gate: the timer is cancelled, queued messages are
// discarded and an in-flight pipeline call sees its context cancelled.
// Nothing is emitted after Close returns. Close is idempotent.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.stopTimerLocked()
	g.queue = nil
	g.initial = nil
	g.mu.Unlock()

	g.cancel()
	g.wg.Wait()
}
