package throttle

import (
	"context"
	"time"
)

// DefaultInterval is used when a subscription does not choose one.
const DefaultInterval = 50 * time.Millisecond

// Message is one queued broker message.
type Message struct {
	Topic      string
	Payload    []byte
	EnqueuedAt time.Time

	// Initial marks the synthetic message injected ahead of real changes.
	Initial bool

	seq uint64
}

// Verdict is the pipeline's decision for a candidate.
type Verdict int

const (
	Pass Verdict = iota
	Filtered
	Denied
)

// DropReason says why a message was discarded.
type DropReason string

const (
	DropStale      DropReason = "stale"
	DropBacklog    DropReason = "backlog"
	DropFiltered   DropReason = "filtered"
	DropDenied     DropReason = "denied"
	DropSuperseded DropReason = "superseded"
)

// Pipeline evaluates a candidate. ctx is cancelled when the gate closes.
type Pipeline func(ctx context.Context, msg Message) Verdict

// Emitter hands a passed message to the consumer. It must return promptly
// once ctx is done; a non-nil error stops the gate.
type Emitter func(ctx context.Context, msg Message) error

// Observer receives gate events, typically for metrics.
type Observer interface {
	Enqueued()
	Dropped(msg Message, reason DropReason)
	Delivered(msg Message, at time.Time)
}

// Stats is a snapshot of a gate's counters.
type Stats struct {
	Enqueued  uint64
	Delivered uint64
	Dropped   map[DropReason]uint64
}

// TotalDropped sums drops over every reason.
func (s Stats) TotalDropped() uint64 {
	var n uint64
	for _, v := range s.Dropped {
		n += v
	}
	return n
}

type nopObserver struct{}

func (nopObserver) Enqueued()                    {}
func (nopObserver) Dropped(Message, DropReason)  {}
func (nopObserver) Delivered(Message, time.Time) {}
