package live

import (
	"time"

	"github.com/nerrad567/pglive/internal/changeevent"
	"github.com/nerrad567/pglive/internal/throttle"
)

// Telemetry receives per-message delivery outcomes. The InfluxDB client
// implements it.
type Telemetry interface {
	WriteDelivery(table, operation string, latency time.Duration, at time.Time)
	WriteDrop(table, reason string, at time.Time)
}

// observer fans gate events out to the metrics collector and telemetry
// sink. It runs under the gate lock and must stay cheap.
type observer struct {
	codec     changeevent.Codec
	metrics   throttle.Observer
	telemetry Telemetry
}

func (o observer) Enqueued() {
	if o.metrics != nil {
		o.metrics.Enqueued()
	}
}

func (o observer) Dropped(msg throttle.Message, reason throttle.DropReason) {
	if o.metrics != nil {
		o.metrics.Dropped(msg, reason)
	}
	if o.telemetry != nil {
		o.telemetry.WriteDrop(o.codec.Parse(msg.Topic).Table, string(reason), msg.EnqueuedAt)
	}
}

func (o observer) Delivered(msg throttle.Message, at time.Time) {
	if o.metrics != nil {
		o.metrics.Delivered(msg, at)
	}
	if o.telemetry != nil && !msg.Initial {
		ev := o.codec.Parse(msg.Topic)
		o.telemetry.WriteDelivery(ev.Table, ev.Operation, at.Sub(msg.EnqueuedAt), at)
	}
}
