package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	measurementDelivery = "live_delivery"
	measurementDrop     = "live_drop"
)

// WriteDelivery records one delivered change event. latency is the time
// from broker arrival to delivery. Non-blocking; no-op when disconnected.
func (c *Client) WriteDelivery(table, operation string, latency time.Duration, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(deliveryPoint(table, operation, latency, at))
}

// WriteDrop records one discarded change event.
func (c *Client) WriteDrop(table, reason string, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(dropPoint(table, reason, at))
}

func deliveryPoint(table, operation string, latency time.Duration, at time.Time) *write.Point {
	return write.NewPoint(
		measurementDelivery,
		map[string]string{
			"table":     tagValue(table),
			"operation": tagValue(operation),
		},
		map[string]interface{}{
			"latency_ms": float64(latency) / float64(time.Millisecond),
			"count":      1,
		},
		at,
	)
}

func dropPoint(table, reason string, at time.Time) *write.Point {
	return write.NewPoint(
		measurementDrop,
		map[string]string{
			"table":  tagValue(table),
			"reason": tagValue(reason),
		},
		map[string]interface{}{"count": 1},
		at,
	)
}

// tagValue keeps empty tags out of line protocol, which rejects them.
func tagValue(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
