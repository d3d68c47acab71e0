// Package influxdb writes optional delivery telemetry to InfluxDB v2.
//
// Each delivered change event becomes a live_delivery point tagged with its
// table and operation and carrying the arrival-to-delivery latency. Drops
// become live_drop points tagged with the drop reason. Writes are batched
// by the client library and never block the delivery path.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteDelivery("projects", "update", 4*time.Millisecond, time.Now())
package influxdb
