// Package throttle implements the per-subscription delivery gate.
//
// A Gate queues every relevant message a subscription receives and releases
// at most one message per interval, always preferring the freshest state:
//
//   - a message that is not the newest in the queue when evaluated is
//     dropped (backlog)
//   - a message overtaken by a newer arrival while its pipeline check was in
//     flight is dropped (superseded)
//   - two deliveries are never closer together than the interval
//
// Evaluation is scheduled on the leading edge (immediately when the gate has
// been quiet for a full interval) and on the trailing edge (once the
// interval since the last delivery has elapsed). Either edge can be
// disabled, but not both.
//
// Each Gate runs one goroutine. Arrivals and ticks are serialised by the
// gate mutex; the pipeline runs without it so ingestion never waits on the
// database.
package throttle
