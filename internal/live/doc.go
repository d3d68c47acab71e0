// Package live manages client change-event subscriptions.
//
// A subscription ties together the pieces of the delivery pipeline:
//
//	broker.Group  ->  throttle.Gate  ->  filter.Predicate + access.Checker  ->  Deliveries()
//
// Every broker message on the requested topics is queued by the
// subscription's gate. When the gate releases a message, the client's
// filter is evaluated against the decoded payload and, for row change
// events, the subscriber's session is asked whether the row is visible.
// Messages that pass are sent to the Deliveries channel as
// {"topic": ..., "message": ...}.
//
// Closing a subscription releases its broker registrations, stops its gate
// and closes the Deliveries channel; nothing is delivered after Close
// returns.
package live
