// Package nats provides the NATS transport for the pglive broker bridge.
//
// It is selected with broker.transport: nats and exposes the same
// slash-delimited topic model as the MQTT transport. Filters and topics
// are translated to NATS subjects on the way in and back on the way out:
//
//	pg/update/+/id/#   <->   pg.update.*.id.>
//
// NATS has no retained messages or per-subscription QoS; both arguments are
// accepted for interface compatibility and otherwise ignored. Delivery is
// at-most-once, which matches the drop-on-backlog semantics of live
// subscriptions.
package nats
