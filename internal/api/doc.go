// Package api implements the HTTP and WebSocket surface for pglive.
//
// This package provides:
//   - A WebSocket endpoint carrying live change subscriptions
//   - Health, Prometheus metrics and audit listing endpoints
//   - An administrative publish endpoint for change events
//   - Middleware stack (request ID, logging, recovery, CORS, identity)
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Security
//
// Every request is resolved to an identity from its access token. Live
// subscriptions run their access checks as that identity's role, falling
// back to the anonymous role. Audit listing and publishing require a
// verified token.
//
// # WebSocket protocol
//
// Clients send {"type":"subscribe","id":"s1","payload":{...}} with the
// subscription arguments, {"type":"unsubscribe","id":"s1"} and
// {"type":"ping"}. The server answers with "response", "pong" and "error"
// messages and streams matching changes as "event" messages carrying the
// subscription id. Closing the socket closes its subscriptions.
package api
