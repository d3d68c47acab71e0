package postgres

import "errors"

var (
	// ErrNoURL is returned when no connection URL is configured.
	ErrNoURL = errors.New("postgres: url not configured")

	// ErrConnectionFailed is returned when the pool cannot reach the server.
	ErrConnectionFailed = errors.New("postgres: connection failed")

	// ErrNoRole is returned when a session is requested without a role.
	ErrNoRole = errors.New("postgres: role is required")
)
