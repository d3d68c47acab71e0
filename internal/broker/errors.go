package broker

import "errors"

var (
	// ErrClosed is returned when using a closed Bridge or Group.
	ErrClosed = errors.New("broker: closed")

	// ErrInvalidQoS is returned for a QoS outside 0-2.
	ErrInvalidQoS = errors.New("broker: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty topic filter.
	ErrInvalidTopic = errors.New("broker: topic cannot be empty")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("broker: handler cannot be nil")

	// ErrUnknownHandle is returned when releasing a handle twice or one
	// that belongs to another bridge.
	ErrUnknownHandle = errors.New("broker: unknown handle")
)
