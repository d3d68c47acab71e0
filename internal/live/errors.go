package live

import "errors"

// Setup errors returned by Manager.Subscribe.
var (
	ErrClosed           = errors.New("live: manager closed")
	ErrNoTopics         = errors.New("live: at least one topic is required")
	ErrEmptyTopic       = errors.New("live: topic must not be empty")
	ErrInvalidQoS       = errors.New("live: qos must be 0, 1 or 2")
	ErrNegativeThrottle = errors.New("live: throttle must not be negative")
	ErrNoEdge           = errors.New("live: throttleLeading and throttleTrailing cannot both be false")
	ErrSubscribeFailed  = errors.New("live: broker subscribe failed")
)
