package throttle

import "errors"

var (
	// ErrNegativeInterval is returned for an interval below zero.
	ErrNegativeInterval = errors.New("throttle: interval must not be negative")

	// ErrNoEdge is returned when both leading and trailing are disabled.
	ErrNoEdge = errors.New("throttle: at least one of leading or trailing must be enabled")

	// ErrMissingPipeline is returned when New is called without a pipeline or emitter.
	ErrMissingPipeline = errors.New("throttle: pipeline and emitter are required")
)
