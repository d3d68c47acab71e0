package nats

import "errors"

var (
	ErrNotConnected      = errors.New("nats: client not connected")
	ErrConnectionFailed  = errors.New("nats: connection failed")
	ErrPublishFailed     = errors.New("nats: publish failed")
	ErrSubscribeFailed   = errors.New("nats: subscribe failed")
	ErrUnsubscribeFailed = errors.New("nats: unsubscribe failed")

	// ErrInvalidTopic is returned for topics that cannot be expressed as a
	// subject: empty levels, misplaced wildcards, or levels containing '.'
	// or whitespace.
	ErrInvalidTopic = errors.New("nats: invalid topic")
)
