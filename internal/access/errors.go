package access

import "errors"

var (
	// ErrInvalidIdentifier is returned for table, column or schema names
	// that cannot be safely quoted.
	ErrInvalidIdentifier = errors.New("access: invalid identifier")

	// ErrNoSession is returned when a check runs without a session.
	ErrNoSession = errors.New("access: no session")
)
