package filter

import "errors"

var (
	// ErrInvalidFilter wraps every compile failure.
	ErrInvalidFilter = errors.New("filter: invalid filter")

	// ErrUnknownOperator is returned for operators outside the vocabulary.
	ErrUnknownOperator = errors.New("filter: unknown operator")
)
