package video

import "errors"

var (
	// ErrValidation marks caller input that was rejected (negative paging, malformed filters)
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned by document stores for unknown ids
	ErrNotFound = errors.New("document not found")

	// ErrInvariant marks index corruption; the write that detected it is rejected
	ErrInvariant = errors.New("index invariant violated")
)
