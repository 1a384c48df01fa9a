package classroom

import "errors"

// Directory errors.
var (
	ErrCodeSpaceExhausted = errors.New("could not mint a unique classroom code")
)
