package interfaces

import "errors"

// Repository errors shared across implementations and consumers.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
)
