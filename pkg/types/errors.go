package types

import "errors"

// Decode-time message errors. These are produced before any handler runs.
var (
	ErrMalformedMessage   = errors.New("malformed message payload")
	ErrMissingMessageType = errors.New("message type is required")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrInvalidRole        = errors.New("role must be 'presenter' or 'listener'")
)

// Validation errors shared across components.
var (
	ErrEmptyText           = errors.New("text must be a non-empty string")
	ErrInvalidLanguageCode = errors.New("language code must be a non-empty string")
)
