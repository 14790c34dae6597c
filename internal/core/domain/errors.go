package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidConfig indicates configuration that cannot be used, e.g. overlap >= chunk size
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidProvider indicates an unknown AI provider was specified
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrServiceUnavailable indicates the AI service could not be reached
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrCredentialMissing indicates the request's credential set has no secret for a provider
	ErrCredentialMissing = errors.New("credential missing for provider")

	// ErrFileTooLarge indicates a document exceeds the per-file size cap
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnsupportedType indicates no extractor handles the file extension
	ErrUnsupportedType = errors.New("unsupported document type")

	// ErrRebuildInProgress indicates another process holds the index rebuild lock
	ErrRebuildInProgress = errors.New("index rebuild already in progress")

	// ErrTurnClosed indicates the turn's request context was already torn down
	ErrTurnClosed = errors.New("turn already closed")
)
