package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		msg  string
	}{
		{"ErrNotFound", ErrNotFound, "not found"},
		{"ErrInvalidInput", ErrInvalidInput, "invalid input"},
		{"ErrInvalidConfig", ErrInvalidConfig, "invalid configuration"},
		{"ErrInvalidProvider", ErrInvalidProvider, "invalid provider"},
		{"ErrServiceUnavailable", ErrServiceUnavailable, "service unavailable"},
		{"ErrCredentialMissing", ErrCredentialMissing, "credential missing for provider"},
		{"ErrFileTooLarge", ErrFileTooLarge, "file too large"},
		{"ErrUnsupportedType", ErrUnsupportedType, "unsupported document type"},
		{"ErrRebuildInProgress", ErrRebuildInProgress, "index rebuild already in progress"},
		{"ErrTurnClosed", ErrTurnClosed, "turn already closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.msg {
				t.Errorf("expected %q, got %q", tt.msg, tt.err.Error())
			}
		})
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	allErrors := []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrInvalidConfig,
		ErrInvalidProvider,
		ErrServiceUnavailable,
		ErrCredentialMissing,
		ErrFileTooLarge,
		ErrUnsupportedType,
		ErrRebuildInProgress,
		ErrTurnClosed,
	}

	for i, err1 := range allErrors {
		for j, err2 := range allErrors {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("errors should be distinct: %v and %v", err1, err2)
			}
		}
	}
}

func TestErrorsIs_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("resolve openai: %w", ErrCredentialMissing)
	if !errors.Is(wrapped, ErrCredentialMissing) {
		t.Error("expected wrapped error to match ErrCredentialMissing")
	}
	if errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapped error should not match ErrNotFound")
	}
}
