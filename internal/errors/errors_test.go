package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransientError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "with cause",
			err:     NewTransient(errors.New("broker unreachable")),
			wantMsg: "transient error: broker unreachable",
		},
		{
			name:    "with nil cause",
			err:     NewTransient(nil),
			wantMsg: "",
		},
		{
			name:    "with formatted error",
			err:     NewTransientf("publish failed: %s", "timeout"),
			wantMsg: "transient error: publish failed: timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				return
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestPermanentError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{
			name:    "with cause",
			err:     NewPermanent(errors.New("unknown credential type")),
			wantMsg: "permanent error: unknown credential type",
		},
		{
			name:    "with nil cause",
			err:     NewPermanent(nil),
			wantMsg: "",
		},
		{
			name:    "with formatted error",
			err:     NewPermanentf("invalid input: %s", "malformed"),
			wantMsg: "permanent error: invalid input: malformed",
		},
		{
			name:    "conflict",
			err:     NewConflictf("incident %s already %s", "inc-1", "verified"),
			wantMsg: "permanent error: conflict: incident inc-1 already verified",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				return
			}
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"explicit transient error", NewTransient(errors.New("timeout")), true},
		{"explicit permanent error", NewPermanent(errors.New("not found")), false},
		{"wrapped transient error", fmt.Errorf("failed: %w", NewTransient(errors.New("timeout"))), true},
		{"wrapped permanent error", fmt.Errorf("failed: %w", NewPermanent(errors.New("invalid"))), false},
		{"timeout sentinel", ErrTimeout, true},
		{"rate limit sentinel", ErrRateLimit, true},
		{"delivery sentinel", fmt.Errorf("send: %w", ErrDelivery), true},
		{"delivery constructor", NewDeliveryf("no route to %s", "did:x"), true},
		{"not found sentinel", ErrNotFound, false},
		{"unauthorized sentinel", ErrUnauthorized, false},
		{"forbidden sentinel", ErrForbidden, false},
		{"invalid input sentinel", ErrInvalidInput, false},
		{"conflict sentinel", ErrConflict, false},
		{"unknown error defaults to non-transient", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"explicit permanent error", NewPermanent(errors.New("not found")), true},
		{"explicit transient error", NewTransient(errors.New("timeout")), false},
		{"wrapped permanent error", fmt.Errorf("failed: %w", NewPermanent(errors.New("invalid"))), true},
		{"not found constructor", NewNotFoundf("incident %s", "x"), true},
		{"unknown error", errors.New("unknown error"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSentinelHelpers(t *testing.T) {
	if !IsConflict(NewConflictf("x")) {
		t.Error("expected conflict error to match ErrConflict")
	}
	if !IsNotFound(fmt.Errorf("lookup: %w", NewNotFoundf("credential %s", "c1"))) {
		t.Error("expected wrapped not found error to match ErrNotFound")
	}
	if !IsInvalidInput(NewInvalidInputf("ttl must be positive")) {
		t.Error("expected invalid input error to match ErrInvalidInput")
	}
	if IsConflict(errors.New("conflict")) {
		t.Error("plain error with the same text must not match ErrConflict")
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ErrorClassUnknown},
		{"transient", NewTransientf("db locked"), ErrorClassTransient},
		{"permanent", NewPermanentf("bad payload"), ErrorClassPermanent},
		{"conflict wins over permanent", NewConflictf("second verdict"), ErrorClassConflict},
		{"timeout sentinel", fmt.Errorf("x: %w", ErrTimeout), ErrorClassTransient},
		{"unknown", errors.New("boom"), ErrorClassUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	t.Run("transient error unwrap", func(t *testing.T) {
		cause := errors.New("original error")
		err := NewTransient(cause)

		if unwrapped := errors.Unwrap(err); unwrapped != cause {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
		}
	})

	t.Run("permanent error unwrap", func(t *testing.T) {
		cause := errors.New("original error")
		err := NewPermanent(cause)

		if unwrapped := errors.Unwrap(err); unwrapped != cause {
			t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
		}
	})
}
