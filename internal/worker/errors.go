package worker

import (
	"context"
	"strings"

	"github.com/daimoniac/swarmshield/internal/errors"
)

// classify extends errors.ClassifyError to errors that reach a handler
// unwrapped, typically from database drivers or the network.
func classify(err error) errors.ErrorClass {
	if err == nil {
		return errors.ErrorClassUnknown
	}
	if class := errors.ClassifyError(err); class != errors.ErrorClassUnknown {
		return class
	}
	if errors.Is(err, context.Canceled) {
		return errors.ErrorClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) || isTransientError(err) {
		return errors.ErrorClassTransient
	}
	return errors.ErrorClassUnknown
}

// isTransientError matches well-known network and lock failures
func isTransientError(err error) bool {
	msg := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"too many requests",
		"service unavailable",
		"database is locked",
		"i/o timeout",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
