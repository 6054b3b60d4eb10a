// internal/browser/errors.go
package browser

import (
	"context"
	"errors"
	"strings"
)

// Standardized error codes reported back through tool results and run data.
const (
	ErrCodeElementNotFound = "ELEMENT_NOT_FOUND"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeExecution       = "EXECUTION_FAILURE"
)

// Classify maps a raw browser error onto one of the standardized codes.
// Heuristic, string based: the CDP and playwright bindings do not expose a
// shared error taxonomy.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "could not find node"),
		strings.Contains(msg, "no element found"),
		strings.Contains(msg, "waiting for selector"),
		strings.Contains(msg, "selector resolved to hidden"):
		return ErrCodeElementNotFound
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "Timeout"):
		return ErrCodeTimeout
	case strings.Contains(msg, "net::ERR"),
		strings.Contains(msg, "NS_ERROR"),
		strings.Contains(msg, "ERR_NAME_NOT_RESOLVED"):
		return ErrCodeNavigation
	default:
		return ErrCodeExecution
	}
}

// IsFatal reports whether an error means the page or browser is gone and the
// run cannot continue. This is the only condition the orchestrator lets
// escape its loop.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{
		"target closed",
		"session closed",
		"browser has been closed",
		"browser process",
		"websocket: close",
		"connection refused: chrome",
		"context canceled",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}
