package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrServiceControl marks OS-level unit start/stop failures.
	ErrServiceControl = errors.New("service control failure")
	// ErrUpstreamUnavailable marks audio-server API failures: unreachable,
	// timed out, or malformed responses. Always treated as transient.
	ErrUpstreamUnavailable = errors.New("audio server unavailable")
	// ErrPersistence marks default-store read/write failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrValidation marks rejected caller input.
	ErrValidation = errors.New("validation error")
)

// Wrap tags an error with one of the sentinel markers above plus component
// and operation context so callers can classify it with errors.Is.
func Wrap(marker error, component, operation string, err error) error {
	detail := buildDetail(component, operation)
	if marker == nil {
		marker = ErrUpstreamUnavailable
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation string) string {
	parts := make([]string, 0, 2)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
