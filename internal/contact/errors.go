package contact

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrStoreClosed is returned by a store after Close.
var ErrStoreClosed = errors.New("contact store closed")

// ValidationError reports the form fields that failed validation.
// Fields maps the JSON field name to the failed rule ("required", "min",
// "max" or "email").
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s (%s)", name, e.Fields[name])
	}
	return "invalid contact form: " + strings.Join(parts, ", ")
}

// CircuitOpenError is returned when a notification output is skipped because
// its circuit breaker is open.
type CircuitOpenError struct {
	Output string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("output %q: circuit breaker is open", e.Output)
}
