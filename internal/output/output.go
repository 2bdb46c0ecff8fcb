// Package output provides notification outputs for the portal.
// Outputs are destinations that are told about new contact form messages.
package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantumportal/quantumportal/internal/config"
)

// Field is one labelled value shown in a notification.
type Field struct {
	Name  string
	Value string
}

// Message is a notification to deliver.
type Message struct {
	// Subject is a one-line summary. Email uses it as the subject line
	// when set.
	Subject string

	// Text is the main body.
	Text string

	// Fields are rendered after the body in order.
	Fields []Field
}

// PlainText renders the message as plain text.
func (m Message) PlainText() string {
	s := m.Text
	for _, f := range m.Fields {
		if s != "" {
			s += "\n"
		}
		s += f.Name + ": " + f.Value
	}
	return s
}

// Output represents a notification destination.
// Implementations include Slack and Email.
type Output interface {
	// Name returns the output identifier (e.g., "slack", "email").
	Name() string

	// Send delivers a message to the output destination.
	// The context can be used for cancellation and timeouts.
	Send(ctx context.Context, msg Message) error

	// Close releases any resources held by the output.
	Close() error
}

// StatusError is returned when a destination answers with an HTTP error.
type StatusError struct {
	Output     string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error: status %d", e.Output, e.StatusCode)
}

// Temporary reports whether retrying may succeed (429 and 5xx).
func (e *StatusError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Registry manages a collection of outputs in registration order.
type Registry struct {
	names   []string
	outputs map[string]Output
}

// NewRegistry creates a new output registry.
func NewRegistry() *Registry {
	return &Registry{
		outputs: make(map[string]Output),
	}
}

// NewRegistryFromConfig builds a registry with one output per entry, named
// "<type>-<index>". Entries that cannot be created are reported together.
func NewRegistryFromConfig(cfgs []config.OutputConfig) (*Registry, error) {
	r := NewRegistry()
	var errs []error
	for i, cfg := range cfgs {
		name := fmt.Sprintf("%s-%d", cfg.Type, i)
		out, err := NewFromConfig(cfg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		r.Register(name, out)
	}
	return r, errors.Join(errs...)
}

// Register adds an output to the registry, replacing any output with the
// same name.
func (r *Registry) Register(name string, output Output) {
	if _, exists := r.outputs[name]; !exists {
		r.names = append(r.names, name)
	}
	r.outputs[name] = output
}

// Get retrieves an output by name.
func (r *Registry) Get(name string) (Output, bool) {
	output, ok := r.outputs[name]
	return output, ok
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of registered outputs.
func (r *Registry) Len() int {
	return len(r.names)
}

// SendAll sends a message to all registered outputs.
func (r *Registry) SendAll(ctx context.Context, msg Message) error {
	var errs []error
	for _, name := range r.names {
		if err := r.outputs[name].Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all registered outputs.
func (r *Registry) Close() error {
	var errs []error
	for _, name := range r.names {
		if err := r.outputs[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// NewFromConfig creates an output from configuration.
// Returns an error if the output type is unsupported or configuration is invalid.
func NewFromConfig(cfg config.OutputConfig) (Output, error) {
	switch cfg.Type {
	case "slack":
		return NewSlackOutput(cfg.Channel)
	case "email":
		return NewEmailOutput(cfg.To, cfg.Subject)
	default:
		return nil, fmt.Errorf("unsupported output type: %s", cfg.Type)
	}
}
