// Package tools holds the registry of functions the model may call
// during a chat turn. Tools describe themselves with a JSON-schema
// parameter object; the registry validates arguments before dispatch.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/studiumlabs/studium/provider"
)

// ErrUnknownFunction indicates the model requested a function that was
// never declared to it.
var ErrUnknownFunction = errors.New("unknown function")

// ErrInvalidArguments indicates function arguments that do not match
// the declared parameter schema.
var ErrInvalidArguments = errors.New("invalid function arguments")

// Tool is one callable function exposed to the model.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns a JSON-schema object describing the accepted
	// arguments.
	Parameters() map[string]interface{}
	Invoke(ctx context.Context, args json.RawMessage) (string, error)
}

var toolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "studium_tool_invocations_total",
	Help: "Function calls dispatched to tools, by tool and outcome.",
}, []string{"tool", "outcome"})

// Registry maps function names to tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds a tool. Registering the same name twice replaces the
// earlier tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns the registered tool for name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the declared tools in the provider wire format.
func (r *Registry) Specs() []provider.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]provider.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, provider.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// Invoke validates args against the tool's schema and dispatches.
// Unknown names fail with ErrUnknownFunction, malformed arguments with
// ErrInvalidArguments; both are terminal for the requesting turn.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (string, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		toolInvocations.WithLabelValues(name, "unknown").Inc()
		return "", fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	if err := validateArgs(t.Parameters(), args); err != nil {
		toolInvocations.WithLabelValues(name, "invalid_args").Inc()
		return "", err
	}
	out, err := t.Invoke(ctx, args)
	if err != nil {
		toolInvocations.WithLabelValues(name, "error").Inc()
		return "", err
	}
	toolInvocations.WithLabelValues(name, "ok").Inc()
	return out, nil
}

// validateArgs checks args against a JSON-schema object: it must parse
// as an object, carry every required property, and match the declared
// primitive types.
func validateArgs(schema map[string]interface{}, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}

	properties, _ := schema["properties"].(map[string]interface{})
	if required, ok := schema["required"].([]string); ok {
		for _, name := range required {
			if _, present := parsed[name]; !present {
				return fmt.Errorf("%w: missing required property %q", ErrInvalidArguments, name)
			}
		}
	}
	for name, value := range parsed {
		spec, ok := properties[name].(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: unexpected property %q", ErrInvalidArguments, name)
		}
		if err := checkType(name, spec, value); err != nil {
			return err
		}
	}
	return nil
}

func checkType(name string, spec map[string]interface{}, value interface{}) error {
	declared, _ := spec["type"].(string)
	switch declared {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%w: property %q must be a string", ErrInvalidArguments, name)
		}
	case "number", "integer":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%w: property %q must be a number", ErrInvalidArguments, name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: property %q must be a boolean", ErrInvalidArguments, name)
		}
	}
	return nil
}
