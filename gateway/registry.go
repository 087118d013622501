// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrDuplicateCapability is returned when two capabilities declare the
// same method name.
var ErrDuplicateCapability = errors.New("capability already registered")

// ErrDuplicateBackendRef is returned when two in-process capabilities
// declare the same backend reference.
var ErrDuplicateBackendRef = errors.New("backend ref already registered")

// LocalFunc is the signature of an in-process capability implementation.
type LocalFunc func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Capability is a build-side declaration: the code that implements an
// operation states its method name, backend and allowed callers in one
// place, and the sync routine regenerates catalog and ACL rows from it
// so the persisted configuration never drifts from the code.
type Capability struct {
	Method         string
	Description    string
	BackendKind    BackendKind
	BackendRef     string
	InputSchema    json.RawMessage
	AllowedCallers []string

	// Handler must be set for in_process capabilities and nil for
	// procedure capabilities.
	Handler LocalFunc
}

// Registry is the explicit registration table built once at startup and
// passed by reference into the components that need it. It deliberately
// is not a process-global: tests fabricate their own registries.
type Registry struct {
	entries  []Capability
	byMethod map[string]int
	handlers map[string]LocalFunc
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{
		byMethod: make(map[string]int),
		handlers: make(map[string]LocalFunc),
	}
}

// Register adds a capability declaration. It validates the method format,
// the backend wiring, and rejects duplicates.
func (r *Registry) Register(c Capability) error {
	service, methodKey, err := ParseMethod(c.Method)
	if err != nil {
		return err
	}
	_ = service
	_ = methodKey

	if c.BackendRef == "" {
		return fmt.Errorf("capability %s: backend ref required", c.Method)
	}

	switch c.BackendKind {
	case BackendProcedure:
		if c.Handler != nil {
			return fmt.Errorf("capability %s: procedure capability must not carry a handler", c.Method)
		}
	case BackendInProcess:
		if c.Handler == nil {
			return fmt.Errorf("capability %s: in_process capability requires a handler", c.Method)
		}
	default:
		return fmt.Errorf("capability %s: unknown backend kind %q", c.Method, c.BackendKind)
	}

	if _, exists := r.byMethod[c.Method]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCapability, c.Method)
	}

	if c.Handler != nil {
		if _, exists := r.handlers[c.BackendRef]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateBackendRef, c.BackendRef)
		}
		r.handlers[c.BackendRef] = c.Handler
	}

	r.byMethod[c.Method] = len(r.entries)
	r.entries = append(r.entries, c)
	return nil
}

// MustRegister registers a capability and panics on error. Intended for
// startup-time declarations where a bad declaration is a programming error.
func (r *Registry) MustRegister(c Capability) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Capabilities returns all declarations in a stable method order.
func (r *Registry) Capabilities() []Capability {
	out := make([]Capability, len(r.entries))
	copy(out, r.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// Handler resolves an in-process backend reference to its function.
func (r *Registry) Handler(backendRef string) (LocalFunc, bool) {
	fn, ok := r.handlers[backendRef]
	return fn, ok
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.entries)
}
