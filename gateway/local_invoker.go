// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"fmt"
	"log"
)

// LocalInvoker calls in-process capability functions registered in the
// capability registry. Panics inside a capability are recovered and
// reported as backend errors; callers never see a stack trace.
type LocalInvoker struct {
	registry *Registry
}

// NewLocalInvoker creates an invoker over the given registry.
func NewLocalInvoker(registry *Registry) *LocalInvoker {
	return &LocalInvoker{registry: registry}
}

type localResult struct {
	value interface{}
	err   error
}

// Invoke resolves backendRef to a registered function and calls it.
// The function runs in its own goroutine so a per-call deadline on ctx
// is honored even when the capability does not check the context.
func (l *LocalInvoker) Invoke(ctx context.Context, backendRef string, params map[string]interface{}) (interface{}, error) {
	fn, ok := l.registry.Handler(backendRef)
	if !ok {
		return nil, &BackendError{
			Kind:    KindBackendInProcess,
			Message: fmt.Sprintf("no registered function for %s", backendRef),
		}
	}

	done := make(chan localResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Capability %s panicked: %v", backendRef, r)
				done <- localResult{err: &BackendError{
					Kind:    KindBackendInProcess,
					Message: fmt.Sprintf("capability %s failed", backendRef),
					Err:     fmt.Errorf("panic: %v", r),
				}}
			}
		}()
		value, err := fn(ctx, params)
		done <- localResult{value: value, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			if _, isBackend := AsBackendError(res.err); isBackend {
				return nil, res.err
			}
			return nil, &BackendError{
				Kind:    KindBackendInProcess,
				Message: fmt.Sprintf("capability %s failed", backendRef),
				Err:     res.err,
			}
		}
		return res.value, nil
	}
}
