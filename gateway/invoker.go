// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Invoker executes one capability against its backend. Implementations
// must release any acquired resource on every exit path, including
// context cancellation.
type Invoker interface {
	Invoke(ctx context.Context, backendRef string, params map[string]interface{}) (interface{}, error)
}

// BackendError classifies an invoker failure. The dispatcher translates
// it into a JSON-RPC error with the matching kind; the wrapped error is
// only written to logs, never returned to the caller.
type BackendError struct {
	Kind    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// AsBackendError extracts a BackendError from an error chain.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	ok := errors.As(err, &be)
	return be, ok
}
