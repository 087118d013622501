// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLocalInvokerSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Capability{
		Method:      "agent.run_triage",
		BackendKind: BackendInProcess,
		BackendRef:  "triage",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"color": "GRØNN"}, nil
		},
	})

	invoker := NewLocalInvoker(reg)
	result, err := invoker.Invoke(context.Background(), "triage", map[string]interface{}{"value": 1000.0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(map[string]interface{})["color"] != "GRØNN" {
		t.Errorf("unexpected result: %#v", result)
	}
}

func TestLocalInvokerUnknownRef(t *testing.T) {
	invoker := NewLocalInvoker(NewRegistry())

	_, err := invoker.Invoke(context.Background(), "missing", nil)
	be, ok := AsBackendError(err)
	if !ok {
		t.Fatalf("error is %T, want BackendError", err)
	}
	if be.Kind != KindBackendInProcess {
		t.Errorf("kind = %s, want %s", be.Kind, KindBackendInProcess)
	}
}

func TestLocalInvokerRecoversPanic(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Capability{
		Method:      "agent.run_triage",
		BackendKind: BackendInProcess,
		BackendRef:  "triage",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			panic("nil map write")
		},
	})

	invoker := NewLocalInvoker(reg)
	_, err := invoker.Invoke(context.Background(), "triage", nil)
	be, ok := AsBackendError(err)
	if !ok {
		t.Fatalf("panic not converted to BackendError: %v", err)
	}
	// The panic detail goes to logs only, not to the caller-facing message.
	if strings.Contains(be.Message, "nil map write") {
		t.Errorf("panic detail leaked into message: %q", be.Message)
	}
}

func TestLocalInvokerHonorsDeadline(t *testing.T) {
	reg := NewRegistry()
	release := make(chan struct{})
	reg.MustRegister(Capability{
		Method:      "agent.run_triage",
		BackendKind: BackendInProcess,
		BackendRef:  "triage",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			<-release // does not check ctx
			return nil, nil
		},
	})
	defer close(release)

	invoker := NewLocalInvoker(reg)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := invoker.Invoke(ctx, "triage", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
}

func TestLocalInvokerWrapsPlainErrors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(Capability{
		Method:      "agent.run_triage",
		BackendKind: BackendInProcess,
		BackendRef:  "triage",
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return nil, errors.New("model unavailable")
		},
	})

	invoker := NewLocalInvoker(reg)
	_, err := invoker.Invoke(context.Background(), "triage", nil)
	be, ok := AsBackendError(err)
	if !ok {
		t.Fatalf("plain error not wrapped: %v", err)
	}
	if be.Kind != KindBackendInProcess {
		t.Errorf("kind = %s", be.Kind)
	}
}
