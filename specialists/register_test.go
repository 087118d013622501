// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package specialists

import (
	"context"
	"testing"

	"agentgate/platform/gateway"
)

func TestSuiteRegister(t *testing.T) {
	reg := gateway.NewRegistry()
	if err := NewSuite(nil).Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if reg.Len() != 2 {
		t.Fatalf("registered %d capabilities, want 2", reg.Len())
	}
	for _, ref := range []string{"triage", "protocol"} {
		if _, ok := reg.Handler(ref); !ok {
			t.Errorf("handler %q not registered", ref)
		}
	}

	caps := reg.Capabilities()
	for _, c := range caps {
		if c.BackendKind != gateway.BackendInProcess {
			t.Errorf("%s backend kind = %s", c.Method, c.BackendKind)
		}
		if len(c.AllowedCallers) == 0 {
			t.Errorf("%s has no allowed callers", c.Method)
		}
	}
}

func TestRunTriageHandler(t *testing.T) {
	reg := gateway.NewRegistry()
	if err := NewSuite(nil).Register(reg); err != nil {
		t.Fatal(err)
	}
	handler, _ := reg.Handler("triage")

	result, err := handler(context.Background(), map[string]interface{}{
		"procurementId": "p-1",
		"name":          "Kontorrekvisita",
		"value":         50_000.0,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	obj, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("result type %T", result)
	}
	if obj["color"] != ColorGreen {
		t.Errorf("color = %v", obj["color"])
	}
	if _, ok := obj["confidence"].(float64); !ok {
		t.Error("confidence missing from result")
	}
}

func TestRunProtocolGenerationHandler(t *testing.T) {
	reg := gateway.NewRegistry()
	if err := NewSuite(nil).Register(reg); err != nil {
		t.Fatal(err)
	}
	handler, _ := reg.Handler("protocol")

	result, err := handler(context.Background(), map[string]interface{}{
		"procurementId": "p-1",
		"name":          "Nye maskiner",
		"value":         450_000.0,
	})
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	obj := result.(map[string]interface{})
	if obj["format"] != "markdown" {
		t.Errorf("format = %v", obj["format"])
	}
	content, _ := obj["content"].(string)
	if content == "" {
		t.Error("empty protocol content")
	}
}
