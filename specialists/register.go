// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package specialists

import (
	"context"
	"encoding/json"
	"fmt"

	"agentgate/platform/gateway"
	"agentgate/platform/shared/logger"
)

// Suite bundles the specialist capabilities for registration into the
// gateway. The text generator is injected so deployments can swap the
// deterministic template for a model-backed one.
type Suite struct {
	gen TextGenerator
	log *logger.Logger
}

// NewSuite creates a suite using the given generator. A nil generator
// falls back to the deterministic template.
func NewSuite(gen TextGenerator) *Suite {
	if gen == nil {
		gen = NewTemplateGenerator()
	}
	return &Suite{gen: gen, log: logger.New("specialists")}
}

// Register declares the specialist capabilities. The orchestrator is the
// only permitted caller; other agents must be granted explicitly.
func (s *Suite) Register(reg *gateway.Registry) error {
	callers := []string{"reasoning_orchestrator"}

	if err := reg.Register(gateway.Capability{
		Method:      "agent.run_triage",
		Description: "Classify a procurement case as GRØNN, GUL or RØD with risk assessment",
		BackendKind: gateway.BackendInProcess,
		BackendRef:  "triage",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["name", "value"],
			"properties": {
				"procurementId": {"type": "string"},
				"name": {"type": "string", "minLength": 1},
				"value": {"type": "number", "minimum": 0},
				"description": {"type": "string"},
				"category": {"type": "string"}
			}
		}`),
		AllowedCallers: callers,
		Handler:        s.runTriage,
	}); err != nil {
		return err
	}

	return reg.Register(gateway.Capability{
		Method:      "agent.run_protocol_generation",
		Description: "Draft a procurement protocol document",
		BackendKind: gateway.BackendInProcess,
		BackendRef:  "protocol",
		InputSchema: json.RawMessage(`{
			"type": "object",
			"required": ["procurementId", "name"],
			"properties": {
				"procurementId": {"type": "string"},
				"name": {"type": "string", "minLength": 1},
				"value": {"type": "number"},
				"description": {"type": "string"},
				"potentialSupplier": {"type": "string"}
			}
		}`),
		AllowedCallers: callers,
		Handler:        s.runProtocolGeneration,
	})
}

func (s *Suite) runTriage(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	var in TriageInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}

	result := Classify(in)
	s.log.Info("", "", "Triage completed", map[string]interface{}{
		"procurement_id": in.ProcurementID,
		"color":          result.Color,
		"confidence":     result.Confidence,
	})
	return encodeResult(result)
}

func (s *Suite) runProtocolGeneration(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	var in ProtocolInput
	if err := decodeParams(params, &in); err != nil {
		return nil, err
	}

	result, err := DraftProtocol(ctx, s.gen, in)
	if err != nil {
		return nil, err
	}
	s.log.Info("", "", "Protocol drafted", map[string]interface{}{
		"procurement_id": in.ProcurementID,
		"bytes":          len(result.Content),
	})
	return encodeResult(result)
}

// decodeParams converts the dispatcher's generic params map into a
// typed input struct through a JSON round trip.
func decodeParams(params map[string]interface{}, target interface{}) error {
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode params: %w", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid specialist input: %w", err)
	}
	return nil
}

// encodeResult converts a typed result back into the generic value the
// dispatcher serializes, keeping JSON field names authoritative.
func encodeResult(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode result: %w", err)
	}
	return out, nil
}
