// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
)

// Call names one gateway method invocation the policy wants next.
type Call struct {
	Method string
	Params map[string]interface{}
}

// Decision is the policy's answer for one loop iteration: either the
// goal is done, or one more call should be made.
type Decision struct {
	Done   bool
	Call   *Call
	Reason string
}

// DecisionPolicy decides the next action from the accumulated execution
// state. Policies must be deterministic over the context: the engine may
// re-ask after a resume and expects the same answer for the same state.
type DecisionPolicy interface {
	NextAction(ec *ExecutionContext) (Decision, error)
}

// ProcurementPolicy drives the standard procurement flow: create the
// case, run triage, persist the triage result, draft a protocol, persist
// it, then close the case. Escalation on triage outcome is the engine's
// job; the policy only sequences calls.
type ProcurementPolicy struct{}

func (ProcurementPolicy) NextAction(ec *ExecutionContext) (Decision, error) {
	created, ok := ec.StepResult("database.create_procurement")
	if !ok {
		return Decision{
			Call: &Call{
				Method: "database.create_procurement",
				Params: copyFields(ec.Goal, "name", "value", "description", "category"),
			},
			Reason: "case not yet created",
		}, nil
	}

	pid, _ := created["procurementId"].(string)
	if pid == "" {
		return Decision{}, fmt.Errorf("create_procurement result carries no procurementId")
	}

	triage, ok := ec.StepResult("agent.run_triage")
	if !ok {
		params := copyFields(ec.Goal, "name", "value", "description", "category")
		params["procurementId"] = pid
		return Decision{
			Call:   &Call{Method: "agent.run_triage", Params: params},
			Reason: "case needs classification",
		}, nil
	}

	if _, ok := ec.StepResult("database.save_triage_result"); !ok {
		return Decision{
			Call: &Call{
				Method: "database.save_triage_result",
				Params: map[string]interface{}{
					"procurementId": pid,
					"color":         triage["color"],
					"reasoning":     triage["reasoning"],
					"confidence":    triage["confidence"],
				},
			},
			Reason: "triage result not yet persisted",
		}, nil
	}

	protocol, ok := ec.StepResult("agent.run_protocol_generation")
	if !ok {
		params := copyFields(ec.Goal, "name", "value", "description", "potentialSupplier")
		params["procurementId"] = pid
		return Decision{
			Call:   &Call{Method: "agent.run_protocol_generation", Params: params},
			Reason: "protocol not yet drafted",
		}, nil
	}

	if _, ok := ec.StepResult("database.save_protocol"); !ok {
		return Decision{
			Call: &Call{
				Method: "database.save_protocol",
				Params: map[string]interface{}{
					"procurementId": pid,
					"content":       protocol["content"],
					"format":        protocol["format"],
				},
			},
			Reason: "protocol not yet persisted",
		}, nil
	}

	if _, ok := ec.StepResult("database.set_procurement_status"); !ok {
		return Decision{
			Call: &Call{
				Method: "database.set_procurement_status",
				Params: map[string]interface{}{
					"procurementId": pid,
					"status":        "protocol_generated",
				},
			},
			Reason: "case status not yet finalized",
		}, nil
	}

	return Decision{Done: true, Reason: "all procurement steps completed"}, nil
}

func copyFields(src map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := src[k]; ok {
			out[k] = v
		}
	}
	return out
}
