// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"fmt"
)

// EscalationPredicate inspects a completed step and reports whether the
// run must pause for human review, with a reviewer-facing reason.
// Predicates are hard rules: they pause the run regardless of confidence.
type EscalationPredicate func(step ExecutionStep) (bool, string)

// RedTriageEscalation pauses the run when triage classifies the case RØD.
func RedTriageEscalation(step ExecutionStep) (bool, string) {
	if step.Method != "agent.run_triage" || step.Result == nil {
		return false, ""
	}
	if color, _ := step.Result["color"].(string); color == "RØD" {
		return true, "triage classified the case RØD"
	}
	return false, ""
}

// EscalationRecommendedEscalation pauses when a specialist explicitly
// recommends escalation in its result.
func EscalationRecommendedEscalation(step ExecutionStep) (bool, string) {
	if step.Result == nil {
		return false, ""
	}
	if recommended, _ := step.Result["escalationRecommended"].(bool); recommended {
		return true, fmt.Sprintf("%s recommended escalation", step.Method)
	}
	return false, ""
}

// DefaultEscalationPredicates are the hard review rules applied when the
// engine is built without an explicit set.
func DefaultEscalationPredicates() []EscalationPredicate {
	return []EscalationPredicate{
		RedTriageEscalation,
		EscalationRecommendedEscalation,
	}
}

// confidenceFrom extracts a confidence score from a step result. Steps
// without a numeric confidence field report full confidence: only
// specialists that score themselves can trip the soft threshold.
func confidenceFrom(result map[string]interface{}) (float64, bool) {
	if result == nil {
		return 0, false
	}
	c, ok := result["confidence"].(float64)
	return c, ok
}
