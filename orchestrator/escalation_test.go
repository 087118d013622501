// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"testing"
)

func TestRedTriageEscalation(t *testing.T) {
	tests := []struct {
		name string
		step ExecutionStep
		want bool
	}{
		{
			name: "red triage trips",
			step: ExecutionStep{Method: "agent.run_triage", Result: map[string]interface{}{"color": "RØD"}},
			want: true,
		},
		{
			name: "yellow triage passes",
			step: ExecutionStep{Method: "agent.run_triage", Result: map[string]interface{}{"color": "GUL"}},
			want: false,
		},
		{
			name: "other method with red field passes",
			step: ExecutionStep{Method: "database.save_triage_result", Result: map[string]interface{}{"color": "RØD"}},
			want: false,
		},
		{
			name: "failed step passes",
			step: ExecutionStep{Method: "agent.run_triage", Error: "timeout"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := RedTriageEscalation(tt.step)
			if got != tt.want {
				t.Errorf("trip = %v, want %v", got, tt.want)
			}
			if got && reason == "" {
				t.Error("tripped predicate must explain itself")
			}
		})
	}
}

func TestEscalationRecommendedEscalation(t *testing.T) {
	trip, _ := EscalationRecommendedEscalation(ExecutionStep{
		Method: "agent.run_triage",
		Result: map[string]interface{}{"escalationRecommended": true},
	})
	if !trip {
		t.Error("explicit recommendation must pause the run")
	}

	trip, _ = EscalationRecommendedEscalation(ExecutionStep{
		Method: "agent.run_triage",
		Result: map[string]interface{}{"escalationRecommended": false},
	})
	if trip {
		t.Error("no recommendation, no pause")
	}
}

func TestConfidenceFrom(t *testing.T) {
	if c, ok := confidenceFrom(map[string]interface{}{"confidence": 0.72}); !ok || c != 0.72 {
		t.Errorf("got (%v, %v)", c, ok)
	}
	if _, ok := confidenceFrom(map[string]interface{}{"status": "success"}); ok {
		t.Error("missing confidence must report not-ok")
	}
	if _, ok := confidenceFrom(nil); ok {
		t.Error("nil result must report not-ok")
	}
}
