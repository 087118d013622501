// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeGateway answers scripted results per method and records the call
// order. Safe for concurrent callers.
type fakeGateway struct {
	mu      sync.Mutex
	results map[string]map[string]interface{}
	errs    map[string]error
	calls   []string
}

func (f *fakeGateway) Call(_ context.Context, method string, params map[string]interface{}) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	if result, ok := f.results[method]; ok {
		return result, nil
	}
	return map[string]interface{}{"status": "success"}, nil
}

func (f *fakeGateway) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.calls {
		if m == method {
			n++
		}
	}
	return n
}

// memoryStore keeps executions in memory and counts saves.
type memoryStore struct {
	mu       sync.Mutex
	contexts map[string]*ExecutionContext
	audits   []string
	saves    int
	failSave bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{contexts: make(map[string]*ExecutionContext)}
}

func (m *memoryStore) SaveContext(_ context.Context, ec *ExecutionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("disk full")
	}
	m.saves++
	clone := *ec
	clone.Steps = append([]ExecutionStep(nil), ec.Steps...)
	m.contexts[ec.GoalID] = &clone
	return nil
}

func (m *memoryStore) LoadContext(_ context.Context, goalID string) (*ExecutionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ec, ok := m.contexts[goalID]
	if !ok {
		return nil, fmt.Errorf("goal %s not found", goalID)
	}
	clone := *ec
	clone.Steps = append([]ExecutionStep(nil), ec.Steps...)
	return &clone, nil
}

func (m *memoryStore) TransitionState(_ context.Context, goalID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ec, ok := m.contexts[goalID]
	if !ok || ec.State != from {
		return false, nil
	}
	ec.State = to
	return true, nil
}

func (m *memoryStore) RunningGoals(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var goalIDs []string
	for goalID, ec := range m.contexts {
		if ec.State == StateRunning {
			goalIDs = append(goalIDs, goalID)
		}
	}
	return goalIDs, nil
}

func (m *memoryStore) WriteAudit(_ context.Context, goalID, event string, _ map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, event)
	return nil
}

func procurementGoal() map[string]interface{} {
	return map[string]interface{}{
		"name":        "Nye bærbare maskiner",
		"value":       450_000.0,
		"description": "Utskifting av utdatert utstyr",
	}
}

func happyPathGateway(confidence float64, color string) *fakeGateway {
	return &fakeGateway{results: map[string]map[string]interface{}{
		"database.create_procurement": {
			"status": "success", "procurementId": "0b9f9f2e-1f9a-4c9e-8a6a-3f1f2f3a4b5c",
		},
		"agent.run_triage": {
			"color": color, "reasoning": "test", "confidence": confidence,
		},
		"database.save_triage_result": {"status": "success", "resultId": "1"},
		"agent.run_protocol_generation": {
			"content": "# Protokoll", "format": "markdown", "confidence": 0.9,
		},
		"database.save_protocol":          {"status": "success", "protocolId": "5"},
		"database.set_procurement_status": {"status": "success"},
	}}
}

func newTestEngine(gw GatewayCaller, store ExecutionStore) *Engine {
	return NewEngine(gw, store, ProcurementPolicy{}, nil, EngineConfig{
		AgentID:          "reasoning_orchestrator",
		MaxIterations:    10,
		ConfidenceCutoff: 0.85,
	})
}

func TestEngineCompletesProcurementGoal(t *testing.T) {
	gw := happyPathGateway(0.95, "GRØNN")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if ec.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED (pause reason: %s, failure: %s)", ec.State, ec.PauseReason, ec.FailureReason)
	}

	wantCalls := []string{
		"database.create_procurement",
		"agent.run_triage",
		"database.save_triage_result",
		"agent.run_protocol_generation",
		"database.save_protocol",
		"database.set_procurement_status",
	}
	if len(gw.calls) != len(wantCalls) {
		t.Fatalf("made %d calls %v, want %d", len(gw.calls), gw.calls, len(wantCalls))
	}
	for i, want := range wantCalls {
		if gw.calls[i] != want {
			t.Errorf("call %d = %s, want %s", i, gw.calls[i], want)
		}
	}

	if ec.IterationCount != len(wantCalls) {
		t.Errorf("iteration count = %d", ec.IterationCount)
	}
	// Every step plus the initial save and terminal save must be durable.
	if store.saves < len(wantCalls)+2 {
		t.Errorf("only %d saves for %d steps", store.saves, len(wantCalls))
	}
	last := store.audits[len(store.audits)-1]
	if last != "goal_completed" {
		t.Errorf("final audit event = %s", last)
	}
}

func TestEnginePausesOnLowConfidence(t *testing.T) {
	gw := happyPathGateway(0.72, "GUL")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if ec.State != StatePaused {
		t.Fatalf("state = %s, want PAUSED_FOR_REVIEW", ec.State)
	}
	if !strings.Contains(ec.PauseReason, "0.72") {
		t.Errorf("pause reason %q should name the confidence", ec.PauseReason)
	}
	// The loop stopped right after triage; nothing was persisted to the
	// case tables beyond that step.
	if gw.calls[len(gw.calls)-1] != "agent.run_triage" {
		t.Errorf("last call = %s", gw.calls[len(gw.calls)-1])
	}

	persisted, err := store.LoadContext(context.Background(), ec.GoalID)
	if err != nil {
		t.Fatal(err)
	}
	if persisted.State != StatePaused {
		t.Errorf("persisted state = %s", persisted.State)
	}
}

func TestEnginePausesOnRedTriage(t *testing.T) {
	// High confidence does not override the hard predicate.
	gw := happyPathGateway(0.97, "RØD")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if ec.State != StatePaused {
		t.Fatalf("state = %s, want PAUSED_FOR_REVIEW", ec.State)
	}
	if !strings.Contains(ec.PauseReason, "RØD") {
		t.Errorf("pause reason = %q", ec.PauseReason)
	}
}

func TestEngineResumeApprovedContinues(t *testing.T) {
	gw := happyPathGateway(0.72, "GUL")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}
	if ec.State != StatePaused {
		t.Fatalf("precondition: state = %s", ec.State)
	}

	resumed, err := engine.Resume(context.Background(), ec.GoalID, ReviewDecision{
		Approved: true,
		Reviewer: "anne.hansen",
		Comment:  "OK etter manuell kontroll",
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if resumed.State != StateCompleted {
		t.Fatalf("state after approved resume = %s (failure: %s)", resumed.State, resumed.FailureReason)
	}
	if resumed.Review == nil || resumed.Review.Reviewer != "anne.hansen" {
		t.Error("review decision not recorded")
	}
	// Triage is not re-run: the loop picks up from the persisted steps.
	triageCalls := 0
	for _, call := range gw.calls {
		if call == "agent.run_triage" {
			triageCalls++
		}
	}
	if triageCalls != 1 {
		t.Errorf("triage ran %d times, want 1", triageCalls)
	}
}

func TestEngineResumeRejectedFails(t *testing.T) {
	gw := happyPathGateway(0.72, "GUL")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}

	resumed, err := engine.Resume(context.Background(), ec.GoalID, ReviewDecision{
		Approved: false,
		Reviewer: "anne.hansen",
		Comment:  "Feil klassifisering",
	})
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.State != StateFailed {
		t.Fatalf("state = %s, want FAILED", resumed.State)
	}
	if !strings.Contains(resumed.FailureReason, "anne.hansen") {
		t.Errorf("failure reason = %q", resumed.FailureReason)
	}
}

func TestEngineResumeRequiresPausedState(t *testing.T) {
	gw := happyPathGateway(0.95, "GRØNN")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}
	if ec.State != StateCompleted {
		t.Fatalf("precondition: state = %s", ec.State)
	}

	if _, err := engine.Resume(context.Background(), ec.GoalID, ReviewDecision{Approved: true, Reviewer: "x"}); err == nil {
		t.Error("resuming a completed goal must fail")
	}
}

// loopingPolicy never finishes, to exercise the iteration bound.
type loopingPolicy struct{}

func (loopingPolicy) NextAction(*ExecutionContext) (Decision, error) {
	return Decision{Call: &Call{Method: "database.log_execution", Params: map[string]interface{}{}}}, nil
}

func TestEngineEnforcesIterationLimit(t *testing.T) {
	gw := &fakeGateway{}
	store := newMemoryStore()
	engine := NewEngine(gw, store, loopingPolicy{}, nil, EngineConfig{
		AgentID:          "reasoning_orchestrator",
		MaxIterations:    3,
		ConfidenceCutoff: 0.85,
	})

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}

	if ec.State != StateFailed {
		t.Fatalf("state = %s, want FAILED", ec.State)
	}
	if !strings.Contains(ec.FailureReason, "iteration limit") {
		t.Errorf("failure reason = %q", ec.FailureReason)
	}
	if len(gw.calls) != 3 {
		t.Errorf("made %d calls, want exactly the limit", len(gw.calls))
	}
}

func TestEngineFailsOnGatewayError(t *testing.T) {
	gw := happyPathGateway(0.95, "GRØNN")
	gw.errs = map[string]error{
		"database.save_triage_result": &RPCCallError{Code: -32002, Kind: "circuit_open", Message: "backend temporarily unavailable"},
	}
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}

	if ec.State != StateFailed {
		t.Fatalf("state = %s, want FAILED", ec.State)
	}
	// Failed step is recorded with its error before the terminal transition.
	last := ec.LastStep()
	if last == nil || last.Method != "database.save_triage_result" || last.Error == "" {
		t.Errorf("failed step not recorded: %+v", last)
	}
}

func TestEngineStopsWhenPersistenceFails(t *testing.T) {
	gw := happyPathGateway(0.95, "GRØNN")
	store := newMemoryStore()
	store.failSave = true
	engine := newTestEngine(gw, store)

	if _, err := engine.Start(context.Background(), procurementGoal()); err == nil {
		t.Fatal("engine must not run a goal it cannot persist")
	}
	if len(gw.calls) != 0 {
		t.Errorf("engine made %d calls despite persistence failure", len(gw.calls))
	}
}

func TestEngineResumeSingleWinnerUnderConcurrentReviewers(t *testing.T) {
	gw := happyPathGateway(0.72, "GUL")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}
	if ec.State != StatePaused {
		t.Fatalf("precondition: state = %s", ec.State)
	}

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = engine.Resume(context.Background(), ec.GoalID, ReviewDecision{
				Approved: true,
				Reviewer: fmt.Sprintf("reviewer-%d", i),
			})
		}(i)
	}
	close(start)
	wg.Wait()

	rejected := 0
	for _, err := range errs {
		if err != nil {
			rejected++
			// The loser is rejected either at the state precondition or
			// at the compare-and-swap, depending on interleaving.
			if !strings.Contains(err.Error(), "paused") {
				t.Errorf("loser error = %v", err)
			}
		}
	}
	if rejected != 1 {
		t.Fatalf("%d of 2 concurrent resumes rejected, want exactly 1", rejected)
	}

	// The winner ran the remaining plan exactly once.
	if n := gw.callCount("database.save_triage_result"); n != 1 {
		t.Errorf("save_triage_result called %d times, want 1", n)
	}
	final, err := store.LoadContext(context.Background(), ec.GoalID)
	if err != nil {
		t.Fatal(err)
	}
	if final.State != StateCompleted {
		t.Errorf("final state = %s, want COMPLETED", final.State)
	}
}

func TestEngineRecoverContinuesCrashedGoal(t *testing.T) {
	gw := happyPathGateway(0.95, "GRØNN")
	store := newMemoryStore()

	// A goal persisted mid-run by a process that died after two durable
	// steps. Recovery must continue from the saved history, not restart.
	now := time.Now().UTC()
	crashed := &ExecutionContext{
		GoalID:         "goal-from-dead-process",
		AgentID:        "reasoning_orchestrator",
		Goal:           procurementGoal(),
		State:          StateRunning,
		IterationCount: 2,
		MaxIterations:  10,
		Steps: []ExecutionStep{
			{
				Index:  0,
				Method: "database.create_procurement",
				Result: map[string]interface{}{
					"status": "success", "procurementId": "0b9f9f2e-1f9a-4c9e-8a6a-3f1f2f3a4b5c",
				},
				StartedAt: now, FinishedAt: now,
			},
			{
				Index:  1,
				Method: "agent.run_triage",
				Result: map[string]interface{}{
					"color": "GRØNN", "reasoning": "test", "confidence": 0.95,
				},
				StartedAt: now, FinishedAt: now,
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.SaveContext(context.Background(), crashed); err != nil {
		t.Fatal(err)
	}

	engine := newTestEngine(gw, store)
	if err := engine.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}

	final, err := store.LoadContext(context.Background(), crashed.GoalID)
	if err != nil {
		t.Fatal(err)
	}
	if final.State != StateCompleted {
		t.Fatalf("state = %s, want COMPLETED (failure: %s)", final.State, final.FailureReason)
	}

	// Completed steps were not repeated; the run picked up at the next
	// planned call.
	if n := gw.callCount("database.create_procurement"); n != 0 {
		t.Errorf("create_procurement repeated %d times after recovery", n)
	}
	if n := gw.callCount("agent.run_triage"); n != 0 {
		t.Errorf("run_triage repeated %d times after recovery", n)
	}
	if len(gw.calls) == 0 || gw.calls[0] != "database.save_triage_result" {
		t.Errorf("first recovered call = %v, want database.save_triage_result", gw.calls)
	}
}

func TestEngineRecoverIgnoresSettledGoals(t *testing.T) {
	gw := happyPathGateway(0.95, "GRØNN")
	store := newMemoryStore()
	engine := newTestEngine(gw, store)

	ec, err := engine.Start(context.Background(), procurementGoal())
	if err != nil {
		t.Fatal(err)
	}
	if ec.State != StateCompleted {
		t.Fatalf("precondition: state = %s", ec.State)
	}
	callsBefore := len(gw.calls)

	if err := engine.Recover(context.Background()); err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if len(gw.calls) != callsBefore {
		t.Errorf("recovery made %d extra calls on a completed goal", len(gw.calls)-callsBefore)
	}
}
