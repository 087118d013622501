// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"agentgate/platform/shared/logger"
)

var (
	goalOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_goal_outcomes_total",
		Help: "Terminal and pause outcomes of goal executions",
	}, []string{"outcome"})

	goalSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_goal_steps_total",
		Help: "Gateway calls made by the execution loop",
	}, []string{"method", "outcome"})
)

func init() {
	prometheus.MustRegister(goalOutcomes, goalSteps)
}

// GatewayCaller makes one authorized RPC call against the gateway.
type GatewayCaller interface {
	Call(ctx context.Context, method string, params map[string]interface{}) (map[string]interface{}, error)
}

// ExecutionStore persists goal executions. SaveContext must be durable
// before it returns; the engine will not proceed past an unsaved step.
// TransitionState is the store-level compare-and-swap that serializes
// competing resume attempts on the same goal.
type ExecutionStore interface {
	SaveContext(ctx context.Context, ec *ExecutionContext) error
	LoadContext(ctx context.Context, goalID string) (*ExecutionContext, error)
	TransitionState(ctx context.Context, goalID, from, to string) (bool, error)
	RunningGoals(ctx context.Context) ([]string, error)
	WriteAudit(ctx context.Context, goalID, event string, detail map[string]interface{}) error
}

// EngineConfig bounds the execution loop.
type EngineConfig struct {
	AgentID          string
	MaxIterations    int
	ConfidenceCutoff float64
}

// DefaultEngineConfig returns the standard loop bounds.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AgentID:          "reasoning_orchestrator",
		MaxIterations:    10,
		ConfidenceCutoff: 0.85,
	}
}

// Engine runs the decide, call, evaluate loop for goal executions.
type Engine struct {
	client     GatewayCaller
	store      ExecutionStore
	policy     DecisionPolicy
	predicates []EscalationPredicate
	cfg        EngineConfig
	log        *logger.Logger
}

// NewEngine assembles an engine. Nil predicates fall back to the default
// hard escalation rules.
func NewEngine(client GatewayCaller, store ExecutionStore, policy DecisionPolicy, predicates []EscalationPredicate, cfg EngineConfig) *Engine {
	if predicates == nil {
		predicates = DefaultEscalationPredicates()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultEngineConfig().MaxIterations
	}
	if cfg.ConfidenceCutoff <= 0 {
		cfg.ConfidenceCutoff = DefaultEngineConfig().ConfidenceCutoff
	}
	if cfg.AgentID == "" {
		cfg.AgentID = DefaultEngineConfig().AgentID
	}
	return &Engine{
		client:     client,
		store:      store,
		policy:     policy,
		predicates: predicates,
		cfg:        cfg,
		log:        logger.New("orchestrator"),
	}
}

// Start creates a new goal execution and drives it until it completes,
// fails, or pauses for review. The returned context reflects the state
// at return time.
func (e *Engine) Start(ctx context.Context, goal map[string]interface{}) (*ExecutionContext, error) {
	now := time.Now().UTC()
	ec := &ExecutionContext{
		GoalID:        uuid.New().String(),
		AgentID:       e.cfg.AgentID,
		Goal:          goal,
		State:         StateRunning,
		MaxIterations: e.cfg.MaxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := e.store.SaveContext(ctx, ec); err != nil {
		return nil, fmt.Errorf("failed to persist new goal: %w", err)
	}
	e.audit(ctx, ec, "goal_submitted", map[string]interface{}{"goal": goal})
	e.log.Info(ec.AgentID, ec.GoalID, "Goal execution started", nil)

	if err := e.run(ctx, ec); err != nil {
		return ec, err
	}
	return ec, nil
}

// Resume applies a reviewer decision to a paused execution. Approval
// re-enters the loop; rejection fails the run.
func (e *Engine) Resume(ctx context.Context, goalID string, decision ReviewDecision) (*ExecutionContext, error) {
	ec, err := e.store.LoadContext(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if ec.State != StatePaused {
		return nil, fmt.Errorf("goal %s is not paused for review, state: %s", goalID, ec.State)
	}

	// Claim the goal with a store-level compare-and-swap. Concurrent
	// reviewers race on this transition; the loser is rejected here and
	// never re-enters the loop.
	claimed, err := e.store.TransitionState(ctx, goalID, StatePaused, StateRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to claim goal for resume: %w", err)
	}
	if !claimed {
		return nil, fmt.Errorf("goal %s is no longer paused for review", goalID)
	}
	ec.State = StateRunning
	ec.PauseReason = ""

	if decision.DecidedAt.IsZero() {
		decision.DecidedAt = time.Now().UTC()
	}
	ec.Review = &decision
	e.audit(ctx, ec, "review_received", map[string]interface{}{
		"approved": decision.Approved,
		"reviewer": decision.Reviewer,
		"comment":  decision.Comment,
	})

	if !decision.Approved {
		e.fail(ctx, ec, fmt.Sprintf("rejected by reviewer %s", decision.Reviewer))
		return ec, nil
	}

	if err := e.store.SaveContext(ctx, ec); err != nil {
		return nil, fmt.Errorf("failed to persist resume: %w", err)
	}
	e.log.Info(ec.AgentID, ec.GoalID, "Goal execution resumed", map[string]interface{}{"reviewer": decision.Reviewer})

	if err := e.run(ctx, ec); err != nil {
		return ec, err
	}
	return ec, nil
}

// Recover re-enters goals a previous process left in RUNNING state.
// Every step is durable before the loop proceeds, so the deterministic
// decision policy continues exactly where the crashed run stopped. Call
// this once at startup, before the HTTP surface accepts traffic.
func (e *Engine) Recover(ctx context.Context) error {
	goalIDs, err := e.store.RunningGoals(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running goals: %w", err)
	}

	for _, goalID := range goalIDs {
		ec, err := e.store.LoadContext(ctx, goalID)
		if err != nil {
			e.log.Error(e.cfg.AgentID, goalID, "Failed to load goal for recovery", map[string]interface{}{"error": err.Error()})
			continue
		}
		e.log.Info(ec.AgentID, ec.GoalID, "Recovering goal left running", map[string]interface{}{
			"iterations": ec.IterationCount,
			"steps":      len(ec.Steps),
		})
		e.audit(ctx, ec, "goal_recovered", map[string]interface{}{"steps": len(ec.Steps)})
		if err := e.run(ctx, ec); err != nil {
			e.log.Error(ec.AgentID, ec.GoalID, "Goal recovery failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return nil
}

func (e *Engine) run(ctx context.Context, ec *ExecutionContext) error {
	for ec.State == StateRunning {
		if ec.IterationCount >= ec.MaxIterations {
			e.fail(ctx, ec, fmt.Sprintf("iteration limit of %d reached", ec.MaxIterations))
			return nil
		}

		decision, err := e.policy.NextAction(ec)
		if err != nil {
			e.fail(ctx, ec, fmt.Sprintf("decision policy failed: %v", err))
			return nil
		}
		if decision.Done {
			if err := ec.Transition(StateCompleted); err != nil {
				return err
			}
			if err := e.store.SaveContext(ctx, ec); err != nil {
				return fmt.Errorf("failed to persist completion: %w", err)
			}
			goalOutcomes.WithLabelValues("completed").Inc()
			e.audit(ctx, ec, "goal_completed", map[string]interface{}{
				"iterations": ec.IterationCount,
				"reason":     decision.Reason,
			})
			e.log.Info(ec.AgentID, ec.GoalID, "Goal execution completed", map[string]interface{}{"iterations": ec.IterationCount})
			return nil
		}

		ec.IterationCount++
		step := ExecutionStep{
			Index:     len(ec.Steps),
			Method:    decision.Call.Method,
			Params:    decision.Call.Params,
			StartedAt: time.Now().UTC(),
		}

		result, callErr := e.client.Call(ctx, step.Method, step.Params)
		step.FinishedAt = time.Now().UTC()

		if callErr != nil {
			goalSteps.WithLabelValues(step.Method, "error").Inc()
			step.Error = callErr.Error()
			ec.Steps = append(ec.Steps, step)
			if err := e.store.SaveContext(ctx, ec); err != nil {
				return fmt.Errorf("failed to persist failed step: %w", err)
			}
			e.fail(ctx, ec, fmt.Sprintf("call %s failed: %v", step.Method, callErr))
			return nil
		}

		goalSteps.WithLabelValues(step.Method, "success").Inc()
		step.Result = result
		ec.Steps = append(ec.Steps, step)
		ec.UpdatedAt = step.FinishedAt

		// The step must be durable before the loop continues.
		if err := e.store.SaveContext(ctx, ec); err != nil {
			return fmt.Errorf("failed to persist step %d: %w", step.Index, err)
		}

		for _, predicate := range e.predicates {
			if trip, reason := predicate(step); trip {
				return e.pause(ctx, ec, reason)
			}
		}
		if confidence, ok := confidenceFrom(result); ok && confidence < e.cfg.ConfidenceCutoff {
			return e.pause(ctx, ec, fmt.Sprintf("confidence %.2f below threshold %.2f on %s",
				confidence, e.cfg.ConfidenceCutoff, step.Method))
		}
	}
	return nil
}

func (e *Engine) pause(ctx context.Context, ec *ExecutionContext, reason string) error {
	if err := ec.Transition(StatePaused); err != nil {
		return err
	}
	ec.PauseReason = reason
	if err := e.store.SaveContext(ctx, ec); err != nil {
		return fmt.Errorf("failed to persist pause: %w", err)
	}
	goalOutcomes.WithLabelValues("paused").Inc()
	e.audit(ctx, ec, "goal_paused", map[string]interface{}{"reason": reason})
	e.log.Warn(ec.AgentID, ec.GoalID, "Goal execution paused for review", map[string]interface{}{"reason": reason})
	return nil
}

func (e *Engine) fail(ctx context.Context, ec *ExecutionContext, reason string) {
	if err := ec.Transition(StateFailed); err != nil {
		e.log.Error(ec.AgentID, ec.GoalID, "Failed to mark goal failed", map[string]interface{}{"error": err.Error()})
		return
	}
	ec.FailureReason = reason
	if err := e.store.SaveContext(ctx, ec); err != nil {
		e.log.Error(ec.AgentID, ec.GoalID, "Failed to persist goal failure", map[string]interface{}{"error": err.Error()})
	}
	goalOutcomes.WithLabelValues("failed").Inc()
	e.audit(ctx, ec, "goal_failed", map[string]interface{}{"reason": reason})
	e.log.Error(ec.AgentID, ec.GoalID, "Goal execution failed", map[string]interface{}{"reason": reason})
}

// audit writes the durable audit row; a failed audit write is logged
// but never fails the run.
func (e *Engine) audit(ctx context.Context, ec *ExecutionContext, event string, detail map[string]interface{}) {
	if err := e.store.WriteAudit(ctx, ec.GoalID, event, detail); err != nil {
		e.log.Error(ec.AgentID, ec.GoalID, "Failed to write audit event", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
	}
}
