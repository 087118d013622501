// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PostgresStore persists goal executions, their steps and the audit
// trail. Steps are written idempotently keyed by (goal_id, step_index)
// so a re-save after a crash never duplicates rows.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an existing pool. The pool's
// lifetime belongs to the caller.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the execution tables if they don't exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS goal_executions (
		goal_id         VARCHAR(36) PRIMARY KEY,
		agent_id        VARCHAR(100) NOT NULL,
		goal            JSONB NOT NULL,
		state           VARCHAR(20) NOT NULL,
		iteration_count INT NOT NULL DEFAULT 0,
		max_iterations  INT NOT NULL,
		pause_reason    TEXT,
		failure_reason  TEXT,
		review          JSONB,
		created_at      TIMESTAMP NOT NULL,
		updated_at      TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goal_steps (
		goal_id     VARCHAR(36) NOT NULL,
		step_index  INT NOT NULL,
		method      VARCHAR(300) NOT NULL,
		params      JSONB,
		result      JSONB,
		error       TEXT,
		started_at  TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		PRIMARY KEY (goal_id, step_index)
	);

	CREATE TABLE IF NOT EXISTS goal_audit (
		id         BIGSERIAL PRIMARY KEY,
		goal_id    VARCHAR(36) NOT NULL,
		event      VARCHAR(100) NOT NULL,
		detail     JSONB,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_goal_executions_state ON goal_executions(state);
	CREATE INDEX IF NOT EXISTS idx_goal_audit_goal ON goal_audit(goal_id);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// SaveContext upserts the execution row and all of its steps in one
// transaction. The engine calls this after every step, so the write has
// to succeed before the loop may proceed.
func (s *PostgresStore) SaveContext(ctx context.Context, ec *ExecutionContext) error {
	goal, err := json.Marshal(ec.Goal)
	if err != nil {
		return fmt.Errorf("failed to encode goal: %w", err)
	}
	var review interface{}
	if ec.Review != nil {
		data, err := json.Marshal(ec.Review)
		if err != nil {
			return fmt.Errorf("failed to encode review: %w", err)
		}
		review = data
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO goal_executions (goal_id, agent_id, goal, state, iteration_count, max_iterations, pause_reason, failure_reason, review, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (goal_id) DO UPDATE SET
			state           = EXCLUDED.state,
			iteration_count = EXCLUDED.iteration_count,
			pause_reason    = EXCLUDED.pause_reason,
			failure_reason  = EXCLUDED.failure_reason,
			review          = EXCLUDED.review,
			updated_at      = EXCLUDED.updated_at`,
		ec.GoalID, ec.AgentID, goal, ec.State, ec.IterationCount, ec.MaxIterations,
		nullIfEmpty(ec.PauseReason), nullIfEmpty(ec.FailureReason), review, ec.CreatedAt, ec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert goal execution: %w", err)
	}

	for _, step := range ec.Steps {
		params, err := json.Marshal(step.Params)
		if err != nil {
			return fmt.Errorf("failed to encode step params: %w", err)
		}
		var result interface{}
		if step.Result != nil {
			data, err := json.Marshal(step.Result)
			if err != nil {
				return fmt.Errorf("failed to encode step result: %w", err)
			}
			result = data
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO goal_steps (goal_id, step_index, method, params, result, error, started_at, finished_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (goal_id, step_index) DO UPDATE SET
				result      = EXCLUDED.result,
				error       = EXCLUDED.error,
				finished_at = EXCLUDED.finished_at`,
			ec.GoalID, step.Index, step.Method, params, result, nullIfEmpty(step.Error), step.StartedAt, step.FinishedAt)
		if err != nil {
			return fmt.Errorf("failed to upsert step %d: %w", step.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit goal save: %w", err)
	}
	return nil
}

// TransitionState moves a goal from one state to another only if it is
// still in the expected state, reporting whether this caller won. The
// single UPDATE makes the check-and-set atomic under concurrent
// reviewers.
func (s *PostgresStore) TransitionState(ctx context.Context, goalID, from, to string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE goal_executions SET state = $3, updated_at = CURRENT_TIMESTAMP
		WHERE goal_id = $1 AND state = $2`,
		goalID, from, to)
	if err != nil {
		return false, fmt.Errorf("failed to transition goal state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read transition result: %w", err)
	}
	return affected == 1, nil
}

// RunningGoals lists goals left in RUNNING state, oldest first. Used by
// startup recovery after a crash.
func (s *PostgresStore) RunningGoals(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT goal_id FROM goal_executions WHERE state = $1 ORDER BY updated_at`,
		StateRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to list running goals: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var goalIDs []string
	for rows.Next() {
		var goalID string
		if err := rows.Scan(&goalID); err != nil {
			return nil, fmt.Errorf("failed to scan goal id: %w", err)
		}
		goalIDs = append(goalIDs, goalID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading running goals: %w", err)
	}
	return goalIDs, nil
}

// LoadContext reads one execution with its steps in order.
func (s *PostgresStore) LoadContext(ctx context.Context, goalID string) (*ExecutionContext, error) {
	ec := &ExecutionContext{GoalID: goalID}
	var goal []byte
	var pauseReason, failureReason sql.NullString
	var review []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, goal, state, iteration_count, max_iterations, pause_reason, failure_reason, review, created_at, updated_at
		FROM goal_executions WHERE goal_id = $1`, goalID).
		Scan(&ec.AgentID, &goal, &ec.State, &ec.IterationCount, &ec.MaxIterations,
			&pauseReason, &failureReason, &review, &ec.CreatedAt, &ec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("goal %s not found", goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal execution: %w", err)
	}

	if err := json.Unmarshal(goal, &ec.Goal); err != nil {
		return nil, fmt.Errorf("failed to decode goal: %w", err)
	}
	ec.PauseReason = pauseReason.String
	ec.FailureReason = failureReason.String
	if len(review) > 0 {
		ec.Review = &ReviewDecision{}
		if err := json.Unmarshal(review, ec.Review); err != nil {
			return nil, fmt.Errorf("failed to decode review: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, method, params, result, error, started_at, finished_at
		FROM goal_steps WHERE goal_id = $1 ORDER BY step_index`, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var step ExecutionStep
		var params, result []byte
		var stepErr sql.NullString
		if err := rows.Scan(&step.Index, &step.Method, &params, &result, &stepErr, &step.StartedAt, &step.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		if len(params) > 0 {
			if err := json.Unmarshal(params, &step.Params); err != nil {
				return nil, fmt.Errorf("failed to decode step params: %w", err)
			}
		}
		if len(result) > 0 {
			if err := json.Unmarshal(result, &step.Result); err != nil {
				return nil, fmt.Errorf("failed to decode step result: %w", err)
			}
		}
		step.Error = stepErr.String
		ec.Steps = append(ec.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading steps: %w", err)
	}

	return ec, nil
}

// WriteAudit appends one audit event for a goal.
func (s *PostgresStore) WriteAudit(ctx context.Context, goalID, event string, detail map[string]interface{}) error {
	var data interface{}
	if detail != nil {
		encoded, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to encode audit detail: %w", err)
		}
		data = encoded
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO goal_audit (goal_id, event, detail) VALUES ($1, $2, $3)`,
		goalID, event, data)
	if err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
