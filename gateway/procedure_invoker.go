// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"strings"

	"github.com/lib/pq"
)

// backendRefPattern restricts procedure names to plain SQL identifiers.
// Backend refs come from the trusted catalog, but the invoker still
// refuses anything that could not be a procedure name.
var backendRefPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ErrInvalidBackendRef is returned for a backend ref that is not a
// valid procedure identifier.
var ErrInvalidBackendRef = errors.New("backend ref is not a valid procedure name")

// ProcedureInvoker executes named stored procedures over a bounded
// connection pool, passing the request params as one JSONB argument.
// Caller-supplied values are never interpolated into the statement.
//
// Pools fronted by pgbouncer in transaction mode invalidate client-side
// prepared statements when a session lands on a different physical
// connection. EnsurePoolCompatibleDSN disables extended-protocol
// statement caching, and Invoke retries exactly once on a fresh
// session when the stale-statement failure class still shows up.
type ProcedureInvoker struct {
	db       *sql.DB
	breakers *BreakerSet
}

// NewProcedureInvoker creates a procedure invoker on an existing pool.
// The pool handle is borrowed: its lifetime belongs to the caller.
func NewProcedureInvoker(db *sql.DB, breakers *BreakerSet) *ProcedureInvoker {
	return &ProcedureInvoker{db: db, breakers: breakers}
}

// EnsurePoolCompatibleDSN appends binary_parameters=yes to a postgres
// DSN so lib/pq stops using named prepared statements. Without this, a
// statement prepared on one pgbouncer-proxied connection fails with
// "prepared statement does not exist" when the next call lands on a
// different backend connection.
func EnsurePoolCompatibleDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
		if strings.Contains(dsn, "binary_parameters") {
			return dsn
		}
		if dsn == "" {
			return "binary_parameters=yes"
		}
		return dsn + " binary_parameters=yes"
	}

	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	q := u.Query()
	if q.Get("binary_parameters") == "" {
		q.Set("binary_parameters", "yes")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Invoke executes the named procedure with params marshaled to a single
// JSONB argument. The per-call deadline arrives on ctx; the pooled
// connection is released on every exit path including timeout.
func (p *ProcedureInvoker) Invoke(ctx context.Context, backendRef string, params map[string]interface{}) (interface{}, error) {
	if !backendRefPattern.MatchString(backendRef) {
		return nil, &BackendError{Kind: KindBackendProcedure, Message: "invalid procedure reference", Err: ErrInvalidBackendRef}
	}

	breaker := p.breakers.Get(backendRef)
	if !breaker.Allow() {
		return nil, &BackendError{
			Kind:    KindCircuitOpen,
			Message: fmt.Sprintf("circuit open for procedure %s", backendRef),
		}
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, &BackendError{Kind: KindBackendProcedure, Message: "failed to encode params", Err: err}
	}

	result, err := p.call(ctx, backendRef, payload)
	if err != nil && isStaleStatementError(err) && ctx.Err() == nil {
		// One transparent retry on a fresh session. Repeated failures
		// feed the breaker instead of retry loops.
		log.Printf("Stale prepared statement calling %s, retrying on a fresh connection: %v", backendRef, err)
		result, err = p.callFresh(ctx, backendRef, payload)
	}

	if err != nil {
		breaker.RecordFailure()
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &BackendError{
			Kind:    KindBackendProcedure,
			Message: fmt.Sprintf("procedure %s failed", backendRef),
			Err:     err,
		}
	}

	breaker.RecordSuccess()
	return result, nil
}

// call runs the procedure on whatever pooled connection is free.
func (p *ProcedureInvoker) call(ctx context.Context, backendRef string, payload []byte) (interface{}, error) {
	query := fmt.Sprintf("SELECT %s($1::jsonb)", pq.QuoteIdentifier(backendRef))

	var raw []byte
	if err := p.db.QueryRowContext(ctx, query, payload).Scan(&raw); err != nil {
		return nil, err
	}
	return normalizeProcedureResult(raw)
}

// callFresh pins a dedicated session for the retry so it cannot reuse
// whatever cached state poisoned the previous attempt.
func (p *ProcedureInvoker) callFresh(ctx context.Context, backendRef string, payload []byte) (interface{}, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	// The pool can hand back the connection that just failed. The ping
	// forces a round trip so a dead session is discarded and replaced
	// before the retry runs.
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		conn, err = p.db.Conn(ctx)
		if err != nil {
			return nil, err
		}
	}
	defer func() { _ = conn.Close() }()

	query := fmt.Sprintf("SELECT %s($1::jsonb)", pq.QuoteIdentifier(backendRef))

	var raw []byte
	if err := conn.QueryRowContext(ctx, query, payload).Scan(&raw); err != nil {
		return nil, err
	}
	return normalizeProcedureResult(raw)
}

// normalizeProcedureResult decodes the procedure's JSONB return value.
// Some procedures return their JSON wrapped in a string; those are
// unwrapped so callers always see a structured value.
func normalizeProcedureResult(raw []byte) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var result interface{}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("procedure returned invalid JSON: %w", err)
	}

	if s, ok := result.(string); ok {
		var nested interface{}
		if err := json.Unmarshal([]byte(s), &nested); err == nil {
			return nested, nil
		}
	}

	return result, nil
}

// isStaleStatementError matches the failure class produced when a
// prepared statement handle outlives its physical backend connection.
func isStaleStatementError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case "26000", // invalid_sql_statement_name
			"0A000", // feature_not_supported (pgbouncer prepared statements)
			"08S01": // bad connection after backend switch
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "prepared statement") &&
		(strings.Contains(msg, "does not exist") || strings.Contains(msg, "already exists"))
}
