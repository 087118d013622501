// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store persists the capability catalog and ACL in PostgreSQL. The
// dispatcher never reads these tables directly; it reads snapshots
// produced by LoadSnapshot.
type Store struct {
	db *sql.DB
}

// NewStore creates a catalog store on an existing connection pool.
// The pool's lifetime is owned by the caller.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the catalog and ACL tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS capability_catalog (
		service_name VARCHAR(100) NOT NULL,
		method_key   VARCHAR(200) NOT NULL,
		backend_kind VARCHAR(20)  NOT NULL,
		backend_ref  VARCHAR(200) NOT NULL,
		description  TEXT,
		input_schema JSONB,
		is_active    BOOLEAN NOT NULL DEFAULT true,
		updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (service_name, method_key)
	);

	CREATE TABLE IF NOT EXISTS access_rules (
		agent_id       VARCHAR(100) NOT NULL,
		allowed_method VARCHAR(300) NOT NULL,
		is_active      BOOLEAN NOT NULL DEFAULT true,
		updated_at     TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (agent_id, allowed_method)
	);

	CREATE INDEX IF NOT EXISTS idx_capability_catalog_active ON capability_catalog(is_active);
	CREATE INDEX IF NOT EXISTS idx_access_rules_agent ON access_rules(agent_id, is_active);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// SyncRegistry regenerates catalog and ACL rows from the capability
// registry inside a single transaction. Entries no longer declared are
// marked inactive, never deleted, so the audit trail stays intact. A
// failed sync leaves the persisted configuration untouched.
func (s *Store) SyncRegistry(ctx context.Context, reg *Registry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin sync transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Deactivate everything first; the upserts below reactivate whatever
	// the registry still declares. Undeclared rows stay inactive.
	if _, err := tx.ExecContext(ctx, `UPDATE capability_catalog SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE is_active = true`); err != nil {
		return fmt.Errorf("failed to deactivate catalog rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE access_rules SET is_active = false, updated_at = CURRENT_TIMESTAMP WHERE is_active = true`); err != nil {
		return fmt.Errorf("failed to deactivate access rules: %w", err)
	}

	upsertCapability := `
		INSERT INTO capability_catalog (service_name, method_key, backend_kind, backend_ref, description, input_schema, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, CURRENT_TIMESTAMP)
		ON CONFLICT (service_name, method_key) DO UPDATE SET
			backend_kind = EXCLUDED.backend_kind,
			backend_ref  = EXCLUDED.backend_ref,
			description  = EXCLUDED.description,
			input_schema = EXCLUDED.input_schema,
			is_active    = true,
			updated_at   = CURRENT_TIMESTAMP`

	upsertRule := `
		INSERT INTO access_rules (agent_id, allowed_method, is_active, updated_at)
		VALUES ($1, $2, true, CURRENT_TIMESTAMP)
		ON CONFLICT (agent_id, allowed_method) DO UPDATE SET
			is_active  = true,
			updated_at = CURRENT_TIMESTAMP`

	for _, c := range reg.Capabilities() {
		service, methodKey, err := ParseMethod(c.Method)
		if err != nil {
			return err
		}

		var schema interface{}
		if len(c.InputSchema) > 0 {
			schema = []byte(c.InputSchema)
		}

		if _, err := tx.ExecContext(ctx, upsertCapability, service, methodKey, string(c.BackendKind), c.BackendRef, c.Description, schema); err != nil {
			return fmt.Errorf("failed to upsert capability %s: %w", c.Method, err)
		}

		for _, caller := range c.AllowedCallers {
			if _, err := tx.ExecContext(ctx, upsertRule, caller, c.Method); err != nil {
				return fmt.Errorf("failed to upsert access rule %s -> %s: %w", caller, c.Method, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit registry sync: %w", err)
	}

	return nil
}

// LoadSnapshot reads the full active catalog and ACL and builds an
// immutable snapshot carrying the given version. Input schemas are
// compiled here so dispatch never pays compilation cost.
func (s *Store) LoadSnapshot(ctx context.Context, version int64) (*ConfigSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT service_name, method_key, backend_kind, backend_ref, COALESCE(description, ''), input_schema
		FROM capability_catalog
		WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to load capability catalog: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var descriptors []*CapabilityDescriptor
	for rows.Next() {
		d := &CapabilityDescriptor{Active: true}
		var schema sql.NullString
		if err := rows.Scan(&d.Service, &d.MethodKey, (*string)(&d.BackendKind), &d.BackendRef, &d.Description, &schema); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if schema.Valid && schema.String != "" {
			d.InputSchema = []byte(schema.String)
		}
		if err := compileInputSchema(d); err != nil {
			// A bad schema disables the capability rather than the
			// gateway: the descriptor is skipped and logged.
			log.Printf("Skipping capability %s: %v", d.Method(), err)
			continue
		}
		descriptors = append(descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading catalog rows: %w", err)
	}

	ruleRows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, allowed_method
		FROM access_rules
		WHERE is_active = true`)
	if err != nil {
		return nil, fmt.Errorf("failed to load access rules: %w", err)
	}
	defer func() { _ = ruleRows.Close() }()

	var rules []AccessRule
	for ruleRows.Next() {
		r := AccessRule{Active: true}
		if err := ruleRows.Scan(&r.CallerID, &r.AllowedMethod); err != nil {
			return nil, fmt.Errorf("failed to scan access rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := ruleRows.Err(); err != nil {
		return nil, fmt.Errorf("failed reading access rules: %w", err)
	}

	return NewConfigSnapshot(version, descriptors, rules), nil
}
