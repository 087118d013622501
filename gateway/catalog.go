// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"encoding/json"
	"sort"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BackendKind identifies which invoker executes a capability.
type BackendKind string

const (
	// BackendProcedure routes the call to a named stored procedure
	// over the pooled database connection.
	BackendProcedure BackendKind = "procedure"
	// BackendInProcess routes the call to a locally registered function.
	BackendInProcess BackendKind = "in_process"
)

// CapabilityDescriptor maps a (service, methodKey) pair to its backend.
// Descriptors are immutable once a snapshot is built; reload replaces the
// whole snapshot rather than mutating rows in place.
type CapabilityDescriptor struct {
	Service     string          `json:"service"`
	MethodKey   string          `json:"method_key"`
	BackendKind BackendKind     `json:"backend_kind"`
	BackendRef  string          `json:"backend_ref"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Active      bool            `json:"active"`

	compiledSchema *jsonschema.Schema
}

// Method returns the dotted method name for this descriptor.
func (d *CapabilityDescriptor) Method() string {
	return d.Service + "." + d.MethodKey
}

// AccessRule grants one caller one method. Absence of a rule means deny.
type AccessRule struct {
	CallerID      string `json:"caller_id"`
	AllowedMethod string `json:"allowed_method"`
	Active        bool   `json:"active"`
}

// ConfigSnapshot is an immutable view of the active catalog and ACL.
// The dispatcher captures one snapshot per request, so a reload can never
// expose a half-updated configuration to an in-flight call.
type ConfigSnapshot struct {
	Version  int64
	LoadedAt time.Time

	capabilities map[string]*CapabilityDescriptor
	allowed      map[string]map[string]struct{}
}

// NewConfigSnapshot builds a snapshot from active descriptors and rules.
// Inactive entries are dropped here so lookups never have to re-check.
func NewConfigSnapshot(version int64, descriptors []*CapabilityDescriptor, rules []AccessRule) *ConfigSnapshot {
	snap := &ConfigSnapshot{
		Version:      version,
		LoadedAt:     time.Now().UTC(),
		capabilities: make(map[string]*CapabilityDescriptor, len(descriptors)),
		allowed:      make(map[string]map[string]struct{}),
	}

	for _, d := range descriptors {
		if !d.Active {
			continue
		}
		snap.capabilities[d.Method()] = d
	}

	for _, r := range rules {
		if !r.Active {
			continue
		}
		methods, ok := snap.allowed[r.CallerID]
		if !ok {
			methods = make(map[string]struct{})
			snap.allowed[r.CallerID] = methods
		}
		methods[r.AllowedMethod] = struct{}{}
	}

	return snap
}

// Lookup resolves a method name against the active catalog.
func (s *ConfigSnapshot) Lookup(service, methodKey string) (*CapabilityDescriptor, bool) {
	d, ok := s.capabilities[service+"."+methodKey]
	return d, ok
}

// Allowed reports whether the caller may invoke the method. Deny by
// default: a caller with no rules is denied everything.
func (s *ConfigSnapshot) Allowed(callerID, method string) bool {
	methods, ok := s.allowed[callerID]
	if !ok {
		return false
	}
	_, ok = methods[method]
	return ok
}

// MethodsFor returns the active descriptors the caller may invoke,
// used by the discovery endpoint. Methods granted in the ACL but absent
// from the catalog are skipped.
func (s *ConfigSnapshot) MethodsFor(callerID string) []*CapabilityDescriptor {
	methods, ok := s.allowed[callerID]
	if !ok {
		return nil
	}

	descriptors := make([]*CapabilityDescriptor, 0, len(methods))
	for method := range methods {
		if d, exists := s.capabilities[method]; exists {
			descriptors = append(descriptors, d)
		}
	}
	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].Method() < descriptors[j].Method()
	})
	return descriptors
}

// CapabilityCount returns the number of active capabilities.
func (s *ConfigSnapshot) CapabilityCount() int {
	return len(s.capabilities)
}

// CallerCount returns the number of callers with at least one grant.
func (s *ConfigSnapshot) CallerCount() int {
	return len(s.allowed)
}

// SnapshotHolder publishes the current ConfigSnapshot through an atomic
// pointer. Reads never take a lock; reload is copy-then-swap.
type SnapshotHolder struct {
	ptr atomic.Pointer[ConfigSnapshot]
}

// NewSnapshotHolder creates a holder publishing the given snapshot.
func NewSnapshotHolder(snap *ConfigSnapshot) *SnapshotHolder {
	h := &SnapshotHolder{}
	h.ptr.Store(snap)
	return h
}

// Current returns the currently published snapshot.
func (h *SnapshotHolder) Current() *ConfigSnapshot {
	return h.ptr.Load()
}

// Swap atomically publishes a new snapshot. Requests that captured the
// previous snapshot keep using it until they finish.
func (h *SnapshotHolder) Swap(snap *ConfigSnapshot) {
	h.ptr.Store(snap)
}
