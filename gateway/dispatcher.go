// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"agentgate/platform/shared/logger"
)

var (
	rpcCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rpc_calls_total",
			Help: "Total RPC calls by method and outcome",
		},
		[]string{"method", "outcome"},
	)
	rpcErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rpc_errors_total",
			Help: "Total RPC errors by kind",
		},
		[]string{"kind"},
	)
	rpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_rpc_duration_seconds",
			Help:    "RPC call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(rpcCallsTotal)
	prometheus.MustRegister(rpcErrorsTotal)
	prometheus.MustRegister(rpcDuration)
}

// Dispatcher routes validated JSON-RPC calls to their backend. It reads
// a single configuration snapshot per call, so a concurrent reload never
// mixes old and new catalog state within one request.
type Dispatcher struct {
	snapshots   *SnapshotHolder
	invokers    map[BackendKind]Invoker
	callTimeout time.Duration
	log         *logger.Logger
}

// NewDispatcher wires the dispatch pipeline. Invokers are keyed by the
// backend kind recorded in the catalog.
func NewDispatcher(snapshots *SnapshotHolder, invokers map[BackendKind]Invoker, callTimeout time.Duration, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		snapshots:   snapshots,
		invokers:    invokers,
		callTimeout: callTimeout,
		log:         log,
	}
}

// Dispatch runs one JSON-RPC call through the full pipeline: envelope
// check, method resolution, authorization, parameter validation, backend
// invocation, and result validation. It always returns a response; errors
// never surface as anything other than a JSON-RPC error member.
func (d *Dispatcher) Dispatch(ctx context.Context, callerID string, req *RPCRequest) *RPCResponse {
	started := time.Now()
	requestID := uuid.New().String()

	resp := d.dispatch(ctx, callerID, requestID, req)

	durationMS := float64(time.Since(started).Microseconds()) / 1000.0
	rpcDuration.WithLabelValues(req.Method).Observe(time.Since(started).Seconds())

	if resp.Error != nil {
		if resp.Error.Data == nil {
			resp.Error.Data = &RPCErrorData{Kind: KindInternal}
		}
		resp.Error.Data.RequestID = requestID
		rpcCallsTotal.WithLabelValues(req.Method, "error").Inc()
		rpcErrorsTotal.WithLabelValues(resp.Error.Kind()).Inc()
		d.log.ErrorWithKind(callerID, requestID, "RPC call failed", resp.Error.Kind(), resp.Error, map[string]interface{}{
			"method":      req.Method,
			"code":        resp.Error.Code,
			"duration_ms": durationMS,
		})
		return resp
	}

	rpcCallsTotal.WithLabelValues(req.Method, "success").Inc()
	d.log.InfoWithDuration(callerID, requestID, "RPC call completed", durationMS, map[string]interface{}{
		"method": req.Method,
	})
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, callerID, requestID string, req *RPCRequest) *RPCResponse {
	if req.JSONRPC != "2.0" {
		return newErrorResponse(req.ID, NewRPCError(CodeInvalidRequest, KindProtocol, "jsonrpc must be \"2.0\""))
	}
	if req.Method == "" {
		return newErrorResponse(req.ID, NewRPCError(CodeInvalidRequest, KindProtocol, "method is required"))
	}

	service, methodKey, err := ParseMethod(req.Method)
	if err != nil {
		return newErrorResponse(req.ID, NewRPCError(CodeMethodNotFound, KindMethodNotFound, err.Error()))
	}

	// One snapshot for the whole call. A reload swapping in a new catalog
	// mid-flight does not affect requests already past this line.
	snap := d.snapshots.Current()

	desc, found := snap.Lookup(service, methodKey)
	if !found {
		return newErrorResponse(req.ID, NewRPCError(CodeMethodNotFound, KindMethodNotFound, "method not found: "+req.Method))
	}

	if !snap.Allowed(callerID, desc.Method()) {
		return newErrorResponse(req.ID, NewRPCError(CodeUnauthorized, KindAuthorizationDeny, "agent not authorized for method: "+req.Method))
	}

	params, err := validateParams(desc, req.Params)
	if err != nil {
		return newErrorResponse(req.ID, NewRPCError(CodeInvalidParams, KindInvalidParams, err.Error()))
	}

	if err := hardenParams(desc.Method(), params); err != nil {
		return newErrorResponse(req.ID, NewRPCError(CodeInvalidParams, KindInvalidParams, err.Error()))
	}

	invoker, ok := d.invokers[desc.BackendKind]
	if !ok {
		d.log.Error(callerID, requestID, "No invoker registered for backend kind", map[string]interface{}{
			"backend_kind": string(desc.BackendKind),
			"method":       req.Method,
		})
		return newErrorResponse(req.ID, NewRPCError(CodeInternalError, KindInternal, "backend unavailable"))
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()

	result, err := invoker.Invoke(callCtx, desc.BackendRef, params)
	if err != nil {
		return newErrorResponse(req.ID, d.translateBackendError(err))
	}

	if desc.BackendKind == BackendProcedure {
		if err := validateProcedureResult(desc.Method(), result); err != nil {
			d.log.ErrorWithKind(callerID, requestID, "Backend result failed validation", KindBackendProcedure, err, map[string]interface{}{
				"method": req.Method,
			})
			return newErrorResponse(req.ID, NewRPCError(CodeInternalError, KindBackendProcedure, "backend returned malformed result"))
		}
	}

	return newResultResponse(req.ID, result)
}

// translateBackendError maps invoker failures onto the JSON-RPC error
// space. Internal detail is kept out of messages sent back to agents.
func (d *Dispatcher) translateBackendError(err error) *RPCError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewRPCError(CodeTimeout, KindTimeout, "call timed out")
	}
	if errors.Is(err, context.Canceled) {
		return NewRPCError(CodeTimeout, KindTimeout, "call canceled")
	}

	if be, ok := AsBackendError(err); ok {
		switch be.Kind {
		case KindCircuitOpen:
			return NewRPCError(CodeServiceUnavailable, KindCircuitOpen, "backend temporarily unavailable")
		case KindBackendInProcess:
			return NewRPCError(CodeInternalError, KindBackendInProcess, be.Message)
		default:
			return NewRPCError(CodeInternalError, KindBackendProcedure, "backend call failed")
		}
	}

	return NewRPCError(CodeInternalError, KindInternal, "internal error")
}

// DecodeRequest parses the raw body of an RPC call. A body that is not
// valid JSON maps to the parse error code rather than invalid request.
func DecodeRequest(body []byte) (*RPCRequest, *RPCError) {
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, NewRPCError(CodeParseError, KindProtocol, "request body is not valid JSON")
	}
	return &req, nil
}
