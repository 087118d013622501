// Copyright 2025 AgentGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logger

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	DEBUG LogLevel = "DEBUG"
	INFO  LogLevel = "INFO"
	WARN  LogLevel = "WARN"
	ERROR LogLevel = "ERROR"
)

// Logger provides structured logging scoped to a service component.
// Every entry carries the calling agent identity and the request it
// belongs to, so gateway and orchestrator logs correlate end to end.
type Logger struct {
	Component  string
	InstanceID string
	Container  string
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp  string                 `json:"timestamp"`
	Level      LogLevel               `json:"level"`
	Component  string                 `json:"component"`
	InstanceID string                 `json:"instance_id"`
	Container  string                 `json:"container"`
	AgentID    string                 `json:"agent_id"`
	RequestID  string                 `json:"request_id,omitempty"`
	Message    string                 `json:"message"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

// New creates a new Logger for the specified component
func New(component string) *Logger {
	// Instance ID is set during deployment
	instanceID := os.Getenv("INSTANCE_ID")
	if instanceID == "" {
		instanceID = "unknown"
	}

	container, err := os.Hostname()
	if err != nil {
		container = "unknown"
	}

	return &Logger{
		Component:  component,
		InstanceID: instanceID,
		Container:  container,
	}
}

// Log creates a structured log entry and writes it to stdout
func (l *Logger) Log(level LogLevel, agentID, requestID, message string, fields map[string]interface{}) {
	entry := LogEntry{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		Level:      level,
		Component:  l.Component,
		InstanceID: l.InstanceID,
		Container:  l.Container,
		AgentID:    agentID,
		RequestID:  requestID,
		Message:    message,
		Fields:     fields,
	}

	jsonBytes, err := json.Marshal(entry)
	if err != nil {
		// Fallback to plain text if JSON marshaling fails
		log.Printf("ERROR: Failed to marshal log entry: %v", err)
		return
	}

	log.Println(string(jsonBytes))
}

// Info logs an informational message
func (l *Logger) Info(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(INFO, agentID, requestID, message, fields)
}

// Error logs an error message
func (l *Logger) Error(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(ERROR, agentID, requestID, message, fields)
}

// Warn logs a warning message
func (l *Logger) Warn(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(WARN, agentID, requestID, message, fields)
}

// Debug logs a debug message
func (l *Logger) Debug(agentID, requestID, message string, fields map[string]interface{}) {
	l.Log(DEBUG, agentID, requestID, message, fields)
}

// InfoWithDuration logs an info message with a duration field,
// used by the dispatcher for per-call latency entries.
func (l *Logger) InfoWithDuration(agentID, requestID, message string, durationMS float64, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["duration_ms"] = durationMS
	l.Info(agentID, requestID, message, fields)
}

// ErrorWithKind logs an error together with its machine-readable kind,
// matching the data.kind values returned to RPC callers.
func (l *Logger) ErrorWithKind(agentID, requestID, message, kind string, err error, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["kind"] = kind
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Error(agentID, requestID, message, fields)
}
