// Package audit contains domain types for bridge event recording.
package audit

import (
	"time"
)

// Sentinel tool names for events that are not tool calls.
const (
	// ToolResponse marks events produced while filtering responses.
	ToolResponse = "(response)"
	// ToolSystem marks lifecycle events of the bridge itself.
	ToolSystem = "(system)"
)

// AgentBridge is the agent reported for lifecycle events.
const AgentBridge = "bridge"

// EventRecord is an immutable fact about one notable occurrence: startup,
// an evaluated tool call, or a redaction finding.
type EventRecord struct {
	// Action is the verdict ("allow", "block", "redact", ...).
	Action string `json:"action"`
	// Tool is the tool name or one of the sentinel names.
	Tool string `json:"tool"`
	// Agent identifies the calling principal.
	Agent string `json:"agent"`
	// Reason is human-readable.
	Reason string `json:"reason"`
	// Severity is "low", "medium", "high" or "critical".
	Severity string `json:"severity"`
	// Stage is the policy stage that produced the event.
	Stage string `json:"stage"`
	// Timestamp is when the occurrence happened.
	Timestamp time.Time `json:"timestamp"`
	// SessionID correlates events of one bridge run.
	SessionID string `json:"session_id,omitempty"`
}

// Observer accepts event records. RecordEvent must not block the caller for
// long and must never fail it.
type Observer interface {
	RecordEvent(record EventRecord)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(EventRecord)

// RecordEvent calls f(record).
func (f ObserverFunc) RecordEvent(record EventRecord) { f(record) }

// NopObserver discards every record. Used when the observer is disabled or
// failed to start.
type NopObserver struct{}

// RecordEvent does nothing.
func (NopObserver) RecordEvent(EventRecord) {}
