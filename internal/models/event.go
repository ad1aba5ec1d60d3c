package models

import "time"

// Severity is the level of an event record.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityError Severity = "ERROR"
)

// Category classifies an event for subscriber-side filtering.
type Category string

const (
	CategoryCommand  Category = "command"
	CategoryAuth     Category = "auth"
	CategoryProtocol Category = "protocol"
	CategoryRobot    Category = "robot"
	CategoryAudit    Category = "audit"
)

// Event is an append-only record published to the event bus (spec §3).
type Event struct {
	TraceID   string                 `json:"trace_id"`
	Timestamp time.Time              `json:"timestamp"`
	Severity  Severity               `json:"severity"`
	Category  Category               `json:"category"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}
