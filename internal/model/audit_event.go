package model

import "time"

// EventCategory groups audit events for retention and querying.
type EventCategory string

const (
	CategorySecurity    EventCategory = "security"
	CategoryOTP         EventCategory = "otp"
	CategoryPerformance EventCategory = "performance"
	CategoryError       EventCategory = "error"
	CategoryAudit       EventCategory = "audit"
)

// EventSeverity is the audit event severity scale.
type EventSeverity string

const (
	SeverityDebug    EventSeverity = "debug"
	SeverityInfo     EventSeverity = "info"
	SeverityWarn     EventSeverity = "warn"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent is an immutable, append-only audit record. PhoneMasked is
// set by the audit logger; no unmasked number ever reaches this struct.
type AuditEvent struct {
	EventID        string                 `json:"event_id" db:"event_id"`
	EventBucket    int                    `json:"-" db:"event_bucket"`
	EventDate      string                 `json:"event_date" db:"event_date"`
	Timestamp      time.Time              `json:"timestamp" db:"event_time"`
	EventType      string                 `json:"event_type" db:"event_type"`
	Category       EventCategory          `json:"category" db:"category"`
	Severity       EventSeverity          `json:"severity" db:"severity"`
	PhoneMasked    string                 `json:"phone_masked,omitempty" db:"phone_masked"`
	RequestID      string                 `json:"request_id,omitempty" db:"request_id"`
	Success        bool                   `json:"success" db:"success"`
	ResponseTimeMs int64                  `json:"response_time_ms" db:"response_time_ms"`
	EventData      map[string]interface{} `json:"event_data,omitempty" db:"event_data"`
}
