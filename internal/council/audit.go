package council

import "time"

// AuditEventType identifies the kind of audit event.
type AuditEventType string

const (
	// EventSessionCreated is emitted when a session is created.
	EventSessionCreated AuditEventType = "session_created"
	// EventStageStarted is emitted when a stage begins.
	EventStageStarted AuditEventType = "stage_started"
	// EventMemberFailed is emitted for each non-fatal per-member failure.
	EventMemberFailed AuditEventType = "member_failed"
	// EventDataQuality is emitted for clamped or repaired member output.
	EventDataQuality AuditEventType = "data_quality_warning"
	// EventSessionCompleted is emitted when a session completes.
	EventSessionCompleted AuditEventType = "session_completed"
	// EventSessionFailed is emitted when a session aborts.
	EventSessionFailed AuditEventType = "session_failed"
)

// AuditEvent is one fire-and-forget audit record.
type AuditEvent struct {
	Type      AuditEventType `json:"type"`
	SessionID string         `json:"session_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewAuditEvent creates an event stamped with the current UTC time.
func NewAuditEvent(typ AuditEventType, sessionID string, data map[string]any) AuditEvent {
	return AuditEvent{
		Type:      typ,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// SessionRecord is the full session artifact handed to the audit sink
// once a session reaches a terminal state.
type SessionRecord struct {
	ID        string           `json:"id"`
	Query     string           `json:"query"`
	State     SessionState     `json:"state"`
	Error     string           `json:"error,omitempty"`
	ErrorCode string           `json:"error_code,omitempty"`
	Responses []MemberResponse `json:"responses,omitempty"`
	Reviews   []ReviewResult   `json:"reviews,omitempty"`
	Ranking   ConsensusRanking `json:"ranking,omitempty"`
	Synthesis *SynthesisResult `json:"synthesis,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Completed time.Time        `json:"completed_at"`
}

// AuditSink receives audit events and terminal session records. Writes
// are fire-and-forget: implementations log their own failures and never
// propagate them into the pipeline.
type AuditSink interface {
	RecordEvent(event AuditEvent)
	RecordSession(record *SessionRecord)
}

// NopSink discards everything.
type NopSink struct{}

// RecordEvent discards the event.
func (NopSink) RecordEvent(AuditEvent) {}

// RecordSession discards the record.
func (NopSink) RecordSession(*SessionRecord) {}
