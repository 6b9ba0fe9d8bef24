package domain

import "time"

// Topic names, one per event kind, matching the producing platform.
const (
	TopicDecisionResolved  = "core.decision.resolved"
	TopicOutcomeValidated  = "core.outcome.validated"
	TopicOutcomeInvalid    = "core.outcome.invalidated"
	TopicHypothesisDone    = "core.hypothesis.concluded"
	TopicProgramCreated    = "core.program.created"
	TopicProgramStatus     = "core.program.status-changed"
	TopicWorkstreamCreated = "core.workstream.created"
	TopicWorkstreamStatus  = "core.workstream.status-changed"
	TopicSpecCreated       = "core.specification.created"
	TopicSpecStatus        = "core.specification.status-changed"
	TopicSpecApproved      = "core.specification.approved"
	TopicTicketCreated     = "core.ticket.created"
	TopicTicketResolved    = "core.ticket.resolved"
	TopicTicketAssigned    = "core.ticket.assigned"
)

// Topics lists every subscribed topic.
func Topics() []string {
	return []string{
		TopicDecisionResolved,
		TopicOutcomeValidated,
		TopicOutcomeInvalid,
		TopicHypothesisDone,
		TopicProgramCreated,
		TopicProgramStatus,
		TopicWorkstreamCreated,
		TopicWorkstreamStatus,
		TopicSpecCreated,
		TopicSpecStatus,
		TopicSpecApproved,
		TopicTicketCreated,
		TopicTicketResolved,
		TopicTicketAssigned,
	}
}

// Event payloads as published by the core platform. Timestamps are assigned
// by the producer, never by this engine, so replays are deterministic.

type DecisionResolvedEvent struct {
	TenantID      string    `json:"tenant_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	DecisionID    string    `json:"decision_id"`
	Title         string    `json:"title,omitempty"`
	Priority      string    `json:"priority,omitempty"`
	DecisionType  string    `json:"decision_type,omitempty"`
	ResolvedBy    string    `json:"resolved_by,omitempty"`
	StakeholderID string    `json:"stakeholder_id,omitempty"`
	WasEscalated  bool      `json:"was_escalated,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ResolvedAt    time.Time `json:"resolved_at"`
}

type OutcomeValidatedEvent struct {
	TenantID    string    `json:"tenant_id,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	OutcomeID   string    `json:"outcome_id"`
	Title       string    `json:"title,omitempty"`
	ValidatedBy string    `json:"validated_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ValidatedAt time.Time `json:"validated_at"`
}

type OutcomeInvalidatedEvent struct {
	TenantID      string    `json:"tenant_id,omitempty"`
	ProjectID     string    `json:"project_id,omitempty"`
	OutcomeID     string    `json:"outcome_id"`
	Title         string    `json:"title,omitempty"`
	InvalidatedBy string    `json:"invalidated_by,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	InvalidatedAt time.Time `json:"invalidated_at"`
}

type HypothesisConcludedEvent struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	ProjectID    string    `json:"project_id,omitempty"`
	HypothesisID string    `json:"hypothesis_id"`
	OutcomeID    string    `json:"outcome_id,omitempty"`
	Result       string    `json:"result" enum:"VALIDATED,INVALIDATED"`
	CreatedAt    time.Time `json:"created_at"`
	ConcludedAt  time.Time `json:"concluded_at"`
}

type ProgramCreatedEvent struct {
	TenantID    string    `json:"tenant_id,omitempty"`
	ProgramID   string    `json:"program_id"`
	Name        string    `json:"name,omitempty"`
	Status      string    `json:"status,omitempty"`
	CreatedByID string    `json:"created_by_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type ProgramStatusChangedEvent struct {
	TenantID    string    `json:"tenant_id,omitempty"`
	ProgramID   string    `json:"program_id"`
	OldStatus   string    `json:"old_status,omitempty"`
	NewStatus   string    `json:"new_status"`
	ChangedByID string    `json:"changed_by_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

type WorkstreamCreatedEvent struct {
	TenantID      string    `json:"tenant_id,omitempty"`
	WorkstreamID  string    `json:"workstream_id"`
	ProgramID     string    `json:"program_id,omitempty"`
	Name          string    `json:"name,omitempty"`
	Mode          string    `json:"mode,omitempty"`
	ExecutionMode string    `json:"execution_mode,omitempty"`
	CreatedByID   string    `json:"created_by_id,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type WorkstreamStatusChangedEvent struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	WorkstreamID string    `json:"workstream_id"`
	OldStatus    string    `json:"old_status,omitempty"`
	NewStatus    string    `json:"new_status"`
	ChangedByID  string    `json:"changed_by_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type SpecificationCreatedEvent struct {
	TenantID        string    `json:"tenant_id,omitempty"`
	SpecificationID string    `json:"specification_id"`
	WorkstreamID    string    `json:"workstream_id,omitempty"`
	ProgramID       string    `json:"program_id,omitempty"`
	Name            string    `json:"name,omitempty"`
	AuthorID        string    `json:"author_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type SpecificationStatusChangedEvent struct {
	TenantID        string    `json:"tenant_id,omitempty"`
	SpecificationID string    `json:"specification_id"`
	OldStatus       string    `json:"old_status,omitempty"`
	NewStatus       string    `json:"new_status"`
	ChangedByID     string    `json:"changed_by_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type SpecificationApprovedEvent struct {
	TenantID        string    `json:"tenant_id,omitempty"`
	SpecificationID string    `json:"specification_id"`
	ApprovedByID    string    `json:"approved_by_id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

type TicketCreatedEvent struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	TicketID     string    `json:"ticket_id"`
	WorkstreamID string    `json:"workstream_id,omitempty"`
	Type         string    `json:"type,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	ReportedByID string    `json:"reported_by_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type TicketResolvedEvent struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	TicketID     string    `json:"ticket_id"`
	Resolution   string    `json:"resolution,omitempty"`
	ResolvedByID string    `json:"resolved_by_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

type TicketAssignedEvent struct {
	TenantID     string    `json:"tenant_id,omitempty"`
	TicketID     string    `json:"ticket_id"`
	AssignedToID string    `json:"assigned_to_id,omitempty"`
	AssignedByID string    `json:"assigned_by_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
