package domain

import "time"

// Metric types stored in metric_snapshots.
const (
	MetricDecisionVelocity     = "DECISION_VELOCITY"
	MetricOutcomeVelocity      = "OUTCOME_VELOCITY"
	MetricHypothesisThroughput = "HYPOTHESIS_THROUGHPUT"
)

// Event types stored in analytics_events.
const (
	EventProgramCreated       = "PROGRAM_CREATED"
	EventProgramStatusChanged = "PROGRAM_STATUS_CHANGED"
	EventWorkstreamCreated    = "WORKSTREAM_CREATED"
	EventWorkstreamStatus     = "WORKSTREAM_STATUS_CHANGED"
	EventSpecCreated          = "SPEC_CREATED"
	EventSpecStatusChanged    = "SPEC_STATUS_CHANGED"
	EventSpecApproved         = "SPEC_APPROVED"
	EventTicketCreated        = "TICKET_CREATED"
	EventTicketResolved       = "TICKET_RESOLVED"
	EventTicketAssigned       = "TICKET_ASSIGNED"
)

// Hypothesis results.
const (
	ResultValidated   = "VALIDATED"
	ResultInvalidated = "INVALIDATED"
)

// DecisionCycle is the immutable fact record for one resolved decision.
// (tenant_id, decision_id) is unique; a second insert for the same decision
// id is the idempotency backstop.
type DecisionCycle struct {
	ID             string  `json:"id"`
	TenantID       string  `json:"tenant_id"`
	ProjectID      string  `json:"project_id,omitempty"`
	DecisionID     string  `json:"decision_id"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
	ResolvedAt     string  `json:"resolved_at" format:"date-time"`
	CycleTimeHours float64 `json:"cycle_time_hours"`
	Priority       string  `json:"priority,omitempty"`
	DecisionType   string  `json:"decision_type,omitempty"`
	WasEscalated   bool    `json:"was_escalated"`
	StakeholderID  string  `json:"stakeholder_id,omitempty"`
}

// AnalyticsEvent is the append-only projection for lifecycle events that need
// no derived math (programs, workstreams, specs, tickets).
type AnalyticsEvent struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	EventType  string         `json:"event_type"`
	EntityID   string         `json:"entity_id"`
	ParentID   string         `json:"parent_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	EventTS    string         `json:"event_ts" format:"date-time"`
	RecordedAt string         `json:"recorded_at" format:"date-time"`
}

// MetricSnapshot is the mutable daily aggregate for one
// (tenant, metric type, date). Updates are merges, never blind overwrites of
// unrelated dimensions, except the decision-velocity full-day recompute.
type MetricSnapshot struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenant_id"`
	ProjectID  string             `json:"project_id,omitempty"`
	MetricType string             `json:"metric_type"`
	MetricDate string             `json:"metric_date" format:"date"`
	Value      float64            `json:"value"`
	Dimensions map[string]float64 `json:"dimensions,omitempty"`
	CreatedAt  string             `json:"created_at" format:"date-time"`
}

// DateOf maps an event timestamp to its UTC calendar date (the snapshot key).
func DateOf(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}
