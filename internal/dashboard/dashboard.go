// Package dashboard assembles the per-tenant summary view: stored aggregates,
// lifecycle tallies and live numbers from the core platform, cached until the
// tenant's data changes.
package dashboard

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"metricline/internal/cache"
	"metricline/internal/client"
	"metricline/internal/domain"
	"metricline/internal/metrics"
	"metricline/internal/repo"
)

// terminalStatuses end an entity's active life for tally purposes.
var terminalStatuses = []string{"COMPLETED", "ARCHIVED", "CANCELLED", "REJECTED"}

type Summary struct {
	TenantID          string                  `json:"tenant_id"`
	AvgCycleTimeHours float64                 `json:"avg_cycle_time_hours"`
	EscalatedCount    int                     `json:"escalated_count"`
	OutcomesThisWeek  float64                 `json:"outcomes_this_week"`
	ActivePrograms    int                     `json:"active_programs"`
	ActiveWorkstreams int                     `json:"active_workstreams"`
	SpecsApproved     int                     `json:"specs_approved"`
	OpenTickets       int                     `json:"open_tickets"`
	TicketsResolved   int                     `json:"tickets_resolved"`
	PendingDecisions  int                     `json:"pending_decisions"`
	ActiveHypotheses  int                     `json:"active_hypotheses"`
	UrgentDecisions   []client.UrgentDecision `json:"urgent_decisions,omitempty"`
	CoreAvailable     bool                    `json:"core_available"`
	GeneratedAt       string                  `json:"generated_at" format:"date-time"`
}

type Service struct {
	repo    repo.Repo
	metrics *metrics.Service
	core    *client.Core
	cache   *cache.Tenant[Summary]
	now     func() time.Time
}

// New wires the summary service. core may be nil when no platform URL is
// configured; live numbers then stay at zero with CoreAvailable false.
func New(database *sql.DB, m *metrics.Service, core *client.Core, c *cache.Tenant[Summary]) *Service {
	return &Service{
		repo:    repo.Repo{DB: database},
		metrics: m,
		core:    core,
		cache:   c,
		now:     time.Now,
	}
}

// Summary returns the tenant's dashboard, served from cache when the tenant's
// aggregates have not changed since the last call.
func (s *Service) Summary(ctx context.Context, tenantID, projectID string) (Summary, error) {
	if s.cache != nil {
		if cached, ok := s.cache.Get(tenantID, projectID); ok {
			return cached, nil
		}
	}
	sum, err := s.build(ctx, tenantID, projectID)
	if err != nil {
		return Summary{}, err
	}
	if s.cache != nil {
		s.cache.Put(tenantID, projectID, sum)
	}
	return sum, nil
}

func (s *Service) build(ctx context.Context, tenantID, projectID string) (Summary, error) {
	now := s.now().UTC()
	monthAgo := now.AddDate(0, 0, -30)

	sum := Summary{TenantID: tenantID, GeneratedAt: now.Format(time.RFC3339)}

	avg, ok, err := s.repo.AvgCycleTimeSince(ctx, tenantID, projectID, monthAgo)
	if err != nil {
		return Summary{}, fmt.Errorf("avg cycle time: %w", err)
	}
	if ok {
		sum.AvgCycleTimeHours = math.Floor(avg*100+0.5) / 100
	}
	if sum.EscalatedCount, err = s.repo.CountEscalatedSince(ctx, tenantID, projectID, monthAgo); err != nil {
		return Summary{}, fmt.Errorf("escalations: %w", err)
	}
	if sum.OutcomesThisWeek, err = s.metrics.WeeklyOutcomeTotal(ctx, tenantID); err != nil {
		return Summary{}, fmt.Errorf("weekly outcomes: %w", err)
	}
	if sum.ActivePrograms, err = s.repo.CountActiveEntities(ctx, tenantID,
		domain.EventProgramCreated, domain.EventProgramStatusChanged, terminalStatuses); err != nil {
		return Summary{}, fmt.Errorf("active programs: %w", err)
	}
	if sum.ActiveWorkstreams, err = s.repo.CountActiveEntities(ctx, tenantID,
		domain.EventWorkstreamCreated, domain.EventWorkstreamStatus, terminalStatuses); err != nil {
		return Summary{}, fmt.Errorf("active workstreams: %w", err)
	}
	if sum.SpecsApproved, err = s.repo.CountEventsSince(ctx, tenantID, domain.EventSpecApproved, monthAgo); err != nil {
		return Summary{}, fmt.Errorf("approved specs: %w", err)
	}
	if sum.OpenTickets, err = s.repo.CountOpenEntities(ctx, tenantID,
		domain.EventTicketCreated, domain.EventTicketResolved); err != nil {
		return Summary{}, fmt.Errorf("open tickets: %w", err)
	}
	if sum.TicketsResolved, err = s.repo.CountEventsSince(ctx, tenantID, domain.EventTicketResolved, monthAgo); err != nil {
		return Summary{}, fmt.Errorf("resolved tickets: %w", err)
	}

	if s.core != nil {
		sum.PendingDecisions = s.core.PendingDecisionCount(ctx, tenantID)
		sum.ActiveHypotheses = s.core.ActiveHypothesisCount(ctx, tenantID)
		sum.UrgentDecisions = s.core.UrgentDecisions(ctx, tenantID)
		sum.CoreAvailable = s.core.Available()
	}
	return sum, nil
}
