package metrics

import (
	"context"
	"fmt"
	"time"

	"metricline/internal/domain"
	"metricline/internal/repo"
)

// KnownMetric reports whether t is a stored metric type.
func KnownMetric(t string) bool {
	switch t {
	case domain.MetricDecisionVelocity, domain.MetricOutcomeVelocity, domain.MetricHypothesisThroughput:
		return true
	}
	return false
}

// Snapshots returns a tenant's daily rows for one metric over [from, to],
// oldest first.
func (s *Service) Snapshots(ctx context.Context, tenantID, metricType string, from, to time.Time) ([]domain.MetricSnapshot, error) {
	if !KnownMetric(metricType) {
		return nil, fmt.Errorf("unknown metric type %q", metricType)
	}
	return s.repo.ListSnapshotsRange(ctx, tenantID, metricType, domain.DateOf(from), domain.DateOf(to))
}

// WeeklyOutcomeTotal sums validated outcomes over the last seven days
// including today.
func (s *Service) WeeklyOutcomeTotal(ctx context.Context, tenantID string) (float64, error) {
	now := s.Now().UTC()
	return s.repo.SumSnapshotValues(ctx, tenantID, domain.MetricOutcomeVelocity,
		domain.DateOf(now.AddDate(0, 0, -6)), domain.DateOf(now))
}

// StakeholderCycleTimes ranks stakeholders by mean decision response time
// since the cutoff.
func (s *Service) StakeholderCycleTimes(ctx context.Context, tenantID string, since time.Time) ([]repo.StakeholderCycleTime, error) {
	return s.repo.AvgCycleTimeByStakeholder(ctx, tenantID, since)
}

// Cycle returns the fact row for one decision.
func (s *Service) Cycle(ctx context.Context, tenantID, decisionID string) (domain.DecisionCycle, error) {
	return s.repo.GetDecisionCycle(ctx, tenantID, decisionID)
}

// Events lists stored lifecycle events matching the filters.
func (s *Service) Events(ctx context.Context, f repo.EventFilters) ([]domain.AnalyticsEvent, error) {
	return s.repo.ListAnalyticsEvents(ctx, f)
}
