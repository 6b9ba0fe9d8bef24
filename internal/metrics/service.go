// Package metrics turns platform events into decision-cycle facts and daily
// metric snapshots. All writes are transactional; replays of the same event
// leave the stored aggregates unchanged.
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"metricline/internal/db"
	"metricline/internal/domain"
	"metricline/internal/repo"
)

// ErrDuplicate marks an event whose effect is already recorded. Callers absorb
// it instead of retrying; redelivery of the same event is expected.
var ErrDuplicate = errors.New("already recorded")

// ErrInvalid marks an event that can never be processed. Redelivery cannot
// fix it, so callers drop instead of retrying.
var ErrInvalid = errors.New("invalid event")

// Cache is notified whenever a tenant's aggregates change.
type Cache interface {
	Invalidate(tenantID string)
}

type Service struct {
	db    *sql.DB
	repo  repo.Repo
	cache Cache

	// Now supplies the clock for recorded_at stamps and relative windows.
	Now func() time.Time
}

func NewService(database *sql.DB, cache Cache) *Service {
	return &Service{
		db:    database,
		repo:  repo.Repo{DB: database},
		cache: cache,
		Now:   time.Now,
	}
}

// round2 rounds half-up to two decimals, matching how cycle times and rates
// are presented everywhere downstream.
func round2(v float64) float64 {
	return math.Floor(v*100+0.5) / 100
}

func (s *Service) invalidate(tenantID string) {
	if s.cache != nil {
		s.cache.Invalidate(tenantID)
	}
}

// RecordDecisionResolved stores the immutable cycle fact and recomputes the
// whole DECISION_VELOCITY snapshot for the resolution day from the fact set.
// The mean is never updated incrementally, so replays and out-of-order
// arrivals converge to the same value.
func (s *Service) RecordDecisionResolved(ctx context.Context, ev domain.DecisionResolvedEvent) error {
	cycleHours := round2(ev.ResolvedAt.Sub(ev.CreatedAt).Hours())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cycle := domain.DecisionCycle{
		ID:             uuid.New().String(),
		TenantID:       ev.TenantID,
		ProjectID:      ev.ProjectID,
		DecisionID:     ev.DecisionID,
		CreatedAt:      ev.CreatedAt.UTC().Format(time.RFC3339),
		ResolvedAt:     ev.ResolvedAt.UTC().Format(time.RFC3339),
		CycleTimeHours: cycleHours,
		Priority:       ev.Priority,
		DecisionType:   ev.DecisionType,
		WasEscalated:   ev.WasEscalated,
		StakeholderID:  ev.StakeholderID,
	}
	if err := s.repo.InsertDecisionCycleTx(ctx, tx, cycle); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("decision %s: %w", ev.DecisionID, ErrDuplicate)
		}
		return fmt.Errorf("insert decision cycle: %w", err)
	}
	if err := s.recomputeDecisionDayTx(ctx, tx, ev.TenantID, ev.ProjectID, ev.ResolvedAt); err != nil {
		return fmt.Errorf("recompute decision velocity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidate(ev.TenantID)
	return nil
}

// recomputeDecisionDayTx rebuilds one day's DECISION_VELOCITY row from every
// fact resolved that day.
func (s *Service) recomputeDecisionDayTx(ctx context.Context, tx *sql.Tx, tenantID, projectID string, resolvedAt time.Time) error {
	day := resolvedAt.UTC().Truncate(24 * time.Hour)
	cycles, err := s.repo.ListCyclesResolvedBetweenTx(ctx, tx, tenantID, day, day.Add(24*time.Hour))
	if err != nil {
		return err
	}
	if len(cycles) == 0 {
		return nil
	}
	var sum float64
	var escalated int
	for _, c := range cycles {
		sum += c.CycleTimeHours
		if c.WasEscalated {
			escalated++
		}
	}
	n := float64(len(cycles))
	return s.repo.ReplaceSnapshotTx(ctx, tx, domain.MetricSnapshot{
		TenantID:   tenantID,
		ProjectID:  projectID,
		MetricType: domain.MetricDecisionVelocity,
		MetricDate: domain.DateOf(resolvedAt),
		Value:      round2(sum / n),
		// Ratios stay unrounded; only stored cycle times are rounded.
		Dimensions: map[string]float64{
			"decisionsResolved": n,
			"escalatedCount":    float64(escalated),
			"escalationRate":    float64(escalated) / n,
		},
	})
}

// RecordOutcomeValidated adds one validated outcome to the day's
// OUTCOME_VELOCITY snapshot.
func (s *Service) RecordOutcomeValidated(ctx context.Context, ev domain.OutcomeValidatedEvent) error {
	return s.merge(ctx, ev.TenantID, repo.SnapshotMerge{
		TenantID:   ev.TenantID,
		ProjectID:  ev.ProjectID,
		MetricType: domain.MetricOutcomeVelocity,
		MetricDate: domain.DateOf(ev.ValidatedAt),
		ValueDelta: 1,
		Dimension:  "validated",
		DimDelta:   1,
		InitDims:   map[string]float64{"validated": 1, "invalidated": 0},
	})
}

// RecordOutcomeInvalidated counts an invalidated outcome in the same day row
// as validations. The value stays untouched; only the invalidated dimension
// moves, so a day with only invalidations holds value zero.
func (s *Service) RecordOutcomeInvalidated(ctx context.Context, ev domain.OutcomeInvalidatedEvent) error {
	return s.merge(ctx, ev.TenantID, repo.SnapshotMerge{
		TenantID:   ev.TenantID,
		ProjectID:  ev.ProjectID,
		MetricType: domain.MetricOutcomeVelocity,
		MetricDate: domain.DateOf(ev.InvalidatedAt),
		ValueDelta: 0,
		Dimension:  "invalidated",
		DimDelta:   1,
		InitDims:   map[string]float64{"validated": 0, "invalidated": 1},
	})
}

// RecordHypothesisConcluded counts one concluded hypothesis, split by result.
func (s *Service) RecordHypothesisConcluded(ctx context.Context, ev domain.HypothesisConcludedEvent) error {
	var dim string
	switch ev.Result {
	case domain.ResultValidated:
		dim = "validated"
	case domain.ResultInvalidated:
		dim = "invalidated"
	default:
		return fmt.Errorf("hypothesis %s: unknown result %q: %w", ev.HypothesisID, ev.Result, ErrInvalid)
	}
	init := map[string]float64{"validated": 0, "invalidated": 0}
	init[dim] = 1
	return s.merge(ctx, ev.TenantID, repo.SnapshotMerge{
		TenantID:   ev.TenantID,
		ProjectID:  ev.ProjectID,
		MetricType: domain.MetricHypothesisThroughput,
		MetricDate: domain.DateOf(ev.ConcludedAt),
		ValueDelta: 1,
		Dimension:  dim,
		DimDelta:   1,
		InitDims:   init,
	})
}

func (s *Service) merge(ctx context.Context, tenantID string, m repo.SnapshotMerge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.repo.MergeSnapshotTx(ctx, tx, m); err != nil {
		return fmt.Errorf("merge snapshot: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidate(tenantID)
	return nil
}
