package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"metricline/internal/db"
	"metricline/internal/domain"
	"metricline/internal/migrate"
	"metricline/internal/repo"
)

type fakeCache struct {
	mu      sync.Mutex
	tenants []string
}

func (c *fakeCache) Invalidate(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = append(c.tenants, tenantID)
}

func newTestService(t *testing.T) (*Service, *fakeCache) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cache := &fakeCache{}
	return NewService(conn, cache), cache
}

func day(t *testing.T, hour int) time.Time {
	t.Helper()
	return time.Date(2025, 6, 10, hour, 0, 0, 0, time.UTC)
}

func TestDecisionCycleRounding(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	created := day(t, 8)
	err := svc.RecordDecisionResolved(ctx, domain.DecisionResolvedEvent{
		TenantID:   "t1",
		DecisionID: "d1",
		CreatedAt:  created,
		ResolvedAt: created.Add(2*time.Hour + 30*time.Minute + 15*time.Second),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	c, err := svc.Cycle(ctx, "t1", "d1")
	if err != nil {
		t.Fatalf("get cycle: %v", err)
	}
	if c.CycleTimeHours != 2.5 {
		t.Fatalf("expected 2h30m15s to round to 2.50 hours, got %v", c.CycleTimeHours)
	}
}

func TestDecisionVelocityRecompute(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	hours := []float64{2, 4, 6, 8}
	for i, h := range hours {
		created := day(t, 0)
		ev := domain.DecisionResolvedEvent{
			TenantID:     "t1",
			DecisionID:   string(rune('a' + i)),
			CreatedAt:    created,
			ResolvedAt:   created.Add(time.Duration(h * float64(time.Hour))),
			WasEscalated: i == 0,
		}
		if err := svc.RecordDecisionResolved(ctx, ev); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	snaps, err := svc.Snapshots(ctx, "t1", domain.MetricDecisionVelocity, day(t, 0), day(t, 0))
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snaps))
	}
	s := snaps[0]
	if s.Value != 5 {
		t.Fatalf("expected mean cycle time 5, got %v", s.Value)
	}
	if s.Dimensions["decisionsResolved"] != 4 {
		t.Fatalf("expected 4 decisions, got %v", s.Dimensions["decisionsResolved"])
	}
	if s.Dimensions["escalatedCount"] != 1 {
		t.Fatalf("expected 1 escalation, got %v", s.Dimensions["escalatedCount"])
	}
	if s.Dimensions["escalationRate"] != 0.25 {
		t.Fatalf("expected escalation rate 0.25, got %v", s.Dimensions["escalationRate"])
	}
}

func TestDecisionResolvedReplayIsIdempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ev := domain.DecisionResolvedEvent{
		TenantID:   "t1",
		DecisionID: "d1",
		CreatedAt:  day(t, 8),
		ResolvedAt: day(t, 12),
	}
	if err := svc.RecordDecisionResolved(ctx, ev); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	err := svc.RecordDecisionResolved(ctx, ev)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on replay, got %v", err)
	}

	snaps, err := svc.Snapshots(ctx, "t1", domain.MetricDecisionVelocity, day(t, 0), day(t, 0))
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if snaps[0].Dimensions["decisionsResolved"] != 1 {
		t.Fatalf("replay changed the aggregate: %v", snaps[0].Dimensions)
	}
}

func TestOutcomeVelocitySharedDayRow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	validated := func(id string) domain.OutcomeValidatedEvent {
		return domain.OutcomeValidatedEvent{TenantID: "t1", OutcomeID: id, ValidatedAt: day(t, 9)}
	}
	invalidated := func(id string) domain.OutcomeInvalidatedEvent {
		return domain.OutcomeInvalidatedEvent{TenantID: "t1", OutcomeID: id, InvalidatedAt: day(t, 10)}
	}

	if err := svc.RecordOutcomeValidated(ctx, validated("o1")); err != nil {
		t.Fatalf("validated: %v", err)
	}
	if err := svc.RecordOutcomeInvalidated(ctx, invalidated("o2")); err != nil {
		t.Fatalf("invalidated: %v", err)
	}
	if err := svc.RecordOutcomeValidated(ctx, validated("o3")); err != nil {
		t.Fatalf("validated: %v", err)
	}

	snaps, err := svc.Snapshots(ctx, "t1", domain.MetricOutcomeVelocity, day(t, 0), day(t, 0))
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("validated and invalidated must share one day row, got %d rows", len(snaps))
	}
	s := snaps[0]
	if s.Value != 2 {
		t.Fatalf("expected value 2, got %v", s.Value)
	}
	if s.Dimensions["validated"] != 2 || s.Dimensions["invalidated"] != 1 {
		t.Fatalf("unexpected dimensions: %v", s.Dimensions)
	}
}

func TestInvalidatedOnlyDayHoldsZeroValue(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	err := svc.RecordOutcomeInvalidated(ctx, domain.OutcomeInvalidatedEvent{
		TenantID: "t1", OutcomeID: "o1", InvalidatedAt: day(t, 9),
	})
	if err != nil {
		t.Fatalf("invalidated: %v", err)
	}

	snaps, err := svc.Snapshots(ctx, "t1", domain.MetricOutcomeVelocity, day(t, 0), day(t, 0))
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	s := snaps[0]
	if s.Value != 0 {
		t.Fatalf("invalidated-only day must hold value 0, got %v", s.Value)
	}
	if s.Dimensions["validated"] != 0 || s.Dimensions["invalidated"] != 1 {
		t.Fatalf("unexpected dimensions: %v", s.Dimensions)
	}

	svc.Now = func() time.Time { return day(t, 12) }
	total, err := svc.WeeklyOutcomeTotal(ctx, "t1")
	if err != nil {
		t.Fatalf("weekly total: %v", err)
	}
	if total != 0 {
		t.Fatalf("invalidated-only day must not inflate weekly total, got %v", total)
	}
}

func TestOutcomeMergeConcurrent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- svc.RecordOutcomeValidated(ctx, domain.OutcomeValidatedEvent{
				TenantID: "t1", OutcomeID: "v", ValidatedAt: day(t, 9),
			})
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- svc.RecordOutcomeInvalidated(ctx, domain.OutcomeInvalidatedEvent{
				TenantID: "t1", OutcomeID: "i", InvalidatedAt: day(t, 9),
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("merge: %v", err)
		}
	}

	snaps, err := svc.Snapshots(ctx, "t1", domain.MetricOutcomeVelocity, day(t, 0), day(t, 0))
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	s := snaps[0]
	if s.Value != n || s.Dimensions["validated"] != n || s.Dimensions["invalidated"] != n {
		t.Fatalf("lost increments under concurrency: value=%v dims=%v", s.Value, s.Dimensions)
	}
}

func TestHypothesisThroughputSplit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	results := []string{domain.ResultValidated, domain.ResultValidated, domain.ResultInvalidated}
	for i, res := range results {
		err := svc.RecordHypothesisConcluded(ctx, domain.HypothesisConcludedEvent{
			TenantID:     "t1",
			HypothesisID: string(rune('a' + i)),
			Result:       res,
			ConcludedAt:  day(t, 9),
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	snaps, err := svc.Snapshots(ctx, "t1", domain.MetricHypothesisThroughput, day(t, 0), day(t, 0))
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	s := snaps[0]
	if s.Value != 3 {
		t.Fatalf("expected value 3, got %v", s.Value)
	}
	if s.Dimensions["validated"] != 2 || s.Dimensions["invalidated"] != 1 {
		t.Fatalf("unexpected dimensions: %v", s.Dimensions)
	}
}

func TestHypothesisUnknownResultRejected(t *testing.T) {
	svc, _ := newTestService(t)
	err := svc.RecordHypothesisConcluded(context.Background(), domain.HypothesisConcludedEvent{
		TenantID: "t1", HypothesisID: "h1", Result: "MAYBE", ConcludedAt: day(t, 9),
	})
	if err == nil {
		t.Fatalf("expected unknown result to be rejected")
	}
}

func TestLifecycleEventAppend(t *testing.T) {
	svc, cache := newTestService(t)
	ctx := context.Background()

	err := svc.RecordTicketCreated(ctx, domain.TicketCreatedEvent{
		TenantID:     "t1",
		TicketID:     "tk1",
		WorkstreamID: "ws1",
		Type:         "BUG",
		Severity:     "HIGH",
		Timestamp:    day(t, 9),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	events, err := svc.Events(ctx, repo.EventFilters{TenantID: "t1", EventType: domain.EventTicketCreated})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
	e := events[0]
	if e.EntityID != "tk1" || e.ParentID != "ws1" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Metadata["severity"] != "HIGH" {
		t.Fatalf("unexpected metadata: %v", e.Metadata)
	}
	if len(cache.tenants) == 0 || cache.tenants[0] != "t1" {
		t.Fatalf("expected cache invalidation for t1, got %v", cache.tenants)
	}
}

func TestStakeholderCycleTimes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	record := func(id, stakeholder string, hours float64) {
		t.Helper()
		err := svc.RecordDecisionResolved(ctx, domain.DecisionResolvedEvent{
			TenantID:      "t1",
			DecisionID:    id,
			StakeholderID: stakeholder,
			CreatedAt:     day(t, 0),
			ResolvedAt:    day(t, 0).Add(time.Duration(hours * float64(time.Hour))),
		})
		if err != nil {
			t.Fatalf("record %s: %v", id, err)
		}
	}
	record("d1", "alice", 2)
	record("d2", "alice", 4)
	record("d3", "bob", 12)

	rows, err := svc.StakeholderCycleTimes(ctx, "t1", day(t, 0).AddDate(0, 0, -30))
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected two stakeholders, got %d", len(rows))
	}
	if rows[0].StakeholderID != "alice" || rows[0].AvgHours != 3 || rows[0].Decisions != 2 {
		t.Fatalf("unexpected first row: %+v", rows[0])
	}
	if rows[1].StakeholderID != "bob" {
		t.Fatalf("expected bob second, got %+v", rows[1])
	}
}
