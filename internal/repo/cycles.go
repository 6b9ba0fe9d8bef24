package repo

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"metricline/internal/domain"
)

const cycleColumns = `id,tenant_id,COALESCE(project_id,''),decision_id,created_at,resolved_at,cycle_time_hours,COALESCE(priority,''),COALESCE(decision_type,''),was_escalated,COALESCE(stakeholder_id,'')`

func scanCycle(scan func(...any) error) (domain.DecisionCycle, error) {
	var c domain.DecisionCycle
	var escalated int
	err := scan(&c.ID, &c.TenantID, &c.ProjectID, &c.DecisionID, &c.CreatedAt, &c.ResolvedAt,
		&c.CycleTimeHours, &c.Priority, &c.DecisionType, &escalated, &c.StakeholderID)
	c.WasEscalated = escalated != 0
	return c, err
}

// InsertDecisionCycleTx appends one immutable fact row. A duplicate
// (tenant_id, decision_id) surfaces as a unique-constraint error; callers
// never pre-check existence, the constraint is the race detector.
func (r Repo) InsertDecisionCycleTx(ctx context.Context, tx *sql.Tx, c domain.DecisionCycle) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO decision_cycles(id,tenant_id,project_id,decision_id,created_at,resolved_at,cycle_time_hours,priority,decision_type,was_escalated,stakeholder_id)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, nullable(c.ProjectID), c.DecisionID, c.CreatedAt, c.ResolvedAt, c.CycleTimeHours,
		nullable(c.Priority), nullable(c.DecisionType), boolToInt(c.WasEscalated), nullable(c.StakeholderID))
	return err
}

// ListCyclesResolvedBetweenTx returns a tenant's fact rows with resolved_at in
// [start, end), read inside the caller's transaction so the decision-velocity
// recompute sees the row it just inserted.
func (r Repo) ListCyclesResolvedBetweenTx(ctx context.Context, tx *sql.Tx, tenantID string, start, end time.Time) ([]domain.DecisionCycle, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+cycleColumns+` FROM decision_cycles WHERE tenant_id=? AND resolved_at>=? AND resolved_at<? ORDER BY resolved_at ASC`,
		tenantID, start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DecisionCycle
	for rows.Next() {
		c, err := scanCycle(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// GetDecisionCycle looks up the fact row for one decision.
func (r Repo) GetDecisionCycle(ctx context.Context, tenantID, decisionID string) (domain.DecisionCycle, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+cycleColumns+` FROM decision_cycles WHERE tenant_id=? AND decision_id=?`, tenantID, decisionID)
	c, err := scanCycle(row.Scan)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// AvgCycleTimeSince returns the mean cycle time in hours over resolved
// decisions since the cutoff; ok is false when no rows qualify.
func (r Repo) AvgCycleTimeSince(ctx context.Context, tenantID, projectID string, since time.Time) (float64, bool, error) {
	clauses := []string{"tenant_id=?", "resolved_at>=?"}
	args := []any{tenantID, since.UTC().Format(time.RFC3339)}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	var avg sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT AVG(cycle_time_hours) FROM decision_cycles WHERE `+strings.Join(clauses, " AND "), args...).Scan(&avg)
	if err != nil {
		return 0, false, err
	}
	return avg.Float64, avg.Valid, nil
}

// CountEscalatedSince counts escalated resolutions since the cutoff.
func (r Repo) CountEscalatedSince(ctx context.Context, tenantID, projectID string, since time.Time) (int, error) {
	clauses := []string{"tenant_id=?", "was_escalated=1", "resolved_at>=?"}
	args := []any{tenantID, since.UTC().Format(time.RFC3339)}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM decision_cycles WHERE `+strings.Join(clauses, " AND "), args...).Scan(&n)
	return n, err
}

// StakeholderCycleTime is a per-stakeholder response aggregate.
type StakeholderCycleTime struct {
	StakeholderID string  `json:"stakeholder_id"`
	AvgHours      float64 `json:"avg_hours"`
	Decisions     int     `json:"decisions"`
}

// AvgCycleTimeByStakeholder groups mean cycle time per stakeholder, fastest
// responders first.
func (r Repo) AvgCycleTimeByStakeholder(ctx context.Context, tenantID string, since time.Time) ([]StakeholderCycleTime, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT stakeholder_id, AVG(cycle_time_hours), count(*) FROM decision_cycles
WHERE tenant_id=? AND resolved_at>=? AND stakeholder_id IS NOT NULL
GROUP BY stakeholder_id ORDER BY AVG(cycle_time_hours) ASC`, tenantID, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []StakeholderCycleTime
	for rows.Next() {
		var s StakeholderCycleTime
		if err := rows.Scan(&s.StakeholderID, &s.AvgHours, &s.Decisions); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
