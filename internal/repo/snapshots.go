package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"metricline/internal/domain"
)

const snapshotColumns = `id,tenant_id,COALESCE(project_id,''),metric_type,metric_date,value,dimensions,created_at`

func scanSnapshot(scan func(...any) error) (domain.MetricSnapshot, error) {
	var s domain.MetricSnapshot
	var dims string
	err := scan(&s.ID, &s.TenantID, &s.ProjectID, &s.MetricType, &s.MetricDate, &s.Value, &dims, &s.CreatedAt)
	if err != nil {
		return s, err
	}
	if dims != "" {
		if err := json.Unmarshal([]byte(dims), &s.Dimensions); err != nil {
			return s, fmt.Errorf("decode snapshot dimensions: %w", err)
		}
	}
	return s, nil
}

// SnapshotMerge describes one atomic add-to-existing-or-create-on-absence
// mutation of a snapshot row.
type SnapshotMerge struct {
	TenantID   string
	ProjectID  string
	MetricType string
	MetricDate string
	ValueDelta float64
	// Dimension, when set, names one counter in the dimensions map that is
	// incremented by DimDelta alongside the value.
	Dimension string
	DimDelta  float64
	// InitDims seeds the dimensions map when the row does not exist yet.
	InitDims map[string]float64
}

// MergeSnapshotTx applies a merge as a single upsert so concurrent workers
// (outcome-validated and outcome-invalidated share the OUTCOME_VELOCITY key)
// never lose increments to a read-modify-write race.
func (r Repo) MergeSnapshotTx(ctx context.Context, tx *sql.Tx, m SnapshotMerge) error {
	initDims := m.InitDims
	if initDims == nil {
		initDims = map[string]float64{}
	}
	dims, err := json.Marshal(initDims)
	if err != nil {
		return fmt.Errorf("marshal snapshot dimensions: %w", err)
	}
	now := nowUTC()
	if m.Dimension == "" {
		_, err = tx.ExecContext(ctx, `INSERT INTO metric_snapshots(id,tenant_id,project_id,metric_type,metric_date,value,dimensions,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,metric_type,metric_date) DO UPDATE SET value = value + ?`,
			uuid.New().String(), m.TenantID, nullable(m.ProjectID), m.MetricType, m.MetricDate, m.ValueDelta, string(dims), now,
			m.ValueDelta)
		return err
	}
	path := "$." + m.Dimension
	_, err = tx.ExecContext(ctx, `INSERT INTO metric_snapshots(id,tenant_id,project_id,metric_type,metric_date,value,dimensions,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,metric_type,metric_date) DO UPDATE SET
value = value + ?,
dimensions = json_set(dimensions, ?, COALESCE(json_extract(dimensions, ?), 0) + ?)`,
		uuid.New().String(), m.TenantID, nullable(m.ProjectID), m.MetricType, m.MetricDate, m.ValueDelta, string(dims), now,
		m.ValueDelta, path, path, m.DimDelta)
	return err
}

// ReplaceSnapshotTx overwrites a snapshot's value and dimensions wholesale.
// Only the decision-velocity recompute may use this: it replaces the row from
// the authoritative fact set rather than incrementing a stale copy.
func (r Repo) ReplaceSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.MetricSnapshot) error {
	dimensions := s.Dimensions
	if dimensions == nil {
		dimensions = map[string]float64{}
	}
	dims, err := json.Marshal(dimensions)
	if err != nil {
		return fmt.Errorf("marshal snapshot dimensions: %w", err)
	}
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO metric_snapshots(id,tenant_id,project_id,metric_type,metric_date,value,dimensions,created_at)
VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(tenant_id,metric_type,metric_date) DO UPDATE SET value=excluded.value, dimensions=excluded.dimensions`,
		id, s.TenantID, nullable(s.ProjectID), s.MetricType, s.MetricDate, s.Value, string(dims), nowUTC())
	return err
}

// ListSnapshotsRange returns snapshots for [from, to] inclusive, date ascending.
func (r Repo) ListSnapshotsRange(ctx context.Context, tenantID, metricType, from, to string) ([]domain.MetricSnapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+snapshotColumns+` FROM metric_snapshots
WHERE tenant_id=? AND metric_type=? AND metric_date>=? AND metric_date<=? ORDER BY metric_date ASC`,
		tenantID, metricType, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MetricSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SumSnapshotValues totals snapshot values over [from, to] inclusive.
// Invalidated-only outcome days hold value 0, so they never inflate the sum.
func (r Repo) SumSnapshotValues(ctx context.Context, tenantID, metricType, from, to string) (float64, error) {
	var sum sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT SUM(value) FROM metric_snapshots
WHERE tenant_id=? AND metric_type=? AND metric_date>=? AND metric_date<=?`,
		tenantID, metricType, from, to).Scan(&sum)
	return sum.Float64, err
}
