package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"metricline/internal/domain"
)

const eventColumns = `id,tenant_id,event_type,entity_id,COALESCE(parent_id,''),metadata,event_ts,recorded_at`

func scanAnalyticsEvent(scan func(...any) error) (domain.AnalyticsEvent, error) {
	var e domain.AnalyticsEvent
	var metadata string
	err := scan(&e.ID, &e.TenantID, &e.EventType, &e.EntityID, &e.ParentID, &metadata, &e.EventTS, &e.RecordedAt)
	if err != nil {
		return e, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			return e, fmt.Errorf("decode event metadata: %w", err)
		}
	}
	return e, nil
}

// InsertAnalyticsEventTx appends one generic analytics event.
func (r Repo) InsertAnalyticsEventTx(ctx context.Context, tx *sql.Tx, e domain.AnalyticsEvent) error {
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO analytics_events(id,tenant_id,event_type,entity_id,parent_id,metadata,event_ts,recorded_at)
VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.TenantID, e.EventType, e.EntityID, nullable(e.ParentID), string(data), e.EventTS, e.RecordedAt)
	return err
}

// EventFilters narrows analytics event queries.
type EventFilters struct {
	TenantID  string
	EventType string
	ParentID  string
	Since     time.Time
	Limit     int
}

// ListAnalyticsEvents returns events matching the filters in event order.
func (r Repo) ListAnalyticsEvents(ctx context.Context, f EventFilters) ([]domain.AnalyticsEvent, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.EventType != "" {
		clauses = append(clauses, "event_type=?")
		args = append(args, f.EventType)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "parent_id=?")
		args = append(args, f.ParentID)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "event_ts>=?")
		args = append(args, f.Since.UTC().Format(time.RFC3339))
	}
	query := `SELECT ` + eventColumns + ` FROM analytics_events WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY event_ts ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AnalyticsEvent
	for rows.Next() {
		e, err := scanAnalyticsEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CountEventsSince counts a tenant's events of one type since the cutoff.
func (r Repo) CountEventsSince(ctx context.Context, tenantID, eventType string, since time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM analytics_events WHERE tenant_id=? AND event_type=? AND event_ts>=?`,
		tenantID, eventType, since.UTC().Format(time.RFC3339)).Scan(&n)
	return n, err
}
