package repo

import (
	"context"
	"strings"
)

// CountActiveEntities counts entities a tenant created that have no terminal
// status change recorded. Status is read from the status event's metadata, so
// a terminal event arriving before its created event still excludes the
// entity once both are stored.
func (r Repo) CountActiveEntities(ctx context.Context, tenantID, createdType, statusType string, terminal []string) (int, error) {
	if len(terminal) == 0 {
		var n int
		err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM analytics_events WHERE tenant_id=? AND event_type=?`,
			tenantID, createdType).Scan(&n)
		return n, err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terminal)), ",")
	args := []any{tenantID, createdType, statusType}
	for _, s := range terminal {
		args = append(args, s)
	}
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM analytics_events c
WHERE c.tenant_id=? AND c.event_type=?
AND NOT EXISTS (
  SELECT 1 FROM analytics_events s
  WHERE s.tenant_id=c.tenant_id AND s.entity_id=c.entity_id AND s.event_type=?
  AND json_extract(s.metadata, '$.new_status') IN (`+placeholders+`)
)`, args...).Scan(&n)
	return n, err
}

// CountOpenEntities counts created entities without a matching closing event.
func (r Repo) CountOpenEntities(ctx context.Context, tenantID, createdType, closedType string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM analytics_events c
WHERE c.tenant_id=? AND c.event_type=?
AND NOT EXISTS (
  SELECT 1 FROM analytics_events s
  WHERE s.tenant_id=c.tenant_id AND s.entity_id=c.entity_id AND s.event_type=?
)`, tenantID, createdType, closedType).Scan(&n)
	return n, err
}
