package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"metricline/internal/domain"
)

// Lifecycle events carry no derived math. Each one becomes a single
// append-only analytics_events row keyed by the producer's timestamp.

func (s *Service) appendEvent(ctx context.Context, e domain.AnalyticsEvent, ts time.Time) error {
	e.ID = uuid.New().String()
	e.EventTS = ts.UTC().Format(time.RFC3339)
	e.RecordedAt = s.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.repo.InsertAnalyticsEventTx(ctx, tx, e); err != nil {
		return fmt.Errorf("append %s event: %w", e.EventType, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidate(e.TenantID)
	return nil
}

func (s *Service) RecordProgramCreated(ctx context.Context, ev domain.ProgramCreatedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventProgramCreated,
		EntityID:  ev.ProgramID,
		Metadata:  map[string]any{"name": ev.Name, "status": ev.Status, "created_by": ev.CreatedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordProgramStatusChanged(ctx context.Context, ev domain.ProgramStatusChangedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventProgramStatusChanged,
		EntityID:  ev.ProgramID,
		Metadata:  map[string]any{"old_status": ev.OldStatus, "new_status": ev.NewStatus, "changed_by": ev.ChangedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordWorkstreamCreated(ctx context.Context, ev domain.WorkstreamCreatedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventWorkstreamCreated,
		EntityID:  ev.WorkstreamID,
		ParentID:  ev.ProgramID,
		Metadata:  map[string]any{"name": ev.Name, "mode": ev.Mode, "execution_mode": ev.ExecutionMode, "created_by": ev.CreatedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordWorkstreamStatusChanged(ctx context.Context, ev domain.WorkstreamStatusChangedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventWorkstreamStatus,
		EntityID:  ev.WorkstreamID,
		Metadata:  map[string]any{"old_status": ev.OldStatus, "new_status": ev.NewStatus, "changed_by": ev.ChangedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordSpecificationCreated(ctx context.Context, ev domain.SpecificationCreatedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventSpecCreated,
		EntityID:  ev.SpecificationID,
		ParentID:  ev.WorkstreamID,
		Metadata:  map[string]any{"name": ev.Name, "program_id": ev.ProgramID, "author": ev.AuthorID},
	}, ev.Timestamp)
}

func (s *Service) RecordSpecificationStatusChanged(ctx context.Context, ev domain.SpecificationStatusChangedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventSpecStatusChanged,
		EntityID:  ev.SpecificationID,
		Metadata:  map[string]any{"old_status": ev.OldStatus, "new_status": ev.NewStatus, "changed_by": ev.ChangedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordSpecificationApproved(ctx context.Context, ev domain.SpecificationApprovedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventSpecApproved,
		EntityID:  ev.SpecificationID,
		Metadata:  map[string]any{"approved_by": ev.ApprovedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordTicketCreated(ctx context.Context, ev domain.TicketCreatedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventTicketCreated,
		EntityID:  ev.TicketID,
		ParentID:  ev.WorkstreamID,
		Metadata:  map[string]any{"type": ev.Type, "severity": ev.Severity, "reported_by": ev.ReportedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordTicketResolved(ctx context.Context, ev domain.TicketResolvedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventTicketResolved,
		EntityID:  ev.TicketID,
		Metadata:  map[string]any{"resolution": ev.Resolution, "resolved_by": ev.ResolvedByID},
	}, ev.Timestamp)
}

func (s *Service) RecordTicketAssigned(ctx context.Context, ev domain.TicketAssignedEvent) error {
	return s.appendEvent(ctx, domain.AnalyticsEvent{
		TenantID:  ev.TenantID,
		EventType: domain.EventTicketAssigned,
		EntityID:  ev.TicketID,
		Metadata:  map[string]any{"assigned_to": ev.AssignedToID, "assigned_by": ev.AssignedByID},
	}, ev.Timestamp)
}
