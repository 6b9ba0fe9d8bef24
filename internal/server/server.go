// Package server exposes the analytics REST API: synchronous ingestion for
// the four metric-bearing events, a publish endpoint feeding the topic bus,
// and the read side (snapshots, events, stakeholder response times, the
// dashboard summary). All tenancy comes from the authenticated principal,
// never from request bodies.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"metricline/internal/dashboard"
	"metricline/internal/domain"
	"metricline/internal/ingest"
	"metricline/internal/metrics"
	"metricline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	DB        *sql.DB
	Metrics   *metrics.Service
	Dashboard *dashboard.Service
	Broker    *ingest.Broker
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"decision not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Metricline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Metricline API", "0.1.0")
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerIngest(group, cfg.Metrics)
	registerPublish(group, cfg.Broker)
	registerMetrics(group, cfg.Metrics)
	registerEvents(group, cfg.Metrics)
	registerDashboard(group, cfg.Dashboard)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, metrics.ErrInvalid):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusServiceUnavailable:
		return "unavailable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// IngestAck reports what a synchronous ingest call did. A redelivered event
// acknowledges as duplicate instead of failing, so producers can retry
// blindly.
type IngestAck struct {
	Status string `json:"status" enum:"recorded,duplicate"`
}

func ack(err error) (*struct {
	Body IngestAck `json:"body"`
}, error) {
	out := &struct {
		Body IngestAck `json:"body"`
	}{}
	switch {
	case err == nil:
		out.Body.Status = "recorded"
	case errors.Is(err, metrics.ErrDuplicate):
		out.Body.Status = "duplicate"
	default:
		return nil, handleError(err)
	}
	return out, nil
}

func registerIngest(api huma.API, svc *metrics.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "ingest-decision-resolved",
		Method:      http.MethodPost,
		Path:        "/ingest/decisions/resolved",
		Summary:     "Record a resolved decision",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body domain.DecisionResolvedEvent `json:"body"`
	}) (*struct {
		Body IngestAck `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev := input.Body
		ev.TenantID = tenant
		if ev.DecisionID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "decision_id is required", nil)
		}
		return ack(svc.RecordDecisionResolved(ctx, ev))
	})

	huma.Register(api, huma.Operation{
		OperationID: "ingest-outcome-validated",
		Method:      http.MethodPost,
		Path:        "/ingest/outcomes/validated",
		Summary:     "Record a validated outcome",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body domain.OutcomeValidatedEvent `json:"body"`
	}) (*struct {
		Body IngestAck `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev := input.Body
		ev.TenantID = tenant
		if ev.OutcomeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "outcome_id is required", nil)
		}
		return ack(svc.RecordOutcomeValidated(ctx, ev))
	})

	huma.Register(api, huma.Operation{
		OperationID: "ingest-outcome-invalidated",
		Method:      http.MethodPost,
		Path:        "/ingest/outcomes/invalidated",
		Summary:     "Record an invalidated outcome",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body domain.OutcomeInvalidatedEvent `json:"body"`
	}) (*struct {
		Body IngestAck `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev := input.Body
		ev.TenantID = tenant
		if ev.OutcomeID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "outcome_id is required", nil)
		}
		return ack(svc.RecordOutcomeInvalidated(ctx, ev))
	})

	huma.Register(api, huma.Operation{
		OperationID: "ingest-hypothesis-concluded",
		Method:      http.MethodPost,
		Path:        "/ingest/hypotheses/concluded",
		Summary:     "Record a concluded hypothesis",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body domain.HypothesisConcludedEvent `json:"body"`
	}) (*struct {
		Body IngestAck `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		ev := input.Body
		ev.TenantID = tenant
		if ev.HypothesisID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "hypothesis_id is required", nil)
		}
		return ack(svc.RecordHypothesisConcluded(ctx, ev))
	})
}

// PublishRequest carries one raw event onto the topic bus.
type PublishRequest struct {
	Topic   string         `json:"topic"`
	Payload map[string]any `json:"payload"`
}

func registerPublish(api huma.API, broker *ingest.Broker) {
	huma.Register(api, huma.Operation{
		OperationID:   "publish-event",
		Method:        http.MethodPost,
		Path:          "/events/publish",
		Summary:       "Publish an event to the topic bus",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body PublishRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if broker == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "unavailable", "event bus not running", nil)
		}
		if !slices.Contains(domain.Topics(), input.Body.Topic) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown topic %q", input.Body.Topic), nil)
		}
		if input.Body.Payload == nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "payload is required", nil)
		}
		// The payload's tenant is replaced with the caller's before it
		// reaches any consumer.
		input.Body.Payload["tenant_id"] = tenant
		stamped, err := json.Marshal(input.Body.Payload)
		if err != nil {
			return nil, handleError(err)
		}
		broker.Publish(input.Body.Topic, tenant, stamped)
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "accepted"}}, nil
	})
}

func parseDateRange(from, to string, now time.Time) (time.Time, time.Time, huma.StatusError) {
	end := now.UTC()
	if to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "to must be YYYY-MM-DD", nil)
		}
		end = t
	}
	// The default window trails the effective end, so "everything up to a past
	// date" stays a valid request.
	start := end.AddDate(0, 0, -29)
	if from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "from must be YYYY-MM-DD", nil)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, newAPIError(http.StatusBadRequest, "bad_request", "from must not be after to", nil)
	}
	return start, end, nil
}

func registerMetrics(api huma.API, svc *metrics.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-snapshots",
		Method:      http.MethodGet,
		Path:        "/metrics/{metric_type}",
		Summary:     "Daily snapshots for one metric",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		MetricType string `path:"metric_type" example:"DECISION_VELOCITY"`
		From       string `query:"from" example:"2025-06-01"`
		To         string `query:"to" example:"2025-06-30"`
	}) (*struct {
		Body []domain.MetricSnapshot `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !metrics.KnownMetric(input.MetricType) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown metric type %q", input.MetricType), nil)
		}
		from, to, rangeErr := parseDateRange(input.From, input.To, svc.Now())
		if rangeErr != nil {
			return nil, rangeErr
		}
		items, err := svc.Snapshots(ctx, tenant, input.MetricType, from, to)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.MetricSnapshot{}
		}
		return &struct {
			Body []domain.MetricSnapshot `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stakeholder-response-times",
		Method:      http.MethodGet,
		Path:        "/metrics/stakeholders/response-times",
		Summary:     "Mean decision response time per stakeholder",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		SinceDays int `query:"since_days" minimum:"1" maximum:"365"`
	}) (*struct {
		Body []repo.StakeholderCycleTime `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		days := input.SinceDays
		if days == 0 {
			days = 30
		}
		items, err := svc.StakeholderCycleTimes(ctx, tenant, svc.Now().UTC().AddDate(0, 0, -days))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []repo.StakeholderCycleTime{}
		}
		return &struct {
			Body []repo.StakeholderCycleTime `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-decision-cycle",
		Method:      http.MethodGet,
		Path:        "/decisions/{decision_id}/cycle",
		Summary:     "Cycle fact for one decision",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		DecisionID string `path:"decision_id"`
	}) (*struct {
		Body domain.DecisionCycle `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := svc.Cycle(ctx, tenant, input.DecisionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DecisionCycle `json:"body"`
		}{Body: c}, nil
	})
}

func registerEvents(api huma.API, svc *metrics.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Stored lifecycle events",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		EventType string `query:"event_type" example:"TICKET_CREATED"`
		ParentID  string `query:"parent_id"`
		SinceDays int    `query:"since_days" minimum:"1" maximum:"365"`
		Limit     int    `query:"limit" minimum:"1" maximum:"1000"`
	}) (*struct {
		Body []domain.AnalyticsEvent `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.EventFilters{
			TenantID:  tenant,
			EventType: input.EventType,
			ParentID:  input.ParentID,
			Limit:     input.Limit,
		}
		if input.SinceDays > 0 {
			f.Since = svc.Now().UTC().AddDate(0, 0, -input.SinceDays)
		}
		if f.Limit == 0 {
			f.Limit = 200
		}
		items, err := svc.Events(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.AnalyticsEvent{}
		}
		return &struct {
			Body []domain.AnalyticsEvent `json:"body"`
		}{Body: items}, nil
	})
}

func registerDashboard(api huma.API, svc *dashboard.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard",
		Method:      http.MethodGet,
		Path:        "/dashboard",
		Summary:     "Tenant dashboard summary",
		Errors:      []int{http.StatusUnauthorized, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body dashboard.Summary `json:"body"`
	}, error) {
		tenant, authErr := tenantFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		sum, err := svc.Summary(ctx, tenant, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body dashboard.Summary `json:"body"`
		}{Body: sum}, nil
	})
}
