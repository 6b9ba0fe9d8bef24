// Package client talks to the core platform's REST API for the live numbers
// the dashboard cannot derive from stored events. The dashboard must render
// even when the platform is down, so every lookup degrades to a zero value
// instead of failing, with the outage tracked and logged once.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"metricline/internal/faultlog"
)

const defaultTimeout = 2 * time.Second

type Stakeholder struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Outcome struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
}

type UrgentDecision struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority,omitempty"`
	DueAt    string `json:"due_at,omitempty"`
}

type Core struct {
	base   string
	http   *http.Client
	faults *faultlog.Reporter
	health *faultlog.Health
}

// NewCore returns a client for the platform API at base. A zero timeout uses
// a short default; dashboard rendering must never wait on a dead upstream.
func NewCore(base string, timeout time.Duration, logger *slog.Logger) *Core {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Core{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		faults: faultlog.New(logger, faultlog.DefaultWindow),
		health: faultlog.NewHealth(logger, "core"),
	}
}

// Available reports whether the last interaction with the platform succeeded.
func (c *Core) Available() bool {
	return !c.health.Down()
}

// get fetches path into out. Failures are reported once per window and leave
// out untouched.
func (c *Core) get(ctx context.Context, path string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		c.fail(path, err)
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.fail(path, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.fail(path, fmt.Errorf("unexpected status %d", resp.StatusCode))
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.fail(path, err)
		return false
	}
	c.health.Success()
	return true
}

func (c *Core) fail(path string, err error) {
	c.health.Failure(err)
	c.faults.Warn("core request failed", "path", path, "error", err)
}

// PendingDecisionCount returns the tenant's open decision count, 0 when the
// platform is unreachable.
func (c *Core) PendingDecisionCount(ctx context.Context, tenantID string) int {
	var out struct {
		Count int `json:"count"`
	}
	c.get(ctx, "/v1/decisions/pending/count?tenant_id="+url.QueryEscape(tenantID), &out)
	return out.Count
}

// ActiveHypothesisCount returns the tenant's running hypothesis count, 0 when
// the platform is unreachable.
func (c *Core) ActiveHypothesisCount(ctx context.Context, tenantID string) int {
	var out struct {
		Count int `json:"count"`
	}
	c.get(ctx, "/v1/hypotheses/active/count?tenant_id="+url.QueryEscape(tenantID), &out)
	return out.Count
}

// UrgentDecisions returns the tenant's urgent open decisions, empty when the
// platform is unreachable.
func (c *Core) UrgentDecisions(ctx context.Context, tenantID string) []UrgentDecision {
	var out []UrgentDecision
	c.get(ctx, "/v1/decisions/urgent?tenant_id="+url.QueryEscape(tenantID), &out)
	return out
}

// Stakeholder resolves one stakeholder; ok is false on any failure.
func (c *Core) Stakeholder(ctx context.Context, id string) (Stakeholder, bool) {
	var out Stakeholder
	ok := c.get(ctx, "/v1/stakeholders/"+url.PathEscape(id), &out)
	return out, ok
}

// Outcome resolves one outcome; ok is false on any failure.
func (c *Core) Outcome(ctx context.Context, id string) (Outcome, bool) {
	var out Outcome
	ok := c.get(ctx, "/v1/outcomes/"+url.PathEscape(id), &out)
	return out, ok
}
