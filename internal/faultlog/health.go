package faultlog

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Health tracks the availability of one upstream dependency. It logs a single
// line when the dependency goes down and a recovery notice, with total failure
// count and formatted downtime, when it comes back. Repeated failures while
// already down only bump counters.
type Health struct {
	name   string
	logger *slog.Logger

	now func() time.Time

	mu           sync.Mutex
	consecutive  int
	totalOutage  int
	firstFailure time.Time
}

// NewHealth returns a Health tracker for the named dependency.
func NewHealth(logger *slog.Logger, name string) *Health {
	return &Health{name: name, logger: logger, now: time.Now}
}

// Failure records one failed interaction.
func (h *Health) Failure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutive++
	h.totalOutage++
	if h.consecutive == 1 {
		h.firstFailure = h.now()
		h.logger.Warn("dependency unavailable", "dependency", h.name, "error", err)
	}
}

// Success records one successful interaction, emitting a recovery notice if
// the dependency was down.
func (h *Health) Success() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.consecutive == 0 {
		return
	}
	downtime := h.now().Sub(h.firstFailure)
	h.logger.Info("dependency recovered",
		"dependency", h.name,
		"failures", h.totalOutage,
		"downtime", formatDowntime(downtime))
	h.consecutive = 0
	h.totalOutage = 0
	h.firstFailure = time.Time{}
}

// Down reports whether the dependency is currently considered unavailable.
func (h *Health) Down() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive > 0
}

func formatDowntime(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm%ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
