// Package faultlog keeps high-frequency failure paths from flooding the log.
// A Reporter emits at most one line per window and folds everything else into
// a suppressed counter carried onto the next emitted line, so log volume stays
// bounded while no occurrence goes uncounted.
package faultlog

import (
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultWindow is the interval between emitted lines for one Reporter.
const DefaultWindow = 5 * time.Minute

// Reporter rate-limits log output for a single failure category. Safe for
// concurrent use. The zero lastEmit means never emitted, so the first call
// always produces a line.
type Reporter struct {
	logger *slog.Logger
	window time.Duration

	now func() time.Time

	lastEmit   atomic.Int64
	suppressed atomic.Int64
}

// New returns a Reporter emitting at most one line per window through logger.
func New(logger *slog.Logger, window time.Duration) *Reporter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Reporter{logger: logger, window: window, now: time.Now}
}

// Warn logs at warn level, or increments the suppressed counter if a line was
// emitted within the current window.
func (r *Reporter) Warn(msg string, args ...any) {
	if carried, ok := r.claim(); ok {
		if carried > 0 {
			args = append(args, "suppressed", carried)
		}
		r.logger.Warn(msg, args...)
	}
}

// Error logs at error level under the same rate limit as Warn.
func (r *Reporter) Error(msg string, args ...any) {
	if carried, ok := r.claim(); ok {
		if carried > 0 {
			args = append(args, "suppressed", carried)
		}
		r.logger.Error(msg, args...)
	}
}

// claim decides whether the caller may emit. Exactly one contender wins the
// CAS per window; losers are counted so the next winner reports them.
func (r *Reporter) claim() (int64, bool) {
	now := r.now().UnixNano()
	for {
		last := r.lastEmit.Load()
		if last != 0 && now-last < int64(r.window) {
			r.suppressed.Add(1)
			return 0, false
		}
		if r.lastEmit.CompareAndSwap(last, now) {
			return r.suppressed.Swap(0), true
		}
	}
}
