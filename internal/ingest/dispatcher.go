package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"metricline/internal/db"
	"metricline/internal/faultlog"
	"metricline/internal/metrics"
)

// Handler processes one delivered message.
type Handler func(ctx context.Context, m Message) error

// errMalformed marks payloads that failed to decode. Never retried.
var errMalformed = errors.New("malformed payload")

// Options tune the delivery failure policy.
type Options struct {
	// Retries is the number of additional attempts after the first failure.
	Retries int
	// Backoff is the fixed delay between attempts.
	Backoff time.Duration
	// LogWindow rate-limits the duplicate and failure reporters.
	LogWindow time.Duration
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 5 * time.Second
	}
	if o.LogWindow <= 0 {
		o.LogWindow = faultlog.DefaultWindow
	}
	return o
}

// Dispatcher runs one worker goroutine per subscribed topic, so processing is
// sequential within a topic and concurrent across topics.
type Dispatcher struct {
	logger   *slog.Logger
	handlers map[string]Handler
	opts     Options

	// One reporter per topic and failure category. A noisy topic never
	// silences another topic's first failure.
	dup  map[string]*faultlog.Reporter
	fail map[string]*faultlog.Reporter

	wg sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, handlers map[string]Handler, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	d := &Dispatcher{
		logger:   logger,
		handlers: handlers,
		opts:     opts,
		dup:      make(map[string]*faultlog.Reporter, len(handlers)),
		fail:     make(map[string]*faultlog.Reporter, len(handlers)),
	}
	for topic := range handlers {
		d.dup[topic] = faultlog.New(logger, opts.LogWindow)
		d.fail[topic] = faultlog.New(logger, opts.LogWindow)
	}
	return d
}

// Run subscribes to every handled topic and starts the workers. It returns
// immediately; Wait blocks until all workers have stopped, which happens when
// ctx is cancelled or the broker is closed.
func (d *Dispatcher) Run(ctx context.Context, b *Broker) {
	for topic := range d.handlers {
		ch := b.Subscribe(topic, 64)
		d.wg.Add(1)
		go func(ch <-chan Message) {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-b.Done():
					return
				case m := <-ch:
					d.process(ctx, m)
				}
			}
		}(ch)
	}
}

// Wait blocks until every worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) process(ctx context.Context, m Message) {
	h := d.handlers[m.Topic]
	for attempt := 0; ; attempt++ {
		err := h(ctx, m)
		switch {
		case err == nil:
			return
		case errors.Is(err, metrics.ErrDuplicate):
			d.dup[m.Topic].Warn("duplicate event absorbed", "topic", m.Topic, "error", err)
			return
		case errors.Is(err, errMalformed), errors.Is(err, metrics.ErrInvalid):
			// Never rate-limited: each drop names its exact position.
			d.logger.Error("unprocessable event dropped",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
			return
		case !db.IsTransient(err):
			// A defect, not an outage: redelivery produces the same failure,
			// so it is never retried and never rate-limited.
			d.logger.Error("unexpected failure, event dropped",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset, "error", err)
			return
		}
		if attempt >= d.opts.Retries {
			d.logger.Error("event dropped after retries",
				"topic", m.Topic, "partition", m.Partition, "offset", m.Offset,
				"attempts", attempt+1, "error", err)
			return
		}
		d.fail[m.Topic].Error("event processing failed, will retry", "topic", m.Topic, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.opts.Backoff):
		}
	}
}
