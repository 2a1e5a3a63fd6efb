package order

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// DefaultPollInterval is used when a Watcher is created with a non-positive interval.
const DefaultPollInterval = time.Second

// Watcher follows an order by polling GetOrder until it reaches a terminal status.
type Watcher struct {
	client   exchange.Client
	interval time.Duration
	clock    clock.Clock
	logger   zerolog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) WatcherOption {
	return func(w *Watcher) { w.clock = c }
}

// WithLogger sets the logger used for ignored status regressions.
func WithLogger(logger zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logger }
}

// NewWatcher creates a watcher polling client every interval.
func NewWatcher(client exchange.Client, interval time.Duration, opts ...WatcherOption) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	w := &Watcher{
		client:   client,
		interval: interval,
		clock:    clock.New(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch yields the order each time its status or filled quantity changes, starting
// with the first observation. The sequence ends after a terminal status, on the
// first polling error, or when ctx is done.
//
// A poll reporting an earlier lifecycle state than one already seen is skipped,
// since exchanges may serve stale reads from replicas.
func (w *Watcher) Watch(ctx context.Context, q *exchange.OrderQuery) iter.Seq2[*core.OrderResult, error] {
	return func(yield func(*core.OrderResult, error) bool) {
		if err := q.Validate(); err != nil {
			yield(nil, fmt.Errorf("watch order: %w", err))
			return
		}

		ticker := w.clock.Ticker(w.interval)
		defer ticker.Stop()

		var last *core.OrderResult
		for {
			current, err := w.client.GetOrder(ctx, q)
			if err != nil {
				yield(nil, fmt.Errorf("sync order: %w", err))
				return
			}

			switch {
			case last != nil && !isValidTransition(last.Status, current.Status):
				w.logger.Debug().
					Str("exchange", w.client.Name()).
					Str("order_id", current.ExchangeOrderID).
					Stringer("from", last.Status).
					Stringer("to", current.Status).
					Msg("ignoring stale order status")
			case changed(last, current):
				last = current
				if !yield(current.Clone(), nil) {
					return
				}
			}

			if last != nil && last.Status.IsTerminal() {
				return
			}

			select {
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			case <-ticker.C:
			}
		}
	}
}

// Wait blocks until the order is terminal and returns its final state.
func (w *Watcher) Wait(ctx context.Context, q *exchange.OrderQuery) (*core.OrderResult, error) {
	var last *core.OrderResult
	for result, err := range w.Watch(ctx, q) {
		if err != nil {
			return last, err
		}
		last = result
	}
	return last, nil
}

func changed(prev, next *core.OrderResult) bool {
	if prev == nil {
		return true
	}
	return prev.Status != next.Status || prev.FilledQuantity.Cmp(&next.FilledQuantity) != 0
}

func isValidTransition(from, to core.OrderStatus) bool {
	if from == to {
		return true
	}

	validTransitions := map[core.OrderStatus][]core.OrderStatus{
		core.StatusPending: {
			core.StatusPartial,
			core.StatusFilled,
			core.StatusCanceled,
			core.StatusRejected,
		},
		core.StatusPartial: {
			core.StatusFilled,
			core.StatusCanceled,
		},
	}

	allowed, exists := validTransitions[from]
	if !exists {
		return false
	}
	return slices.Contains(allowed, to)
}
