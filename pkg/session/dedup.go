package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"exgate/pkg/core"
)

// DedupCache remembers order submissions by client order id so a repeated
// PlaceOrder returns the original result instead of creating a second order.
// It is safe for concurrent use.
type DedupCache struct {
	mu    sync.Mutex
	items map[string]*dedupItem
	ttl   time.Duration
	clock clock.Clock
}

type dedupItem struct {
	done      chan struct{}
	result    *core.OrderResult
	err       error
	finished  bool
	unsettled bool
	expiresAt time.Time
}

// NewDedupCache creates a cache whose entries live for ttl after the submission finished.
func NewDedupCache(ttl time.Duration, clk clock.Clock) *DedupCache {
	return &DedupCache{
		items: make(map[string]*dedupItem),
		ttl:   ttl,
		clock: clk,
	}
}

// Do runs submit once per key. Concurrent callers with the same key wait for the
// first submission and share its result; shared reports whether that happened.
//
// A submission that failed for certain is forgotten so the caller may try again.
// One whose outcome is unknown (see core.OutcomeUnknown) is kept, and the next
// call runs submit with unsettled set so it can look for the order before
// sending it again.
func (c *DedupCache) Do(ctx context.Context, key string, submit func(unsettled bool) (*core.OrderResult, error)) (result *core.OrderResult, shared bool, err error) {
	c.mu.Lock()
	c.evictExpired()
	unsettled := false
	if item, ok := c.items[key]; ok {
		if !item.unsettled {
			c.mu.Unlock()
			select {
			case <-item.done:
			case <-ctx.Done():
				return nil, true, ctx.Err()
			}
			if item.err != nil {
				return nil, true, item.err
			}
			return item.result.Clone(), true, nil
		}
		unsettled = true
	}
	item := &dedupItem{done: make(chan struct{})}
	c.items[key] = item
	c.mu.Unlock()

	result, err = submit(unsettled)

	c.mu.Lock()
	item.result, item.err, item.finished = result, err, true
	switch {
	case err == nil:
		item.expiresAt = c.clock.Now().Add(c.ttl)
	case core.OutcomeUnknown(err):
		item.unsettled = true
		item.expiresAt = c.clock.Now().Add(c.ttl)
	default:
		delete(c.items, key)
	}
	close(item.done)
	c.mu.Unlock()

	return result.Clone(), false, err
}

func (c *DedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	return len(c.items)
}

// Clear removes all finished entries. In-flight submissions are kept.
func (c *DedupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, item := range c.items {
		if item.finished {
			delete(c.items, key)
		}
	}
}

func (c *DedupCache) evictExpired() {
	now := c.clock.Now()
	for key, item := range c.items {
		if item.finished && now.After(item.expiresAt) {
			delete(c.items, key)
		}
	}
}
