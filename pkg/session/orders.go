package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// OrderStore tracks orders placed or observed through one client.
// Stored results are never handed out directly; callers always get copies.
// It is safe for concurrent use.
type OrderStore struct {
	mu         sync.RWMutex
	byID       map[string]*storedOrder
	byClientID map[string]string
	retention  time.Duration
	clock      clock.Clock
}

type storedOrder struct {
	result     *core.OrderResult
	terminalAt time.Time
}

// NewOrderStore keeps terminal orders for retention after they were last seen.
// Open orders are kept until they become terminal.
func NewOrderStore(retention time.Duration, clk clock.Clock) *OrderStore {
	return &OrderStore{
		byID:       make(map[string]*storedOrder),
		byClientID: make(map[string]string),
		retention:  retention,
		clock:      clk,
	}
}

// Put records r and returns a copy of what is stored afterwards.
// A terminal order never changes, and an open order never moves back from partial to pending.
func (s *OrderStore) Put(r *core.OrderResult) *core.OrderResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prune()

	existing, ok := s.byID[r.ExchangeOrderID]
	if ok {
		if existing.result.Status.IsTerminal() {
			return existing.result.Clone()
		}
		if existing.result.Status == core.StatusPartial && r.Status == core.StatusPending {
			r = r.Clone()
			r.Status = core.StatusPartial
		}
	}

	stored := &storedOrder{result: r.Clone()}
	if r.Status.IsTerminal() {
		stored.terminalAt = s.clock.Now()
	}
	s.byID[r.ExchangeOrderID] = stored
	if r.ClientOrderID != "" {
		s.byClientID[r.ClientOrderID] = r.ExchangeOrderID
	}
	return stored.result.Clone()
}

func (s *OrderStore) Get(orderID string) (*core.OrderResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.byID[orderID]
	if !ok {
		return nil, false
	}
	return stored.result.Clone(), true
}

func (s *OrderStore) GetByClientID(clientOrderID string) (*core.OrderResult, bool) {
	s.mu.RLock()
	id, ok := s.byClientID[clientOrderID]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return s.Get(id)
}

func (s *OrderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// prune drops terminal orders older than the retention window. Callers hold mu.
func (s *OrderStore) prune() {
	if s.retention <= 0 {
		return
	}
	cutoff := s.clock.Now().Add(-s.retention)
	for id, stored := range s.byID {
		if stored.result.Status.IsTerminal() && stored.terminalAt.Before(cutoff) {
			delete(s.byID, id)
			if s.byClientID[stored.result.ClientOrderID] == id {
				delete(s.byClientID, stored.result.ClientOrderID)
			}
		}
	}
}

// fromRequest is the result implied by a submitted request before the exchange reports anything else.
func fromRequest(req *exchange.OrderRequest, now time.Time) *core.OrderResult {
	r := &core.OrderResult{
		ClientOrderID: req.ClientOrderID,
		Pair:          req.Pair,
		Side:          req.Side,
		Type:          req.Type,
		Status:        core.StatusPending,
		UpdatedAt:     now,
	}
	r.Quantity.Set(&req.Quantity)
	if req.Type == core.TypeLimit {
		r.Price.Set(&req.Price)
	}
	return r
}

// merge overlays the fields update carries on top of base.
// Exchanges often answer a submit or cancel with only an id and a status.
func merge(base, update *core.OrderResult) *core.OrderResult {
	if base == nil {
		return update.Clone()
	}
	out := base.Clone()
	if update.ExchangeOrderID != "" {
		out.ExchangeOrderID = update.ExchangeOrderID
	}
	if update.ClientOrderID != "" {
		out.ClientOrderID = update.ClientOrderID
	}
	if !update.Pair.IsZero() {
		out.Pair = update.Pair
	}
	out.Status = update.Status
	if !update.Quantity.IsZero() {
		out.Side = update.Side
		out.Type = update.Type
		out.Quantity.Set(&update.Quantity)
	}
	if !update.Price.IsZero() {
		out.Price.Set(&update.Price)
	}
	if !update.FilledQuantity.IsZero() {
		out.FilledQuantity.Set(&update.FilledQuantity)
	}
	if !update.AveragePrice.IsZero() {
		out.AveragePrice.Set(&update.AveragePrice)
	}
	if !update.UpdatedAt.IsZero() {
		out.UpdatedAt = update.UpdatedAt
	}
	return out
}
