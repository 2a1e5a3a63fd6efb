// Package session implements the exchange-agnostic client logic shared by every adapter:
// pair validation, idempotent order placement, cancel semantics, order tracking and
// trade stream decoding. All network I/O goes through an exchange.Transport.
package session

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"exgate/internal/transport"
	"exgate/pkg/core"
	"exgate/pkg/exchange"
)

// State represents the lifecycle state of a Session.
type State int

const (
	// StateActive indicates a session that is ready to process requests.
	StateActive State = iota
	// StateClosed indicates a session that has been shut down and can no longer be used.
	StateClosed
)

// String returns the string representation of the State.
func (s State) String() string {
	return [...]string{"ACTIVE", "CLOSED"}[s]
}

// Session is the shared implementation behind every exchange.Client.
// Adapters embed it and supply a protocol. Sessions are safe for concurrent use.
type Session struct {
	name      string
	config    *core.Config
	protocol  core.Protocol
	transport exchange.Transport
	orders    *OrderStore
	dedup     *DedupCache
	logger    zerolog.Logger
	clock     clock.Clock

	mu        sync.RWMutex
	state     State
	createdAt time.Time
	lastUsed  time.Time
}

// New creates a session for protocol. Unless a transport is supplied through
// exchange.WithTransport, one is built from config.
func New(config *core.Config, protocol core.Protocol, opts ...exchange.Option) (*Session, error) {
	if protocol == nil {
		return nil, core.Errorf("", core.ErrorKindConfiguration, "protocol is required").
			WithCode(core.ErrCodeInvalidConfig)
	}
	name := protocol.Name()
	if config == nil {
		return nil, core.Errorf(name, core.ErrorKindConfiguration, "config is required").
			WithCode(core.ErrCodeInvalidConfig)
	}
	if err := config.Validate(); err != nil {
		return nil, core.Errorf(name, core.ErrorKindConfiguration, "invalid config: %v", err).
			WithCode(core.ErrCodeInvalidConfig).
			WithCause(err)
	}
	config = config.Clone()

	options := exchange.ApplyOptions(opts...)
	logger := options.Logger.With().Str("exchange", name).Logger()

	t := options.Transport
	if t == nil {
		var err error
		t, err = transport.New(config, protocol,
			transport.WithLogger(options.Logger),
			transport.WithClock(options.Clock))
		if err != nil {
			return nil, err
		}
	}

	now := options.Clock.Now()
	return &Session{
		name:      name,
		config:    config,
		protocol:  protocol,
		transport: t,
		orders:    NewOrderStore(config.OrderRetention, options.Clock),
		dedup:     NewDedupCache(config.DedupTTL, options.Clock),
		logger:    logger,
		clock:     options.Clock,
		state:     StateActive,
		createdAt: now,
		lastUsed:  now,
	}, nil
}

// Name returns the exchange identifier.
func (s *Session) Name() string {
	return s.name
}

// SupportedPairs returns the pairs this client was configured with.
func (s *Session) SupportedPairs() []core.Pair {
	return s.protocol.Symbols().Pairs()
}

// Config returns a copy of the configuration the session was built with.
func (s *Session) Config() *core.Config {
	return s.config.Clone()
}

// Protocol returns the exchange protocol assigned to the session.
func (s *Session) Protocol() core.Protocol {
	return s.protocol
}

// Orders exposes the local order store.
func (s *Session) Orders() *OrderStore {
	return s.orders
}

// State returns the current lifecycle state of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// CreatedAt returns the timestamp when the session was created.
func (s *Session) CreatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.createdAt
}

// LastUsed returns the timestamp of the last operation started on the session.
func (s *Session) LastUsed() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUsed
}

// Close shuts down the transport and open streams. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	s.dedup.Clear()
	return s.transport.Close()
}

func (s *Session) begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return fmt.Errorf("%s: %w", s.name, core.ErrClientClosed)
	}
	s.lastUsed = s.clock.Now()
	return nil
}

func (s *Session) checkPair(pair core.Pair) error {
	if !s.protocol.Symbols().Contains(pair) {
		return core.UnknownPairError(s.name, pair.String())
	}
	return nil
}

// FetchTicker returns the best bid/ask and last price for pair.
func (s *Session) FetchTicker(ctx context.Context, pair core.Pair) (*core.Ticker, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	if err := s.checkPair(pair); err != nil {
		return nil, err
	}

	ticker, err := call[*core.Ticker](ctx, s, core.OpGetTicker, core.Params{core.ParamPair: pair})
	if err != nil {
		return nil, err
	}
	if ticker.Pair.IsZero() {
		ticker.Pair = pair
	}
	if ticker.Timestamp.IsZero() {
		ticker.Timestamp = s.clock.Now()
	}
	return ticker, nil
}

// PlaceOrder submits req once per ClientOrderID. A repeated call returns the
// original order, refreshed with anything learned about it since.
func (s *Session) PlaceOrder(ctx context.Context, req *exchange.OrderRequest) (*core.OrderResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, invalidOrder(s.name, fmt.Errorf("order request is required"))
	}
	if err := req.Validate(); err != nil {
		return nil, invalidOrder(s.name, err)
	}
	if err := s.checkPair(req.Pair); err != nil {
		return nil, err
	}

	result, shared, err := s.dedup.Do(ctx, req.ClientOrderID, func(unsettled bool) (*core.OrderResult, error) {
		if unsettled {
			found, err := s.reconcile(ctx, req)
			if err != nil || found != nil {
				return found, err
			}
		}
		return s.submit(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug().
			Str("client_order_id", req.ClientOrderID).
			Str("order_id", result.ExchangeOrderID).
			Msg("duplicate submission returned original order")
		if latest, ok := s.orders.Get(result.ExchangeOrderID); ok {
			return latest, nil
		}
	}
	return result, nil
}

func (s *Session) submit(ctx context.Context, req *exchange.OrderRequest) (*core.OrderResult, error) {
	placed, err := call[*core.OrderResult](ctx, s, core.OpPlaceOrder, core.Params{core.ParamOrder: req})
	if core.IsKind(err, core.ErrorKindDuplicateOrder) {
		return s.resolveDuplicate(ctx, req, err)
	}
	if err != nil {
		return nil, err
	}
	if placed.ExchangeOrderID == "" {
		return nil, core.Errorf(s.name, core.ErrorKindUnknown, "order response carries no order id").
			WithCode(core.ErrCodeDecode)
	}

	result := s.orders.Put(merge(fromRequest(req, s.clock.Now()), placed))
	s.logger.Info().
		Str("order_id", result.ExchangeOrderID).
		Str("client_order_id", result.ClientOrderID).
		Str("pair", result.Pair.String()).
		Str("side", result.Side.String()).
		Str("status", result.Status.String()).
		Msg("order placed")
	return result, nil
}

// resolveDuplicate turns an exchange-side duplicate rejection into the original order.
func (s *Session) resolveDuplicate(ctx context.Context, req *exchange.OrderRequest, dupErr error) (*core.OrderResult, error) {
	if !s.protocol.Capabilities().LookupByClientID {
		return nil, core.Errorf(s.name, core.ErrorKindFatalExchange,
			"client order id %q was already used and cannot be looked up", req.ClientOrderID).
			WithCode(core.ErrCodeInvalidOrder).
			WithCause(dupErr)
	}
	s.logger.Info().
		Str("client_order_id", req.ClientOrderID).
		Msg("exchange reported duplicate client order id, fetching original")
	return s.lookupByClientID(ctx, req)
}

// reconcile looks for the order left by an earlier submission of req whose outcome
// is unknown. It returns nil, nil when the exchange has no such order.
func (s *Session) reconcile(ctx context.Context, req *exchange.OrderRequest) (*core.OrderResult, error) {
	if !s.protocol.Capabilities().LookupByClientID {
		return nil, core.Errorf(s.name, core.ErrorKindUnknown,
			"earlier submission of client order id %q has an unknown outcome", req.ClientOrderID).
			WithCode(core.ErrCodeOutcomeUnknown)
	}
	found, err := s.lookupByClientID(ctx, req)
	if core.IsKind(err, core.ErrorKindOrderNotFound) {
		s.logger.Debug().
			Str("client_order_id", req.ClientOrderID).
			Msg("earlier submission never reached the book, resubmitting")
		return nil, nil
	}
	if err != nil {
		return nil, core.Errorf(s.name, core.ErrorKindUnknown,
			"could not settle earlier submission of client order id %q", req.ClientOrderID).
			WithCode(core.ErrCodeOutcomeUnknown).
			WithCause(err)
	}
	s.logger.Info().
		Str("order_id", found.ExchangeOrderID).
		Str("client_order_id", req.ClientOrderID).
		Msg("recovered order from earlier submission")
	return found, nil
}

func (s *Session) lookupByClientID(ctx context.Context, req *exchange.OrderRequest) (*core.OrderResult, error) {
	original, err := call[*core.OrderResult](ctx, s, core.OpGetOrder, core.Params{
		core.ParamPair:          req.Pair,
		core.ParamClientOrderID: req.ClientOrderID,
	})
	if err != nil {
		return nil, err
	}
	return s.orders.Put(merge(fromRequest(req, s.clock.Now()), original)), nil
}

// CancelOrder cancels an open order. For an order that is already filled,
// canceled or rejected it returns the unchanged result together with an
// ErrorKindOrderAlreadyTerminal error.
func (s *Session) CancelOrder(ctx context.Context, req *exchange.CancelRequest) (*core.OrderResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, invalidOrder(s.name, fmt.Errorf("cancel request is required"))
	}
	if err := req.Validate(); err != nil {
		return nil, invalidOrder(s.name, err)
	}

	known, ok := s.orders.Get(req.OrderID)
	if ok && known.Status.IsTerminal() {
		return known, s.terminalError(known)
	}

	pair := req.Pair
	if pair.IsZero() && ok {
		pair = known.Pair
	}
	if pair.IsZero() {
		if s.protocol.Capabilities().CancelRequiresPair {
			return nil, core.Errorf(s.name, core.ErrorKindOrderNotFound,
				"order %s is not known to this client and no pair was given", req.OrderID).
				WithCode(core.ErrCodeNotFound)
		}
	} else if err := s.checkPair(pair); err != nil {
		return nil, err
	}

	canceled, err := call[*core.OrderResult](ctx, s, core.OpCancelOrder, core.Params{
		core.ParamPair:    pair,
		core.ParamOrderID: req.OrderID,
	})
	if err != nil {
		if core.IsKind(err, core.ErrorKindOrderNotFound) || core.IsKind(err, core.ErrorKindOrderAlreadyTerminal) {
			return s.explainCancelFailure(ctx, req.OrderID, pair, err)
		}
		return nil, err
	}

	base := known
	if base == nil {
		base = &core.OrderResult{ExchangeOrderID: req.OrderID, Pair: pair}
	}
	if canceled.UpdatedAt.IsZero() {
		canceled.UpdatedAt = s.clock.Now()
	}
	result := s.orders.Put(merge(base, canceled))
	s.logger.Info().
		Str("order_id", result.ExchangeOrderID).
		Str("status", result.Status.String()).
		Msg("order canceled")
	return result, nil
}

// explainCancelFailure polls the order after a refused cancel. Exchanges report
// cancels of finished orders inconsistently, some as unknown orders.
func (s *Session) explainCancelFailure(ctx context.Context, orderID string, pair core.Pair, cancelErr error) (*core.OrderResult, error) {
	if pair.IsZero() && s.protocol.Capabilities().CancelRequiresPair {
		return nil, cancelErr
	}
	current, err := s.fetchOrder(ctx, &exchange.OrderQuery{Pair: pair, OrderID: orderID})
	if err != nil {
		s.logger.Debug().Err(err).Str("order_id", orderID).Msg("order lookup after refused cancel failed")
		return nil, cancelErr
	}
	if current.Status.IsTerminal() {
		return current, s.terminalError(current)
	}
	return nil, cancelErr
}

func (s *Session) terminalError(r *core.OrderResult) error {
	return core.Errorf(s.name, core.ErrorKindOrderAlreadyTerminal,
		"order %s is already %s", r.ExchangeOrderID, r.Status)
}

// GetOrder polls the exchange for the order and records what it reports.
// Orders known to be terminal are answered locally.
func (s *Session) GetOrder(ctx context.Context, q *exchange.OrderQuery) (*core.OrderResult, error) {
	if err := s.begin(); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, invalidOrder(s.name, fmt.Errorf("order query is required"))
	}
	if err := q.Validate(); err != nil {
		return nil, invalidOrder(s.name, err)
	}
	return s.fetchOrder(ctx, q)
}

func (s *Session) fetchOrder(ctx context.Context, q *exchange.OrderQuery) (*core.OrderResult, error) {
	query := *q
	var known *core.OrderResult
	if query.OrderID != "" {
		known, _ = s.orders.Get(query.OrderID)
	} else if r, ok := s.orders.GetByClientID(query.ClientOrderID); ok {
		known = r
		query.OrderID = r.ExchangeOrderID
	}
	if known != nil {
		if known.Status.IsTerminal() {
			return known, nil
		}
		if query.Pair.IsZero() {
			query.Pair = known.Pair
		}
	}

	caps := s.protocol.Capabilities()
	if query.OrderID == "" && !caps.LookupByClientID {
		return nil, core.Errorf(s.name, core.ErrorKindOrderNotFound,
			"order with client id %q is not known to this client", query.ClientOrderID).
			WithCode(core.ErrCodeNotFound)
	}
	if query.Pair.IsZero() && caps.CancelRequiresPair {
		return nil, core.Errorf(s.name, core.ErrorKindOrderNotFound,
			"order %s is not known to this client and no pair was given", query.OrderID).
			WithCode(core.ErrCodeNotFound)
	}

	polled, err := call[*core.OrderResult](ctx, s, core.OpGetOrder, core.Params{
		core.ParamPair:          query.Pair,
		core.ParamOrderID:       query.OrderID,
		core.ParamClientOrderID: query.ClientOrderID,
	})
	if err != nil {
		return nil, err
	}
	if polled.ExchangeOrderID == "" {
		polled.ExchangeOrderID = query.OrderID
	}
	if polled.Pair.IsZero() {
		polled.Pair = query.Pair
	}
	if polled.UpdatedAt.IsZero() {
		polled.UpdatedAt = s.clock.Now()
	}
	return s.orders.Put(merge(known, polled)), nil
}

// StreamTrades yields public trades for pair until ctx ends, the consumer stops,
// or the transport gives up reconnecting. Undecodable messages are yielded as
// errors and the stream continues.
func (s *Session) StreamTrades(ctx context.Context, pair core.Pair) iter.Seq2[*core.TradeEvent, error] {
	return func(yield func(*core.TradeEvent, error) bool) {
		if err := s.begin(); err != nil {
			yield(nil, err)
			return
		}
		if err := s.checkPair(pair); err != nil {
			yield(nil, err)
			return
		}

		spec := core.StreamSpec{
			Channel: "trades:" + pair.String(),
			Resolve: func(ctx context.Context) (*core.StreamEndpoint, error) {
				return s.protocol.TradeStream(ctx, pair, s.transport.Send)
			},
		}
		for msg, err := range s.transport.OpenStream(ctx, spec) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			events, err := s.protocol.ParseTradeEvents(msg)
			if err != nil {
				s.logger.Debug().Err(err).Str("pair", pair.String()).Msg("undecodable trade message")
				decodeErr := core.Errorf(s.name, core.ErrorKindUnknown, "decode trade message: %v", err).
					WithCode(core.ErrCodeDecode).
					WithRaw(msg).
					WithCause(err)
				if !yield(nil, decodeErr) {
					return
				}
				continue
			}
			for i := range events {
				event := &events[i]
				if event.Pair.IsZero() {
					event.Pair = pair
				}
				if event.Pair != pair {
					continue
				}
				if !yield(event, nil) {
					return
				}
			}
		}
	}
}

// call runs one operation through the protocol and transport and type-checks the result.
func call[T any](ctx context.Context, s *Session, op core.Operation, params core.Params) (T, error) {
	var zero T

	req, err := s.protocol.BuildRequest(op, params)
	if err != nil {
		return zero, err
	}
	resp, err := s.transport.Send(ctx, req)
	if err != nil {
		return zero, err
	}
	result, err := s.protocol.ParseResponse(op, resp)
	if err != nil {
		if _, ok := core.AsExchangeError(err); ok {
			return zero, err
		}
		return zero, core.Errorf(s.name, core.ErrorKindUnknown, "decode %s response: %v", op, err).
			WithCode(core.ErrCodeDecode).
			WithRaw(resp.Body).
			WithCause(err)
	}
	typed, ok := result.(T)
	if !ok {
		return zero, core.Errorf(s.name, core.ErrorKindUnknown, "unexpected %s response type %T", op, result).
			WithCode(core.ErrCodeDecode)
	}
	return typed, nil
}

func invalidOrder(exchangeName string, err error) error {
	return core.Errorf(exchangeName, core.ErrorKindFatalExchange, "invalid order: %v", err).
		WithCode(core.ErrCodeInvalidOrder).
		WithCause(err)
}
