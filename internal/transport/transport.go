// Package transport executes exchange requests over REST and websocket streams.
// It owns admission control, signing, retries and reconnection for one exchange.
package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"exgate/internal/circuitbreaker"
	"exgate/internal/ratelimit"
	"exgate/internal/retry"
	"exgate/pkg/core"
)

// Codec is the part of an exchange protocol the transport needs.
type Codec interface {
	Name() string
	BaseURL(sandbox bool) string
	SignRequest(req *core.Request, creds core.Credentials, now time.Time) error
	DecodeError(resp *core.Response) *core.ExchangeError
	RateLimits() core.RateLimitConfig
}

// Transport is the authenticated HTTP and websocket client for one exchange.
// It is safe for concurrent use.
type Transport struct {
	name    string
	config  *core.Config
	codec   Codec
	creds   *core.Credentials
	http    *resty.Client
	limiter *ratelimit.RateLimiter
	breaker *circuitbreaker.Breaker
	retry   *retry.Policy
	clock   clock.Clock
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

type Option func(*Transport)

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// WithClock sets the time source used for signing timestamps and the breaker.
func WithClock(c clock.Clock) Option {
	return func(t *Transport) { t.clock = c }
}

func WithRateLimiter(limiter *ratelimit.RateLimiter) Option {
	return func(t *Transport) { t.limiter = limiter }
}

func WithBreaker(breaker *circuitbreaker.Breaker) Option {
	return func(t *Transport) { t.breaker = breaker }
}

// New builds a transport for the exchange described by codec.
// The config is copied; later changes to it have no effect.
func New(config *core.Config, codec Codec, opts ...Option) (*Transport, error) {
	if err := config.Validate(); err != nil {
		return nil, core.Errorf(codec.Name(), core.ErrorKindConfiguration, "invalid config: %v", err).
			WithCode(core.ErrCodeInvalidConfig).
			WithCause(err)
	}
	config = config.Clone()

	t := &Transport{
		name:   codec.Name(),
		config: config,
		codec:  codec,
		creds:  config.Credentials,
		clock:  clock.New(),
		logger: zerolog.Nop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With().Str("exchange", t.name).Logger()

	if t.limiter == nil {
		t.limiter = newLimiter(config, codec.RateLimits())
	}
	if t.breaker == nil && config.CircuitBreakerEnabled {
		t.breaker = circuitbreaker.New(circuitbreaker.Config{
			FailThreshold:    config.CircuitBreakerFailThreshold,
			SuccessThreshold: config.CircuitBreakerSuccessThreshold,
			Timeout:          config.CircuitBreakerTimeout,
		}, circuitbreaker.WithClock(t.clock), circuitbreaker.WithStateChange(func(from, to circuitbreaker.State) {
			t.logger.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		}))
	}
	t.retry = retry.New(retry.ConfigFrom(config), retry.WithLogger(t.logger))

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = codec.BaseURL(config.Sandbox)
	}
	t.http = newHTTPClient(baseURL, config.Timeout, t.logger)

	return t, nil
}

func newLimiter(config *core.Config, limits core.RateLimitConfig) *ratelimit.RateLimiter {
	limiter := ratelimit.New(config.RateLimitRequests, config.RateLimitPeriod).
		WithMaxWait(config.RateLimitWait)

	orders := config.OrderRateLimit
	if orders == 0 {
		orders = limits.OrdersPerSecond
	}
	if orders > 0 {
		limiter.SetBucketLimit(string(core.BucketOrders), orders, time.Second)
	}
	return limiter
}

// Name returns the exchange this transport talks to.
func (t *Transport) Name() string {
	return t.name
}

// RateLimitState exposes the global token bucket.
func (t *Transport) RateLimitState() ratelimit.State {
	return t.limiter.State()
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

// Close stops open streams and releases the HTTP client. It is idempotent.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	return t.http.Close()
}

func (t *Transport) closedError() error {
	return fmt.Errorf("%s: %w", t.name, core.ErrClientClosed)
}
