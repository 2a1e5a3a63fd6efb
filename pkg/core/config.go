package core

import (
	"errors"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Credentials holds API authentication credentials for an exchange.
// Values are never rendered in plaintext by String or by zerolog.
type Credentials struct {
	// APIKey is the public API key identifier.
	APIKey string `json:"api_key" validate:"required"`
	// SecretKey is the private API key used for signing requests.
	SecretKey string `json:"secret_key" validate:"required"`
	// Passphrase is an additional credential required by some exchanges.
	Passphrase string `json:"passphrase,omitempty"`
}

// NewCredentials copies the values into an immutable credential set.
func NewCredentials(apiKey, secretKey, passphrase string) Credentials {
	return Credentials{APIKey: apiKey, SecretKey: secretKey, Passphrase: passphrase}
}

// String masks every value.
func (c Credentials) String() string {
	return "Credentials{APIKey:" + mask(c.APIKey) + ", SecretKey:" + mask(c.SecretKey) +
		", Passphrase:" + mask(c.Passphrase) + "}"
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Str("api_key", mask(c.APIKey)).
		Bool("has_secret", c.SecretKey != "").
		Bool("has_passphrase", c.Passphrase != "")
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// Config contains all configuration options for an exchange client.
// It includes authentication, networking, rate limiting, idempotency, circuit breaker and stream settings.
type Config struct {
	Exchange    string       `json:"exchange" validate:"required"`
	Sandbox     bool         `json:"sandbox"`
	Credentials *Credentials `json:"-"`

	// BaseURL and StreamURL override the protocol endpoints, mostly for tests.
	BaseURL   string `json:"base_url,omitempty" validate:"omitempty,url"`
	StreamURL string `json:"stream_url,omitempty" validate:"omitempty,url"`

	// Timeout is the maximum duration for a single HTTP attempt.
	Timeout      time.Duration `json:"timeout" validate:"min=1ms"`
	MaxRetries   int           `json:"max_retries" validate:"min=0"`
	RetryWaitMin time.Duration `json:"retry_wait_min" validate:"min=0"`
	RetryWaitMax time.Duration `json:"retry_wait_max" validate:"min=0"`
	RetryJitter  float64       `json:"retry_jitter" validate:"min=0,max=1"`

	RateLimitRequests int           `json:"rate_limit_requests" validate:"min=1"`
	RateLimitPeriod   time.Duration `json:"rate_limit_period" validate:"min=1ms"`
	// OrderRateLimit caps order placement and cancellation per second. Zero uses the exchange default.
	OrderRateLimit int `json:"order_rate_limit" validate:"min=0"`
	// RateLimitWait bounds how long a call may queue for a token before failing.
	RateLimitWait time.Duration `json:"rate_limit_wait" validate:"min=1ms"`

	// DedupTTL is how long a client order id is remembered by exchanges without native idempotency.
	DedupTTL time.Duration `json:"dedup_ttl" validate:"min=1ms"`
	// OrderRetention is how long terminal orders stay in the local order store.
	OrderRetention time.Duration `json:"order_retention" validate:"min=1ms"`

	CircuitBreakerEnabled          bool          `json:"circuit_breaker_enabled"`
	CircuitBreakerFailThreshold    int           `json:"circuit_breaker_fail_threshold"`
	CircuitBreakerSuccessThreshold int           `json:"circuit_breaker_success_threshold"`
	CircuitBreakerTimeout          time.Duration `json:"circuit_breaker_timeout"`

	StreamReconnectMin  time.Duration `json:"stream_reconnect_min" validate:"min=1ms"`
	StreamReconnectMax  time.Duration `json:"stream_reconnect_max" validate:"min=1ms"`
	StreamMaxReconnects int           `json:"stream_max_reconnects" validate:"min=0"`
	StreamPingInterval  time.Duration `json:"stream_ping_interval" validate:"min=0"`
	StreamIdleTimeout   time.Duration `json:"stream_idle_timeout" validate:"min=1ms"`

	// Pairs is the configured pair set. Empty means DefaultPairs.
	Pairs []Pair `json:"pairs,omitempty"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the specified exchange.
// Default values: 10s timeout, 3 retries with 100ms-2s jittered backoff, 1200 req/min,
// 5s rate limit wait, 24h dedup window, circuit breaker with 5 failures/2 successes/30s timeout.
func DefaultConfig(exchange string) *Config {
	return &Config{
		Exchange:     exchange,
		Sandbox:      false,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: 2 * time.Second,
		RetryJitter:  0.2,

		RateLimitRequests: 1200,
		RateLimitPeriod:   time.Minute,
		RateLimitWait:     5 * time.Second,

		DedupTTL:       24 * time.Hour,
		OrderRetention: time.Hour,

		CircuitBreakerEnabled:          true,
		CircuitBreakerFailThreshold:    5,
		CircuitBreakerSuccessThreshold: 2,
		CircuitBreakerTimeout:          30 * time.Second,

		StreamReconnectMin: 500 * time.Millisecond,
		StreamReconnectMax: 30 * time.Second,
		StreamPingInterval: 20 * time.Second,
		StreamIdleTimeout:  90 * time.Second,

		Pairs: DefaultPairs(),

		LogLevel: "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.RetryWaitMax < c.RetryWaitMin {
		return errors.New("RetryWaitMax must not be lower than RetryWaitMin")
	}
	if c.StreamReconnectMax < c.StreamReconnectMin {
		return errors.New("StreamReconnectMax must not be lower than StreamReconnectMin")
	}
	if c.CircuitBreakerEnabled {
		if c.CircuitBreakerFailThreshold <= 0 {
			return errors.New("CircuitBreakerFailThreshold must be positive when enabled")
		}
		if c.CircuitBreakerSuccessThreshold <= 0 {
			return errors.New("CircuitBreakerSuccessThreshold must be positive when enabled")
		}
		if c.CircuitBreakerTimeout <= 0 {
			return errors.New("CircuitBreakerTimeout must be positive when enabled")
		}
	}
	return nil
}

// Clone returns a copy that can be modified without affecting c.
func (c *Config) Clone() *Config {
	cp := *c
	if c.Credentials != nil {
		creds := *c.Credentials
		cp.Credentials = &creds
	}
	cp.Pairs = slices.Clone(c.Pairs)
	return &cp
}

// WithCredentials sets the API credentials and returns the config for chaining.
func (c *Config) WithCredentials(creds Credentials) *Config {
	c.Credentials = &creds
	return c
}

// WithSandbox enables or disables sandbox mode and returns the config for chaining.
func (c *Config) WithSandbox(sandbox bool) *Config {
	c.Sandbox = sandbox
	return c
}

// WithTimeout sets the request timeout and returns the config for chaining.
func (c *Config) WithTimeout(timeout time.Duration) *Config {
	c.Timeout = timeout
	return c
}

// WithRetry sets the retry budget and backoff bounds and returns the config for chaining.
func (c *Config) WithRetry(maxRetries int, waitMin, waitMax time.Duration) *Config {
	c.MaxRetries = maxRetries
	c.RetryWaitMin = waitMin
	c.RetryWaitMax = waitMax
	return c
}

// WithRateLimit sets the rate limiting parameters and returns the config for chaining.
func (c *Config) WithRateLimit(requests int, period time.Duration) *Config {
	c.RateLimitRequests = requests
	c.RateLimitPeriod = period
	return c
}

// WithDedupTTL sets how long client order ids are remembered.
func (c *Config) WithDedupTTL(ttl time.Duration) *Config {
	c.DedupTTL = ttl
	return c
}

// WithCircuitBreaker enables or disables the breaker and returns the config for chaining.
func (c *Config) WithCircuitBreaker(enabled bool) *Config {
	c.CircuitBreakerEnabled = enabled
	return c
}

// WithEndpoints overrides the REST and stream endpoints.
func (c *Config) WithEndpoints(baseURL, streamURL string) *Config {
	c.BaseURL = baseURL
	c.StreamURL = streamURL
	return c
}

// WithStreamReconnect sets the reconnect backoff bounds and the attempt limit (zero for unlimited).
func (c *Config) WithStreamReconnect(minWait, maxWait time.Duration, maxAttempts int) *Config {
	c.StreamReconnectMin = minWait
	c.StreamReconnectMax = maxWait
	c.StreamMaxReconnects = maxAttempts
	return c
}

// WithPairs sets the configured pair set.
func (c *Config) WithPairs(pairs ...Pair) *Config {
	c.Pairs = slices.Clone(pairs)
	return c
}
