package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"exgate/pkg/core"
)

// State is where a call stands in its retry lifecycle.
type State int

const (
	StateAttempting State = iota
	StateSucceeded
	StateRetryableFailure
	StateFailed
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateAttempting:
		return "ATTEMPTING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateRetryableFailure:
		return "RETRYABLE_FAILURE"
	case StateFailed:
		return "FAILED"
	case StateExhausted:
		return "EXHAUSTED"
	}
	return "UNKNOWN"
}

// Config holds the backoff schedule. MaxRetries counts retries, so a call makes
// at most MaxRetries+1 attempts.
type Config struct {
	MaxRetries int
	BaseWait   time.Duration
	MaxWait    time.Duration
	Multiplier float64
	// Jitter is the randomization factor applied to each wait, in [0, 1].
	Jitter float64
}

// ConfigFrom derives the schedule from an exchange config.
func ConfigFrom(c *core.Config) Config {
	return Config{
		MaxRetries: c.MaxRetries,
		BaseWait:   c.RetryWaitMin,
		MaxWait:    c.RetryWaitMax,
		Multiplier: 2,
		Jitter:     c.RetryJitter,
	}
}

// Result describes how a call ended.
type Result struct {
	Attempts int
	State    State
	// Waited is the total backoff slept between attempts.
	Waited time.Duration
}

// Operation is one attempt. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) error

// Policy decides whether and when a failed attempt is repeated.
type Policy struct {
	config   Config
	classify func(error) bool
	logger   zerolog.Logger
}

type Option func(*Policy)

// WithClassifier replaces core.IsRetryable as the retry decision.
func WithClassifier(fn func(error) bool) Option {
	return func(p *Policy) { p.classify = fn }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Policy) { p.logger = logger }
}

func New(config Config, opts ...Option) *Policy {
	p := &Policy{
		config:   config,
		classify: core.IsRetryable,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Permanent marks err as not worth retrying regardless of its kind.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

func (p *Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.BaseWait
	b.MaxInterval = p.config.MaxWait
	if p.config.Multiplier > 0 {
		b.Multiplier = p.config.Multiplier
	}
	b.RandomizationFactor = p.config.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(0, p.config.MaxRetries))), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error, the retry
// budget runs out, or ctx ends. The last error is returned unchanged.
func (p *Policy) Do(ctx context.Context, op Operation) (Result, error) {
	var (
		res       Result
		permanent bool
	)

	operation := func() error {
		res.Attempts++
		res.State = StateAttempting
		err := op(ctx, res.Attempts)
		if err == nil {
			return nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			permanent = true
			return err
		}
		if !p.classify(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		res.State = StateRetryableFailure
		return err
	}

	notify := func(err error, wait time.Duration) {
		res.Waited += wait
		p.logger.Debug().
			Err(err).
			Int("attempt", res.Attempts).
			Dur("wait", wait).
			Msg("retrying after transient failure")
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	switch {
	case err == nil:
		res.State = StateSucceeded
	case permanent || ctx.Err() != nil:
		res.State = StateFailed
	default:
		res.State = StateExhausted
	}
	return res, err
}
