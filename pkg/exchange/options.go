package exchange

import (
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Option configures a client at construction time.
type Option func(*Options)

type Options struct {
	Logger zerolog.Logger
	Clock  clock.Clock
	// Transport replaces the network transport, mostly for tests.
	Transport Transport
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock sets the time source for order bookkeeping and idempotency windows.
func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

func WithTransport(t Transport) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

func ApplyOptions(opts ...Option) *Options {
	o := &Options{
		Logger: zerolog.Nop(),
		Clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
