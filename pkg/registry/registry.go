// Package registry resolves exchange names to configured client singletons.
package registry

import (
	"slices"
	"strings"

	"exgate/pkg/config"
	"exgate/pkg/core"
	"exgate/pkg/exchange"
	"exgate/pkg/exchange/binance"
	"exgate/pkg/exchange/kraken"
	"exgate/pkg/exchange/kucoin"
)

// Name identifies a supported exchange.
type Name string

const (
	Binance Name = binance.Name
	KuCoin  Name = kucoin.Name
	Kraken  Name = kraken.Name
)

type constructor struct {
	needsPassphrase bool
	create          func(*core.Config, ...exchange.Option) (exchange.Client, error)
}

var constructors = map[Name]constructor{
	Binance: {create: func(c *core.Config, opts ...exchange.Option) (exchange.Client, error) {
		return asClient(binance.New(c, opts...))
	}},
	KuCoin: {needsPassphrase: true, create: func(c *core.Config, opts ...exchange.Option) (exchange.Client, error) {
		return asClient(kucoin.New(c, opts...))
	}},
	Kraken: {create: func(c *core.Config, opts ...exchange.Option) (exchange.Client, error) {
		return asClient(kraken.New(c, opts...))
	}},
}

// asClient keeps a failed constructor from producing a non-nil interface.
func asClient[T exchange.Client](client T, err error) (exchange.Client, error) {
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Supported returns the supported exchange names in sorted order.
func Supported() []Name {
	names := make([]Name, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseName resolves s case-insensitively.
func ParseName(s string) (Name, error) {
	name := Name(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := constructors[name]; !ok {
		return "", core.Errorf(string(name), core.ErrorKindUnsupportedExchange, "exchange %q is not supported", s)
	}
	return name, nil
}

// Registry builds at most one client per exchange and hands out the same
// instance afterwards. It is safe for concurrent use.
type Registry struct {
	config  *config.Config
	opts    []exchange.Option
	clients *exchange.Container
}

// New creates a registry over cfg. opts are passed to every client it builds.
func New(cfg *config.Config, opts ...exchange.Option) *Registry {
	return &Registry{
		config:  cfg,
		opts:    opts,
		clients: exchange.NewContainer(),
	}
}

// Create returns the client for name, building it on first use. Clients that
// cannot trade because credentials are missing are never built.
func (r *Registry) Create(name string) (exchange.Client, error) {
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	return r.clients.GetOrCreate(string(n), func() (exchange.Client, error) {
		return r.build(n)
	})
}

func (r *Registry) build(name Name) (exchange.Client, error) {
	ctor := constructors[name]
	settings, err := r.config.Exchange(string(name))
	if err != nil {
		return nil, core.Errorf(string(name), core.ErrorKindConfiguration, "%v", err).
			WithCode(core.ErrCodeInvalidConfig).
			WithCause(err)
	}
	if !settings.HasCredentials() {
		return nil, core.Errorf(string(name), core.ErrorKindConfiguration, "api key and secret are required").
			WithCode(core.ErrCodeNoCredentials)
	}
	if ctor.needsPassphrase && settings.Passphrase == "" {
		return nil, core.Errorf(string(name), core.ErrorKindConfiguration, "passphrase is required").
			WithCode(core.ErrCodeNoCredentials)
	}

	pairs, err := r.SupportedPairs(string(name))
	if err != nil {
		return nil, err
	}
	return ctor.create(settings.ClientConfig(string(name), pairs), r.opts...)
}

// SupportedPairs returns the pairs configured for name, or the global pair set
// when name has none.
func (r *Registry) SupportedPairs(name string) ([]core.Pair, error) {
	n, err := ParseName(name)
	if err != nil {
		return nil, err
	}
	settings, err := r.config.Exchange(string(n))
	if err != nil {
		return nil, core.Errorf(string(n), core.ErrorKindConfiguration, "%v", err).
			WithCode(core.ErrCodeInvalidConfig).
			WithCause(err)
	}
	pairs, err := settings.ParsedPairs()
	if err != nil {
		return nil, core.Errorf(string(n), core.ErrorKindConfiguration, "pairs: %v", err).
			WithCode(core.ErrCodeInvalidConfig).
			WithCause(err)
	}
	if len(pairs) == 0 {
		return slices.Clone(r.config.AllPairs), nil
	}
	return pairs, nil
}

// Created returns the names of the clients built so far.
func (r *Registry) Created() []string {
	return r.clients.Names()
}

// Close closes every client built by the registry.
func (r *Registry) Close() error {
	return r.clients.Close()
}
