package kucoin

import (
	"exgate/pkg/core"
	"exgate/pkg/exchange"
	"exgate/pkg/session"
)

// Exchange is the KuCoin spot client.
type Exchange struct {
	*session.Session
}

var _ exchange.Client = (*Exchange)(nil)

// New creates a KuCoin client. Order calls need an API key, secret and passphrase.
func New(config *core.Config, opts ...exchange.Option) (*Exchange, error) {
	if config == nil {
		return nil, core.Errorf(Name, core.ErrorKindConfiguration, "config is required").
			WithCode(core.ErrCodeInvalidConfig)
	}
	if config.Credentials != nil && config.Credentials.Passphrase == "" {
		return nil, core.Errorf(Name, core.ErrorKindConfiguration, "kucoin credentials require a passphrase").
			WithCode(core.ErrCodeNoCredentials)
	}
	s, err := session.New(config, NewProtocol(config), opts...)
	if err != nil {
		return nil, err
	}
	return &Exchange{Session: s}, nil
}
