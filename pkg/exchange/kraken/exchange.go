package kraken

import (
	"exgate/pkg/core"
	"exgate/pkg/exchange"
	"exgate/pkg/session"
)

// Exchange is the Kraken spot client.
type Exchange struct {
	*session.Session
}

var _ exchange.Client = (*Exchange)(nil)

// New creates a Kraken client. The API secret is the base64 string Kraken issues.
func New(config *core.Config, opts ...exchange.Option) (*Exchange, error) {
	if config == nil {
		return nil, core.Errorf(Name, core.ErrorKindConfiguration, "config is required").
			WithCode(core.ErrCodeInvalidConfig)
	}
	s, err := session.New(config, NewProtocol(config), opts...)
	if err != nil {
		return nil, err
	}
	return &Exchange{Session: s}, nil
}
