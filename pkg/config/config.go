// Package config loads gateway settings from a YAML file, EXGATE_* environment
// variables and a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"exgate/pkg/core"
)

// EnvPrefix prefixes every environment variable, e.g. EXGATE_EXCHANGES_KUCOIN_PASSPHRASE.
const EnvPrefix = "EXGATE"

// Config is the loaded gateway configuration.
type Config struct {
	LogLevel string
	AllPairs []core.Pair

	v *viper.Viper
}

// Exchange holds the settings of one exchange. Zero durations and counts keep
// the client defaults.
type Exchange struct {
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Passphrase string        `mapstructure:"passphrase"`
	Sandbox    bool          `mapstructure:"sandbox"`
	Pairs      []string      `mapstructure:"pairs"`
	BaseURL    string        `mapstructure:"base_url"`
	StreamURL  string        `mapstructure:"stream_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	DedupTTL   time.Duration `mapstructure:"dedup_ttl"`
}

// Load reads path, or exgate.yaml from the working directory when path is empty.
// A missing default file or .env is not an error. Variables from .env never
// override the process environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	pairs := make([]string, 0, len(core.DefaultPairs()))
	for _, p := range core.DefaultPairs() {
		pairs = append(pairs, p.String())
	}
	v.SetDefault("log_level", "info")
	v.SetDefault("all_pairs", pairs)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("exgate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	allPairs, err := core.ParsePairs(stringList(v, "all_pairs"))
	if err != nil {
		return nil, fmt.Errorf("all_pairs: %w", err)
	}
	if len(allPairs) == 0 {
		return nil, errors.New("all_pairs must not be empty")
	}

	return &Config{
		LogLevel: v.GetString("log_level"),
		AllPairs: allPairs,
		v:        v,
	}, nil
}

// Exchange returns the settings for name. Keys are resolved one by one so
// environment variables apply even when the file has no section for name.
func (c *Config) Exchange(name string) (*Exchange, error) {
	name = strings.ToLower(name)
	key := func(field string) string { return "exchanges." + name + "." + field }

	e := &Exchange{
		APIKey:     c.v.GetString(key("api_key")),
		APISecret:  c.v.GetString(key("api_secret")),
		Passphrase: c.v.GetString(key("passphrase")),
		Sandbox:    c.v.GetBool(key("sandbox")),
		Pairs:      stringList(c.v, key("pairs")),
		BaseURL:    c.v.GetString(key("base_url")),
		StreamURL:  c.v.GetString(key("stream_url")),
		Timeout:    c.v.GetDuration(key("timeout")),
		MaxRetries: c.v.GetInt(key("max_retries")),
		DedupTTL:   c.v.GetDuration(key("dedup_ttl")),
	}
	if _, err := e.ParsedPairs(); err != nil {
		return nil, fmt.Errorf("exchanges.%s.pairs: %w", name, err)
	}
	return e, nil
}

// ParsedPairs returns the exchange-specific pairs, nil when none are configured.
func (e *Exchange) ParsedPairs() ([]core.Pair, error) {
	if len(e.Pairs) == 0 {
		return nil, nil
	}
	return core.ParsePairs(e.Pairs)
}

// HasCredentials reports whether both the key and the secret are set.
func (e *Exchange) HasCredentials() bool {
	return e.APIKey != "" && e.APISecret != ""
}

// ClientConfig builds the client configuration for name with pairs as the pair set.
func (e *Exchange) ClientConfig(name string, pairs []core.Pair) *core.Config {
	cfg := core.DefaultConfig(name).
		WithSandbox(e.Sandbox).
		WithEndpoints(e.BaseURL, e.StreamURL).
		WithPairs(pairs...)
	if e.HasCredentials() {
		cfg.WithCredentials(core.NewCredentials(e.APIKey, e.APISecret, e.Passphrase))
	}
	if e.Timeout > 0 {
		cfg.WithTimeout(e.Timeout)
	}
	if e.MaxRetries > 0 {
		cfg.MaxRetries = e.MaxRetries
	}
	if e.DedupTTL > 0 {
		cfg.WithDedupTTL(e.DedupTTL)
	}
	return cfg
}

// stringList reads a list that may come from YAML or from a comma or space
// separated environment variable.
func stringList(v *viper.Viper, key string) []string {
	var out []string
	for _, item := range v.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
