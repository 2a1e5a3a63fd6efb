package core

import (
	"slices"
	"strings"
)

// Pair is a canonical trading pair such as BTC/USDT.
type Pair struct {
	Base  string
	Quote string
}

// NewPair returns a Pair with upper-cased assets.
func NewPair(base, quote string) Pair {
	return Pair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair accepts BTC/USDT, btc-usdt and BTC_USDT.
func ParsePair(s string) (Pair, error) {
	i := strings.IndexAny(s, "/-_")
	if i <= 0 || i == len(s)-1 {
		return Pair{}, &ParseError{Field: "pair", Value: s}
	}
	p := NewPair(s[:i], s[i+1:])
	if p.Base == "" || p.Quote == "" || strings.ContainsAny(p.Quote, "/-_") {
		return Pair{}, &ParseError{Field: "pair", Value: s}
	}
	return p, nil
}

// MustParsePair is ParsePair for literals; it panics on malformed input.
func MustParsePair(s string) Pair {
	p, err := ParsePair(s)
	if err != nil {
		panic(err)
	}
	return p
}

// ParsePairs parses every entry, failing on the first malformed one.
// Duplicates are dropped while preserving order.
func ParsePairs(values []string) ([]Pair, error) {
	pairs := make([]Pair, 0, len(values))
	for _, v := range values {
		p, err := ParsePair(v)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(pairs, p) {
			pairs = append(pairs, p)
		}
	}
	return pairs, nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// IsZero reports whether the pair is unset.
func (p Pair) IsZero() bool {
	return p.Base == "" && p.Quote == ""
}

// MarshalText implements encoding.TextMarshaler.
func (p Pair) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pair) UnmarshalText(text []byte) error {
	parsed, err := ParsePair(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// DefaultPairs is the global pair set used when nothing else is configured.
func DefaultPairs() []Pair {
	return []Pair{
		{Base: "BTC", Quote: "USDT"},
		{Base: "ETH", Quote: "USDT"},
		{Base: "SOL", Quote: "USDT"},
		{Base: "XRP", Quote: "USDT"},
		{Base: "ETH", Quote: "BTC"},
	}
}
