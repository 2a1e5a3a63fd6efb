package core

import (
	"slices"
	"strings"
)

// SymbolFormatter renders a canonical pair in an exchange's native notation.
type SymbolFormatter func(Pair) string

// SymbolTable maps canonical pairs to native symbols and back.
// It is built once from the configured pair set and is read-only afterwards.
type SymbolTable struct {
	exchange    string
	pairs       []Pair
	toNative    map[Pair]string
	toCanonical map[string]Pair
}

// NewSymbolTable builds the table for pairs using format for the native form.
func NewSymbolTable(exchange string, pairs []Pair, format SymbolFormatter) *SymbolTable {
	t := &SymbolTable{
		exchange:    exchange,
		toNative:    make(map[Pair]string, len(pairs)),
		toCanonical: make(map[string]Pair, len(pairs)),
	}
	for _, p := range pairs {
		if _, ok := t.toNative[p]; ok {
			continue
		}
		native := format(p)
		t.pairs = append(t.pairs, p)
		t.toNative[p] = native
		t.toCanonical[strings.ToUpper(native)] = p
	}
	return t
}

// Alias registers an additional native spelling that resolves to p.
// Aliases never change the primary native symbol returned by ToNative.
func (t *SymbolTable) Alias(native string, p Pair) *SymbolTable {
	if _, ok := t.toNative[p]; ok {
		t.toCanonical[strings.ToUpper(native)] = p
	}
	return t
}

// ToNative returns the exchange symbol for p.
func (t *SymbolTable) ToNative(p Pair) (string, error) {
	native, ok := t.toNative[p]
	if !ok {
		return "", UnknownPairError(t.exchange, p.String())
	}
	return native, nil
}

// ToCanonical resolves an exchange symbol, case-insensitively.
func (t *SymbolTable) ToCanonical(native string) (Pair, error) {
	p, ok := t.toCanonical[strings.ToUpper(native)]
	if !ok {
		return Pair{}, UnknownPairError(t.exchange, native)
	}
	return p, nil
}

// Contains reports whether p is configured.
func (t *SymbolTable) Contains(p Pair) bool {
	_, ok := t.toNative[p]
	return ok
}

// Pairs returns the configured pairs in configuration order.
func (t *SymbolTable) Pairs() []Pair {
	return slices.Clone(t.pairs)
}

// ErrorRule maps an exchange error code, or a message fragment, to a kind.
type ErrorRule struct {
	Code     string
	Contains string
	Kind     ErrorKind
}

// ErrorTable classifies exchange error codes. Rules are checked in order;
// a rule with both Code and Contains set needs both to match.
type ErrorTable struct {
	exchange string
	rules    []ErrorRule
}

// NewErrorTable returns a table for the exchange.
func NewErrorTable(exchange string, rules ...ErrorRule) *ErrorTable {
	return &ErrorTable{exchange: exchange, rules: rules}
}

// Map returns the kind for code and message, or ErrorKindUnknown when no rule matches.
func (t *ErrorTable) Map(code, message string) ErrorKind {
	lower := strings.ToLower(message)
	for _, r := range t.rules {
		if r.Code != "" && r.Code != code {
			continue
		}
		if r.Contains != "" && !strings.Contains(lower, strings.ToLower(r.Contains)) {
			continue
		}
		return r.Kind
	}
	return ErrorKindUnknown
}

// Error builds an ExchangeError for an exchange-reported code, keeping the raw body.
// Unmapped codes take the kind implied by a rate-limit, auth or server status.
func (t *ErrorTable) Error(statusCode int, code, message string, raw []byte) *ExchangeError {
	kind := t.Map(code, message)
	if kind == ErrorKindUnknown {
		if se := StatusError(t.exchange, &Response{StatusCode: statusCode}); se != nil &&
			(se.Kind != ErrorKindFatalExchange || ErrorCode(se.Code) == ErrCodeAuth) {
			kind = se.Kind
		}
	}
	return NewExchangeErrorWithCode(t.exchange, kind, statusCode, code, message).WithRaw(raw)
}
