package core

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
)

type Params map[string]any

// Pair returns the pair stored under ParamPair, or the zero pair.
func (p Params) Pair() Pair {
	pair, _ := p[ParamPair].(Pair)
	return pair
}

// Str returns the string stored under key, or "".
func (p Params) Str(key string) string {
	s, _ := p[key].(string)
	return s
}

// RequiredString returns the non-empty string stored under key.
func (p Params) RequiredString(key string) (string, error) {
	s := p.Str(key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	return s, nil
}

// Bucket names a rate-limit bucket a request draws from in addition to the global one.
type Bucket string

// BucketOrders throttles order placement and cancellation.
const BucketOrders Bucket = "orders"

// Request is a transport-agnostic description of one REST call.
// Protocols build it, sign it in place, and Transport executes it.
type Request struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	// Query is encoded by the transport. RawQuery is sent verbatim and
	// is used when the signature covers the exact query string.
	Query    url.Values `json:"query,omitempty"`
	RawQuery string     `json:"raw_query,omitempty"`
	// Body is sent as JSON; Form is sent url-encoded. At most one is set.
	Body    any               `json:"body,omitempty"`
	Form    url.Values        `json:"form,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Weight  int               `json:"weight"`
	Bucket  Bucket            `json:"bucket,omitempty"`

	RequireAuth bool `json:"require_auth"`
	// Idempotent requests may be retried after the exchange could have seen them.
	Idempotent bool `json:"idempotent"`
}

func NewRequest(method, path string) *Request {
	return &Request{
		Method:     method,
		Path:       path,
		Query:      make(url.Values),
		Headers:    make(map[string]string),
		Weight:     1,
		Idempotent: method == http.MethodGet,
	}
}

func (r *Request) SetQuery(key, value string) *Request {
	if r.Query == nil {
		r.Query = make(url.Values)
	}
	r.Query.Set(key, value)
	return r
}

func (r *Request) SetForm(key, value string) *Request {
	if r.Form == nil {
		r.Form = make(url.Values)
	}
	r.Form.Set(key, value)
	return r
}

func (r *Request) SetBody(body any) *Request {
	r.Body = body
	return r
}

func (r *Request) SetHeader(key, value string) *Request {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
	return r
}

func (r *Request) SetWeight(weight int) *Request {
	r.Weight = weight
	return r
}

func (r *Request) SetBucket(bucket Bucket) *Request {
	r.Bucket = bucket
	return r
}

func (r *Request) SetRequireAuth(require bool) *Request {
	r.RequireAuth = require
	return r
}

func (r *Request) SetIdempotent(idempotent bool) *Request {
	r.Idempotent = idempotent
	return r
}

// Clone copies the request so a signer can mutate it per attempt.
func (r *Request) Clone() *Request {
	c := *r
	c.Query = cloneValues(r.Query)
	c.Form = cloneValues(r.Form)
	c.Headers = maps.Clone(r.Headers)
	if c.Headers == nil {
		c.Headers = make(map[string]string)
	}
	return &c
}

// URI returns the path plus the query string that will be sent.
func (r *Request) URI() string {
	q := r.RawQuery
	if q == "" && len(r.Query) > 0 {
		q = r.Query.Encode()
	}
	if q == "" {
		return r.Path
	}
	return r.Path + "?" + q
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	c := make(url.Values, len(v))
	for k, vs := range v {
		c[k] = append([]string(nil), vs...)
	}
	return c
}

// Response is the raw outcome of a REST call handed back to the protocol for decoding.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
