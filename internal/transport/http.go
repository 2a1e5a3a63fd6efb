package transport

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"resty.dev/v3"

	"exgate/internal/ratelimit"
	"exgate/internal/retry"
	"exgate/pkg/core"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

func newHTTPClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *resty.Client {
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(timeout)
	// Retries are decided per request by the retry policy, never by resty.
	client.SetRetryCount(0)

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Int("size", len(resp.Bytes())).
			Msg("http response")
		return nil
	})

	return client
}

// Send executes req with admission control, signing and retries.
// Requests that are not idempotent are only repeated when the failure shows the
// exchange never accepted them.
func (t *Transport) Send(ctx context.Context, req *core.Request) (*core.Response, error) {
	if t.isClosed() {
		return nil, t.closedError()
	}
	if req.RequireAuth && t.creds == nil {
		return nil, core.Errorf(t.name, core.ErrorKindConfiguration, "%s %s requires credentials", req.Method, req.Path).
			WithCode(core.ErrCodeNoCredentials)
	}

	var resp *core.Response
	result, err := t.retry.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := t.attempt(ctx, req)
		if err != nil {
			if !req.Idempotent && !core.NeverAccepted(err) {
				return retry.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	})

	if err != nil {
		t.logger.Warn().
			Err(err).
			Str("method", req.Method).
			Str("path", req.Path).
			Int("attempts", result.Attempts).
			Str("state", result.State.String()).
			Msg("request failed")
		return nil, err
	}

	t.logger.Debug().
		Str("method", req.Method).
		Str("path", req.Path).
		Int("attempts", result.Attempts).
		Msg("request succeeded")
	return resp, nil
}

// attempt performs one admission, sign and execute cycle.
func (t *Transport) attempt(ctx context.Context, req *core.Request) (*core.Response, error) {
	if err := t.limiter.Admit(ctx, string(req.Bucket), req.Weight); err != nil {
		if errors.Is(err, ratelimit.ErrWaitTimeout) {
			return nil, core.Errorf(t.name, core.ErrorKindRateLimitExceeded, "%v", err).
				WithCode(core.ErrCodeRateWait).
				WithCause(err)
		}
		return nil, err
	}

	if t.breaker != nil && !t.breaker.Allow() {
		return nil, core.Errorf(t.name, core.ErrorKindTransientNetwork, "circuit breaker open, retry in %s", t.breaker.RetryAfter()).
			WithCode(core.ErrCodeCircuitBreaker)
	}

	signed := req.Clone()
	if req.RequireAuth {
		if err := t.codec.SignRequest(signed, *t.creds, t.clock.Now()); err != nil {
			return nil, retry.Permanent(core.Errorf(t.name, core.ErrorKindConfiguration, "sign request: %v", err).
				WithCode(core.ErrCodeInvalidConfig).
				WithCause(err))
		}
	}

	r, err := t.buildRequest(ctx, signed)
	if err != nil {
		return nil, retry.Permanent(err)
	}

	httpResp, err := r.Execute(signed.Method, signed.URI())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		t.record(false)
		return nil, t.networkError(err)
	}

	resp := &core.Response{
		StatusCode: httpResp.StatusCode(),
		Body:       httpResp.Bytes(),
		Header:     httpResp.Header(),
	}

	exErr := t.codec.DecodeError(resp)
	if exErr == nil && !resp.IsSuccess() {
		exErr = core.StatusError(t.name, resp)
	}
	if exErr != nil {
		t.record(exErr.Kind != core.ErrorKindTransientNetwork)
		return nil, exErr
	}

	t.record(true)
	return resp, nil
}

func (t *Transport) buildRequest(ctx context.Context, req *core.Request) (*resty.Request, error) {
	r := t.http.R().SetContext(ctx)
	for k, v := range req.Headers {
		r.SetHeader(k, v)
	}

	switch body := req.Body.(type) {
	case nil:
		if len(req.Form) > 0 {
			r.SetHeader("Content-Type", contentTypeForm)
			r.SetBody(req.Form.Encode())
		}
	case string:
		setDefaultContentType(r, req, contentTypeJSON)
		r.SetBody(body)
	case []byte:
		setDefaultContentType(r, req, contentTypeJSON)
		r.SetBody(body)
	default:
		data, err := sonic.Marshal(body)
		if err != nil {
			return nil, core.Errorf(t.name, core.ErrorKindFatalExchange, "encode request body: %v", err).
				WithCode(core.ErrCodeBadRequest).
				WithCause(err)
		}
		r.SetHeader("Content-Type", contentTypeJSON)
		r.SetBody(data)
	}
	return r, nil
}

func setDefaultContentType(r *resty.Request, req *core.Request, contentType string) {
	if _, ok := req.Headers["Content-Type"]; !ok {
		r.SetHeader("Content-Type", contentType)
	}
}

func (t *Transport) record(success bool) {
	if t.breaker != nil {
		t.breaker.Record(success)
	}
}

func (t *Transport) networkError(err error) *core.ExchangeError {
	var (
		opErr  *net.OpError
		netErr net.Error
	)
	switch {
	case errors.As(err, &opErr) && opErr.Op == "dial":
		return core.Errorf(t.name, core.ErrorKindTransientNetwork, "connect: %v", err).
			WithCode(core.ErrCodeDial).
			WithCause(err)
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return core.Errorf(t.name, core.ErrorKindTransientNetwork, "timeout: %v", err).
			WithCode(core.ErrCodeTimeout).
			WithCause(err)
	}
	return core.Errorf(t.name, core.ErrorKindTransientNetwork, "%v", err).
		WithCode(core.ErrCodeNetwork).
		WithCause(err)
}
