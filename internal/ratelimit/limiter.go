package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// ErrWaitTimeout is returned when a token does not become available within the admission budget.
var ErrWaitTimeout = errors.New("rate limit wait budget exceeded")

// RateLimiter provides rate limiting with support for global and per-bucket limits.
// Calls are weighted; a call draws its weight from the global bucket and one token
// from its named bucket, if any.
type RateLimiter struct {
	global   *rate.Limiter
	buckets  sync.Map
	requests int
	period   time.Duration
	maxWait  time.Duration
	// refilledAt is the unix nano time the global bucket last advanced.
	refilledAt atomic.Int64
	metrics    *Metrics
}

// Metrics tracks statistics about rate limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
	bucketCount     atomic.Int32
}

// State is a snapshot of the global bucket.
type State struct {
	// Tokens currently available, possibly fractional.
	Tokens float64
	// RefilledAt is when the bucket last advanced.
	RefilledAt time.Time
}

// New creates a new RateLimiter with the specified number of requests allowed per period.
// The burst equals requests, so a fresh limiter admits a full period's worth at once.
func New(requests int, period time.Duration) *RateLimiter {
	r := &RateLimiter{
		global:   rate.NewLimiter(perSecond(requests, period), requests),
		requests: requests,
		period:   period,
		metrics:  &Metrics{},
	}
	r.refilledAt.Store(time.Now().UnixNano())
	return r
}

// WithMaxWait bounds how long Admit may wait for tokens. Zero waits as long as the context allows.
func (r *RateLimiter) WithMaxWait(d time.Duration) *RateLimiter {
	r.maxWait = d
	return r
}

func perSecond(requests int, period time.Duration) rate.Limit {
	return rate.Limit(float64(requests) / period.Seconds())
}

// Wait blocks until the global rate limiter allows a request or the context is cancelled.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.WaitN(ctx, 1)
}

// WaitN blocks until n tokens are available in the global bucket.
// Weights above the burst are clamped so heavy calls still make progress.
func (r *RateLimiter) WaitN(ctx context.Context, n int) error {
	return r.wait(ctx, r.global, n)
}

// WaitBucket blocks until the named bucket's rate limiter allows a request or the context is cancelled.
// Buckets are created on-demand with the default rate limit.
func (r *RateLimiter) WaitBucket(ctx context.Context, bucket string) error {
	return r.wait(ctx, r.getBucket(bucket), 1)
}

func (r *RateLimiter) wait(ctx context.Context, limiter *rate.Limiter, n int) error {
	r.metrics.totalRequests.Add(1)
	if n < 1 {
		n = 1
	}
	if burst := limiter.Burst(); n > burst {
		n = burst
	}
	if err := limiter.WaitN(ctx, n); err != nil {
		r.metrics.deniedRequests.Add(1)
		return err
	}
	if limiter == r.global {
		r.refilledAt.Store(time.Now().UnixNano())
	}
	r.metrics.allowedRequests.Add(1)
	return nil
}

// Admit waits for weight tokens from the global bucket and one token from bucket,
// giving up after the configured max wait. It returns ErrWaitTimeout when the budget
// runs out and the context error when ctx itself ends first.
func (r *RateLimiter) Admit(ctx context.Context, bucket string, weight int) error {
	waitCtx := ctx
	if r.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.maxWait)
		defer cancel()
	}

	err := r.WaitN(waitCtx, weight)
	if err == nil && bucket != "" {
		err = r.WaitBucket(waitCtx, bucket)
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: %v", ErrWaitTimeout, err)
}

// Allow returns true if the global rate limiter permits a request immediately.
func (r *RateLimiter) Allow() bool {
	r.metrics.totalRequests.Add(1)
	allowed := r.global.Allow()
	if allowed {
		r.refilledAt.Store(time.Now().UnixNano())
		r.metrics.allowedRequests.Add(1)
	} else {
		r.metrics.deniedRequests.Add(1)
	}
	return allowed
}

// AllowBucket returns true if the named bucket's rate limiter permits a request immediately.
// Buckets are created on-demand with the default rate limit.
func (r *RateLimiter) AllowBucket(bucket string) bool {
	r.metrics.totalRequests.Add(1)
	limiter := r.getBucket(bucket)
	allowed := limiter.Allow()
	if allowed {
		r.metrics.allowedRequests.Add(1)
	} else {
		r.metrics.deniedRequests.Add(1)
	}
	return allowed
}

func (r *RateLimiter) getBucket(bucket string) *rate.Limiter {
	if v, ok := r.buckets.Load(bucket); ok {
		return v.(*rate.Limiter)
	}

	limiter := rate.NewLimiter(perSecond(r.requests, r.period), r.requests)
	actual, loaded := r.buckets.LoadOrStore(bucket, limiter)
	if !loaded {
		r.metrics.bucketCount.Add(1)
	}
	return actual.(*rate.Limiter)
}

// SetBucketLimit updates the rate limit and burst for a specific bucket.
// The bucket is created if it does not exist.
func (r *RateLimiter) SetBucketLimit(bucket string, requests int, period time.Duration) {
	limiter := r.getBucket(bucket)
	limiter.SetLimit(perSecond(requests, period))
	limiter.SetBurst(requests)
}

// State returns the current token count of the global bucket.
func (r *RateLimiter) State() State {
	return State{
		Tokens:     r.global.Tokens(),
		RefilledAt: time.Unix(0, r.refilledAt.Load()),
	}
}

// Metrics returns a snapshot of the current rate limiter statistics.
func (r *RateLimiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   r.metrics.totalRequests.Load(),
		AllowedRequests: r.metrics.allowedRequests.Load(),
		DeniedRequests:  r.metrics.deniedRequests.Load(),
		BucketCount:     r.metrics.bucketCount.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of rate limiter statistics.
type MetricsSnapshot struct {
	// TotalRequests is the total number of rate limit checks performed.
	TotalRequests int64
	// AllowedRequests is the number of requests that were allowed.
	AllowedRequests int64
	// DeniedRequests is the number of requests that were denied.
	DeniedRequests int64
	// BucketCount is the number of rate limit buckets in use.
	BucketCount int32
}
