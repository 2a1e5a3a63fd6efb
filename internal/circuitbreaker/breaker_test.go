package circuitbreaker

import (
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newMockBreaker(fail, success int, timeout time.Duration) (*Breaker, *clock.Mock) {
	mock := clock.NewMock()
	return New(Config{
		FailThreshold:    fail,
		SuccessThreshold: success,
		Timeout:          timeout,
	}, WithClock(mock)), mock
}

func TestState_String(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"closed", StateClosed, "CLOSED"},
		{"open", StateOpen, "OPEN"},
		{"half_open", StateHalfOpen, "HALF_OPEN"},
		{"unknown", State(7), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestBreaker_New(t *testing.T) {
	breaker := New(Config{
		FailThreshold:    5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	})

	assert.NotNil(t, breaker)
	assert.Equal(t, StateClosed, breaker.State())
	assert.True(t, breaker.Allow())
}

func TestBreaker_TransitionToOpen(t *testing.T) {
	breaker, _ := newMockBreaker(3, 2, time.Second)

	breaker.Record(false)
	assert.Equal(t, StateClosed, breaker.State())

	breaker.Record(false)
	assert.Equal(t, StateClosed, breaker.State())

	breaker.Record(false)
	assert.Equal(t, StateOpen, breaker.State())

	assert.False(t, breaker.Allow())
	assert.Equal(t, time.Second, breaker.RetryAfter())
	assert.Equal(t, int64(1), breaker.Metrics().RejectedRequests)
}

func TestBreaker_TransitionToHalfOpen(t *testing.T) {
	breaker, mock := newMockBreaker(2, 2, 100*time.Millisecond)

	breaker.Record(false)
	breaker.Record(false)
	assert.Equal(t, StateOpen, breaker.State())

	mock.Add(50 * time.Millisecond)
	assert.False(t, breaker.Allow())
	assert.Equal(t, 50*time.Millisecond, breaker.RetryAfter())

	mock.Add(50 * time.Millisecond)
	assert.True(t, breaker.Allow())
	assert.Equal(t, StateHalfOpen, breaker.State())

	breaker.Record(true)
	assert.Equal(t, StateHalfOpen, breaker.State())
	assert.Equal(t, 1, breaker.Successes())
}

func TestBreaker_TransitionToClosed(t *testing.T) {
	breaker, mock := newMockBreaker(2, 2, 100*time.Millisecond)

	breaker.Record(false)
	breaker.Record(false)
	mock.Add(150 * time.Millisecond)

	assert.True(t, breaker.Allow())
	breaker.Record(true)
	breaker.Record(true)

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, 0, breaker.Failures())
}

func TestBreaker_HalfOpenToFails(t *testing.T) {
	breaker, mock := newMockBreaker(2, 2, 100*time.Millisecond)

	breaker.Record(false)
	breaker.Record(false)
	mock.Add(150 * time.Millisecond)

	assert.True(t, breaker.Allow())
	breaker.Record(true)
	breaker.Record(false)

	assert.Equal(t, StateOpen, breaker.State())
	assert.False(t, breaker.Allow(), "failed probe restarts the open period")
}

func TestBreaker_LateFailureWhileOpenExtendsTimeout(t *testing.T) {
	breaker, mock := newMockBreaker(1, 1, 100*time.Millisecond)

	breaker.Record(false)
	mock.Add(80 * time.Millisecond)
	breaker.Record(false)
	mock.Add(80 * time.Millisecond)

	assert.False(t, breaker.Allow())
}

func TestBreaker_StateChangeCallback(t *testing.T) {
	var transitions []string
	mock := clock.NewMock()
	breaker := New(Config{FailThreshold: 1, SuccessThreshold: 1, Timeout: time.Second},
		WithClock(mock),
		WithStateChange(func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}))

	breaker.Record(false)
	mock.Add(time.Second)
	breaker.Allow()
	breaker.Record(true)

	assert.Equal(t, []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}, transitions)
	assert.Equal(t, int32(3), breaker.Metrics().StateChanges)
}

func TestBreaker_Reset(t *testing.T) {
	breaker, _ := newMockBreaker(2, 2, time.Second)

	breaker.Record(false)
	breaker.Record(false)
	assert.Equal(t, StateOpen, breaker.State())

	breaker.Reset()

	assert.Equal(t, StateClosed, breaker.State())
	assert.Equal(t, 0, breaker.Failures())
	assert.Equal(t, 0, breaker.Successes())
	assert.Equal(t, time.Duration(0), breaker.RetryAfter())
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	breaker, _ := newMockBreaker(5, 2, time.Second)

	breaker.Record(false)
	breaker.Record(false)
	breaker.Record(false)
	assert.Equal(t, 3, breaker.Failures())

	breaker.Record(true)
	assert.Equal(t, 0, breaker.Failures())
}

func TestBreaker_Concurrent(t *testing.T) {
	breaker, _ := newMockBreaker(1000, 1, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Go(func() {
			if breaker.Allow() {
				breaker.Record(false)
			}
		})
	}
	wg.Wait()

	assert.Equal(t, 100, breaker.Failures())
	assert.Equal(t, StateClosed, breaker.State())
}
