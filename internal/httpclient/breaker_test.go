package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(clock clockwork.Clock) *CircuitBreaker {
	return NewCircuitBreaker("test", BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Cooldown:         10 * time.Second,
		Clock:            clock,
	}, nil)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock)

	cb.Mark(errors.New("boom"))
	cb.Mark(nil)
	cb.Mark(errors.New("boom"))
	require.Equal(t, StateClosed, cb.State())
	require.NoError(t, cb.Allow())

	cb.Mark(errors.New("boom"))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(4 * time.Second)
	err := cb.Allow()
	require.ErrorIs(t, err, ErrCircuitOpen)
	var openErr *CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test", openErr.Name)
	assert.Equal(t, 6*time.Second, openErr.RetryIn)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := newTestBreaker(clock)
	cb.Mark(errors.New("a"))
	cb.Mark(errors.New("b"))

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())
	cb.Mark(errors.New("still down"))
	require.Equal(t, StateOpen, cb.State())
	require.ErrorIs(t, cb.Allow(), ErrCircuitOpen)

	clock.Advance(10 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerTransportShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	clock := clockwork.NewFakeClock()
	client, breaker := NewWithCircuitBreakerConfig(time.Second, nil, "hook", BreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Minute,
		Clock:            clock,
	})

	for i := 0; i < 2; i++ {
		resp, err := client.Post(srv.URL, "application/json", bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	}
	require.Equal(t, StateOpen, breaker.State())

	_, err := client.Post(srv.URL, "application/json", bytes.NewReader([]byte("{}")))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), hits.Load())
}

func TestTransportIgnoresClientErrorsAndCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, breaker := NewWithCircuitBreakerConfig(time.Second, nil, "hook", BreakerConfig{FailureThreshold: 1})
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, StateClosed, breaker.State())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	require.Error(t, err)
	assert.Equal(t, StateClosed, breaker.State())
}

func TestReadAllWithLimit(t *testing.T) {
	data, err := ReadAllWithLimit(bytes.NewReader([]byte("hello")), 5)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = ReadAllWithLimit(bytes.NewReader([]byte("hello")), 2)
	require.True(t, IsResponseTooLarge(err))
	assert.Equal(t, "he", string(data))

	data, err = ReadAllWithLimit(bytes.NewReader([]byte("hello")), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}
