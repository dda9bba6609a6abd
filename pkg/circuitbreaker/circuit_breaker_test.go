package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBreaker(maxFailures int, counts Counts) (*CircuitBreaker, *time.Time) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	cb := New("test", maxFailures, time.Minute, counts, logger)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func TestCircuitBreaker_TripsAfterMaxFailures(t *testing.T) {
	cb, _ := newTestBreaker(3, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(2, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	cb, now := newTestBreaker(1, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, now := newTestBreaker(1, nil)
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	*now = now.Add(2 * time.Minute)

	assert.ErrorIs(t, cb.Execute(ctx, fail), errBoom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_IgnoresUncountedErrors(t *testing.T) {
	cb, _ := newTestBreaker(1, func(err error) bool { return !errors.Is(err, errBoom) })

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errBoom)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestGroup_IsolatesKeys(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	g := NewGroup(1, time.Minute, nil, logger)

	_ = g.Get("inst-a").Execute(context.Background(), fail)

	assert.Equal(t, StateOpen, g.Get("inst-a").State())
	assert.Equal(t, StateClosed, g.Get("inst-b").State())
	assert.Same(t, g.Get("inst-a"), g.Get("inst-a"))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", State(42).String())
}
