package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestDisabledBreakerIsNil(t *testing.T) {
	cb := New(Config{})
	require.Nil(t, cb)
	calls := 0
	for i := 0; i < 10; i++ {
		_ = cb.Execute(func() error { calls++; return errBoom })
	}
	assert.Equal(t, 10, calls)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestOpensAfterThresholdAndRecovers(t *testing.T) {
	now := time.Unix(0, 0)
	var transitions []string
	cb := New(Config{
		FailureThreshold:    3,
		SuccessThreshold:    1,
		Timeout:             time.Minute,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	cb.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, cb.Execute(func() error { return errBoom }), errBoom)
	}
	assert.Equal(t, StateOpen, cb.GetState())
	assert.ErrorIs(t, cb.Execute(func() error { return nil }), ErrCircuitBreakerOpen)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, []string{"closed->open", "open->half_open", "half_open->closed"}, transitions)
}

func TestIsFailureFilter(t *testing.T) {
	permanent := errors.New("not found")
	cb := New(Config{
		FailureThreshold: 1,
		IsFailure:        func(err error) bool { return !errors.Is(err, permanent) },
	})
	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error { return permanent })
	}
	assert.Equal(t, StateClosed, cb.GetState())
	_ = cb.Execute(func() error { return errBoom })
	assert.Equal(t, StateOpen, cb.GetState())
}
