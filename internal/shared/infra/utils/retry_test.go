package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("still down")
	})

	assert.EqualError(t, err, "still down")
	assert.Equal(t, 2, calls)
}

func TestRetry_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 5, time.Second, func() error { return errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTernaryAndContains(t *testing.T) {
	assert.Equal(t, "DESC", Ternary(true, "DESC", "ASC"))
	assert.True(t, Contains([]string{"a", "b"}, "b"))
	assert.False(t, Contains([]int{1, 2}, 3))
}
