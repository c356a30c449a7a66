package retrier

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func fastRetrier(retries int) *Retrier {
	return New(
		WithMaxRetries(retries),
		WithInitialInterval(time.Millisecond),
		WithMaxInterval(5*time.Millisecond),
	)
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := fastRetrier(3).Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestDo_ReturnsLastErrorWhenExhausted(t *testing.T) {
	attempts := 0
	err := fastRetrier(2).Do(context.Background(), func(context.Context) error {
		attempts++
		return errors.Errorf("failure %d", attempts)
	})
	require.Error(t, err)
	require.EqualError(t, err, "failure 3")
	require.Equal(t, 3, attempts)
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := New(WithMaxRetries(5), WithInitialInterval(time.Minute)).Do(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestDoWithData_PropagatesValue(t *testing.T) {
	attempts := 0
	value, err := DoWithData(fastRetrier(3), context.Background(), func(context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "payload", nil
	})
	require.NoError(t, err)
	require.Equal(t, "payload", value)
}

func TestDoWithData_ErrorAfterExhaustion(t *testing.T) {
	attempts := 0
	_, err := DoWithData(fastRetrier(1), context.Background(), func(context.Context) (int, error) {
		attempts++
		return 0, errors.New("permanent")
	})
	require.Error(t, err)
	require.Equal(t, 2, attempts)
}
