// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestTabScope(t *testing.T) {
	defer goleak.VerifyNone(t)

	type ctxKey string
	const key ctxKey = "target"

	t.Run("inherits values from the tab context", func(t *testing.T) {
		tab := context.WithValue(context.Background(), key, "tab-1")
		scoped, cancel := TabScope(tab, context.Background(), time.Minute)
		defer cancel()

		assert.Equal(t, "tab-1", scoped.Value(key))
		assert.NoError(t, scoped.Err())
	})

	t.Run("ends with the tab", func(t *testing.T) {
		tab, closeTab := context.WithCancel(context.Background())
		scoped, cancel := TabScope(tab, context.Background(), 0)
		defer cancel()

		closeTab()
		assert.ErrorIs(t, scoped.Err(), context.Canceled)
		assert.False(t, timedOut(scoped))
	})

	t.Run("ends with the operation and keeps its cause", func(t *testing.T) {
		aborted := errors.New("user pressed ctrl-c")
		op, abort := context.WithCancelCause(context.Background())
		scoped, cancel := TabScope(context.Background(), op, 0)
		defer cancel()

		abort(aborted)
		assert.Eventually(t, func() bool { return scoped.Err() != nil }, 200*time.Millisecond, 5*time.Millisecond)
		assert.ErrorIs(t, context.Cause(scoped), aborted)
		assert.False(t, timedOut(scoped))
	})

	t.Run("own budget elapses", func(t *testing.T) {
		scoped, cancel := TabScope(context.Background(), context.Background(), 10*time.Millisecond)
		defer cancel()

		assert.Eventually(t, func() bool { return scoped.Err() != nil }, 200*time.Millisecond, 5*time.Millisecond)
		assert.True(t, timedOut(scoped))
		assert.ErrorIs(t, context.Cause(scoped), context.DeadlineExceeded)
	})

	t.Run("cancel releases the watchers", func(t *testing.T) {
		op, stopOp := context.WithCancel(context.Background())
		defer stopOp()
		scoped, cancel := TabScope(context.Background(), op, time.Hour)

		cancel()
		assert.ErrorIs(t, scoped.Err(), context.Canceled)
		assert.False(t, timedOut(scoped))
	})
}
