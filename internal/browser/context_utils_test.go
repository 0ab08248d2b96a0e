package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	defer goleak.VerifyNone(t)

	t.Run("secondary cancel propagates and values come from primary", func(t *testing.T) {
		primary := context.WithValue(context.Background(), ctxKey("tab"), "target-1")
		secondary, cancelSecondary := context.WithCancel(context.Background())

		combined, cancel := CombineContext(primary, secondary)
		defer cancel()

		assert.Equal(t, "target-1", combined.Value(ctxKey("tab")))
		cancelSecondary()

		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context was not canceled")
		}
	})

	t.Run("secondary deadline is inherited", func(t *testing.T) {
		secondary, cancelSecondary := context.WithTimeout(context.Background(), time.Hour)
		defer cancelSecondary()

		combined, cancel := CombineContext(context.Background(), secondary)
		defer cancel()

		want, _ := secondary.Deadline()
		got, ok := combined.Deadline()
		assert.True(t, ok)
		assert.Equal(t, want, got)
	})

	t.Run("primary cancel propagates", func(t *testing.T) {
		primary, cancelPrimary := context.WithCancel(context.Background())
		combined, cancel := CombineContext(primary, context.Background())
		defer cancel()

		cancelPrimary()
		<-combined.Done()
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})
}
