package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitInvokesListenersInOrder(t *testing.T) {
	b := New()
	var order []string
	b.Subscribe("user.created", func(_ context.Context, _ string, _ any) {
		order = append(order, "first")
	})
	b.Subscribe("user.created", func(_ context.Context, _ string, _ any) {
		order = append(order, "second")
	})

	n := b.Emit(context.Background(), "user.created", nil)

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmitPassesEventAndData(t *testing.T) {
	b := New()
	var gotEvent string
	var gotData any
	b.Subscribe("order.paid", func(_ context.Context, event string, data any) {
		gotEvent = event
		gotData = data
	})

	b.Emit(context.Background(), "order.paid", map[string]any{"id": 7})

	assert.Equal(t, "order.paid", gotEvent)
	assert.Equal(t, map[string]any{"id": 7}, gotData)
}

func TestEmitNoListeners(t *testing.T) {
	b := New()
	assert.Equal(t, 0, b.Emit(context.Background(), "nobody.cares", nil))
	assert.False(t, b.HasListeners("nobody.cares"))
}

func TestEmitRecoversPanickingListener(t *testing.T) {
	b := New()
	called := false
	b.Subscribe("boom", func(_ context.Context, _ string, _ any) {
		panic("listener bug")
	})
	b.Subscribe("boom", func(_ context.Context, _ string, _ any) {
		called = true
	})

	n := b.Emit(context.Background(), "boom", nil)

	assert.Equal(t, 2, n)
	assert.True(t, called, "panic in one listener must not block the next")
}

func TestResetAllReplacesBindings(t *testing.T) {
	b := New()
	stale := 0
	b.Subscribe("user.created", func(_ context.Context, _ string, _ any) { stale++ })
	require.True(t, b.HasListeners("user.created"))

	fresh := 0
	b.ResetAll(map[string][]Listener{
		"order.paid": {func(_ context.Context, _ string, _ any) { fresh++ }},
	})

	b.Emit(context.Background(), "user.created", nil)
	b.Emit(context.Background(), "order.paid", nil)

	assert.Equal(t, 0, stale, "old bindings must be dropped on reset")
	assert.Equal(t, 1, fresh)
	assert.False(t, b.HasListeners("user.created"))
	assert.Equal(t, 1, b.ListenerCount("order.paid"))
}

func TestRepeatedResetDoesNotMultiplyDeliveries(t *testing.T) {
	b := New()
	count := 0
	table := map[string][]Listener{
		"ping": {func(_ context.Context, _ string, _ any) { count++ }},
	}
	for i := 0; i < 5; i++ {
		b.ResetAll(table)
	}

	b.Emit(context.Background(), "ping", nil)

	assert.Equal(t, 1, count)
}
