package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passThrough(fn func()) HookFn {
	return func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		fn()
		return d, nil
	}
}

func TestTrigger_NoHandlers(t *testing.T) {
	hc := NewHookCenter()
	out, err := hc.Trigger(context.Background(), "noop", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestRegister_SingleHandler(t *testing.T) {
	hc := NewHookCenter()
	called := false
	hc.Register(OnLogin, 0, "h1", func(ctx context.Context, event string, data interface{}) (interface{}, error) {
		called = true
		assert.Equal(t, OnLogin, event)
		assert.Equal(t, int64(7), data.(UserEvent).UserID)
		return data, nil
	})
	_, err := hc.Trigger(context.Background(), OnLogin, UserEvent{UserID: 7})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, 1, hc.Count(OnLogin))
}

func TestTrigger_DataPassThrough(t *testing.T) {
	hc := NewHookCenter()
	hc.Register("ev", 0, "double", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) * 2, nil
	})
	hc.Register("ev", 1, "addTen", func(_ context.Context, _ string, data interface{}) (interface{}, error) {
		return data.(int) + 10, nil
	})
	out, err := hc.Trigger(context.Background(), "ev", 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out)
}

func TestTrigger_PriorityOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []string
	hc.Register("ev", 10, "high", passThrough(func() { order = append(order, "high") }))
	hc.Register("ev", 1, "low", passThrough(func() { order = append(order, "low") }))
	hc.Register("ev", 5, "mid", passThrough(func() { order = append(order, "mid") }))
	hc.Register("ev", 5, "mid2", passThrough(func() { order = append(order, "mid2") }))
	hc.Trigger(context.Background(), "ev", nil)
	assert.Equal(t, []string{"low", "mid", "mid2", "high"}, order)
}

func TestTrigger_ErrInterrupt(t *testing.T) {
	hc := NewHookCenter()
	var secondCalled bool
	hc.Register(BeforeSignup, 0, "reserved", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return d, ErrInterrupt
	})
	hc.Register(BeforeSignup, 1, "should_not_run", passThrough(func() { secondCalled = true }))
	_, err := hc.Trigger(context.Background(), BeforeSignup, nil)
	assert.True(t, errors.Is(err, ErrInterrupt))
	assert.False(t, secondCalled)
}

func TestTrigger_NonInterruptError_Continues(t *testing.T) {
	hc := NewHookCenter()
	var secondCalled bool
	hc.Register("ev", 0, "err", func(_ context.Context, _ string, d interface{}) (interface{}, error) {
		return "discarded", errors.New("some error")
	})
	hc.Register("ev", 1, "second", passThrough(func() { secondCalled = true }))
	out, err := hc.Trigger(context.Background(), "ev", "orig")
	assert.NoError(t, err)
	assert.True(t, secondCalled)
	assert.Equal(t, "orig", out, "failed handler output must not replace data")
}

func TestTrigger_PanicRecovered(t *testing.T) {
	hc := NewHookCenter()
	var after bool
	hc.Register("ev", 0, "boom", func(context.Context, string, interface{}) (interface{}, error) {
		panic("boom")
	})
	hc.Register("ev", 1, "after", passThrough(func() { after = true }))
	out, err := hc.Trigger(context.Background(), "ev", 1)
	assert.NoError(t, err)
	assert.Equal(t, 1, out)
	assert.True(t, after)
}

func TestUnregister_OnlyNamed(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2 bool
	hc.Register("ev", 0, "h1", passThrough(func() { c1 = true }))
	hc.Register("ev", 1, "h2", passThrough(func() { c2 = true }))
	hc.Unregister("ev", "h1")
	hc.Trigger(context.Background(), "ev", nil)
	assert.False(t, c1)
	assert.True(t, c2)
}

func TestUnregisterAll(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2, other bool
	hc.Register("evA", 0, "plugin", passThrough(func() { c1 = true }))
	hc.Register("evB", 0, "plugin", passThrough(func() { c2 = true }))
	hc.Register("evA", 1, "other", passThrough(func() { other = true }))
	hc.UnregisterAll("plugin")
	hc.Trigger(context.Background(), "evA", nil)
	hc.Trigger(context.Background(), "evB", nil)
	assert.False(t, c1)
	assert.False(t, c2)
	assert.True(t, other)
}
