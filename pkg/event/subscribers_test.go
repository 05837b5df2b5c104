package event_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isobusgo/isostack/pkg/event"
)

func TestSubscribersFIFOOrder(t *testing.T) {
	subs := event.NewSubscribers[int]()
	var order []int
	subs.Subscribe(func(v int) { order = append(order, v*10+1) })
	subs.Subscribe(func(v int) { order = append(order, v*10+2) })
	subs.Subscribe(func(v int) { order = append(order, v*10+3) })

	subs.Emit(7)
	assert.Equal(t, []int{71, 72, 73}, order)
}

func TestSubscribersUnsubscribeNotInvoked(t *testing.T) {
	subs := event.NewSubscribers[string]()
	called := false
	h := subs.Subscribe(func(string) { called = true })
	subs.Unsubscribe(h)
	subs.Emit("x")
	assert.False(t, called)
	assert.Equal(t, 0, subs.Len())
}

func TestSubscribersReentrantEmitSkipsRemoved(t *testing.T) {
	subs := event.NewSubscribers[int]()
	var second event.Handle
	var secondCalled bool

	first := subs.Subscribe(func(int) {
		// unsubscribing another live handler mid-dispatch must take
		// effect immediately, not after this Emit returns.
		subs.Unsubscribe(second)
	})
	second = subs.Subscribe(func(int) { secondCalled = true })
	_ = first

	subs.Emit(1)
	assert.False(t, secondCalled)
}

func TestStateMachineTransitionFiresOnChange(t *testing.T) {
	sm := event.NewStateMachine("idle")
	var got []event.Transition[string]
	sm.OnTransition(func(tr event.Transition[string]) { got = append(got, tr) })

	changed := sm.Transition("idle")
	require.False(t, changed)
	assert.Empty(t, got)

	changed = sm.Transition("running")
	require.True(t, changed)
	require.Len(t, got, 1)
	assert.Equal(t, "idle", got[0].From)
	assert.Equal(t, "running", got[0].To)
	assert.Equal(t, "running", sm.Current())
}
