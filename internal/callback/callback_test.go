package callback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	calls  int
	closed int
}

func (c *counterState) Close() error {
	c.closed++
	return nil
}

type incrFunc func(*counterState) error

func incr(c *counterState) error {
	c.calls++
	return nil
}

func TestWrapTakeReturn(t *testing.T) {
	state := &counterState{}
	h := Wrap[*counterState, incrFunc](state, incr)
	defer Drop(h)

	for i := 0; i < 3; i++ {
		w := Take[*counterState, incrFunc](h)
		require.NoError(t, w.Func(w.State))
		assert.True(t, Return(h, w))
	}
	assert.Equal(t, 3, state.calls)
	assert.Equal(t, 0, state.closed, "state must stay alive while registered")
}

func TestDiscardReleasesOnce(t *testing.T) {
	state := &counterState{}
	before := Count()
	h := Wrap[*counterState, incrFunc](state, incr)
	assert.Equal(t, before+1, Count())

	w := Take[*counterState, incrFunc](h)
	Discard(h, w)
	assert.Equal(t, 1, state.closed)
	assert.Equal(t, before, Count())

	// The owner dropping afterwards must not release again.
	Drop(h)
	assert.Equal(t, 1, state.closed)
}

func TestDropWhileIdle(t *testing.T) {
	state := &counterState{}
	h := Wrap[*counterState, incrFunc](state, incr)
	Drop(h)
	assert.Equal(t, 1, state.closed)
	Drop(h)
	assert.Equal(t, 1, state.closed, "second Drop is a no-op")
	assert.Panics(t, func() { Take[*counterState, incrFunc](h) })
}

func TestDropWhileTaken(t *testing.T) {
	state := &counterState{}
	h := Wrap[*counterState, incrFunc](state, incr)
	w := Take[*counterState, incrFunc](h)

	Drop(h)
	assert.Equal(t, 0, state.closed, "release is deferred to the holder")

	assert.False(t, Return(h, w))
	assert.Equal(t, 1, state.closed)
	assert.Panics(t, func() { Take[*counterState, incrFunc](h) })
}

func TestTakeMismatchedType(t *testing.T) {
	h := Wrap[int, func(int)](7, func(int) {})
	defer Drop(h)
	assert.Panics(t, func() { Take[string, func(int)](h) })

	// A failed Take leaves the box in place.
	w := Take[int, func(int)](h)
	assert.Equal(t, 7, w.State)
	assert.Panics(t, func() { Take[int, func(int)](h) }, "double Take")
	Return(h, w)
}

func TestNonCloserState(t *testing.T) {
	h := Wrap[struct{}, func()](struct{}{}, func() {})
	w := Take[struct{}, func()](h)
	assert.NotPanics(t, func() { Discard(h, w) })
}
