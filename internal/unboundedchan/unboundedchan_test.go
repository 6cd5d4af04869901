package unboundedchan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnboundedChannel(t *testing.T) {
	unboundedQueue := NewUnboundedChannel[int]()

	// Goroutine to send data.
	// Send a all integers [0, 19].
	max := 20
	go func() {
		ch := unboundedQueue.In()
		for i := range max {
			ch <- i
		}
		close(ch) // Close the input channel when done
	}()

	// Goroutine to receive and process data (here, sum it all up)
	sum := 0
	expect := (max * (max - 1)) / 2
	for d := range unboundedQueue.Out() {
		sum += d
	}
	if sum != expect {
		t.Errorf("UnboundedQueue sum was %d, want %d", sum, expect)
	}
}

// TestProducerNeverWaits sends many values with no reader, then checks FIFO order.
func TestProducerNeverWaits(t *testing.T) {
	uc := NewUnboundedChannel[int]()
	const n = 10000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range n {
			assert.NoError(t, uc.Send(i))
		}
		uc.CloseSend()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("producer blocked with no consumer")
	}

	want := 0
	for v := range uc.Out() {
		if v != want {
			t.Fatalf("received %d, want %d", v, want)
		}
		want++
	}
	assert.Equal(t, n, want)
	assert.Equal(t, 0, uc.Len())
}

func TestReleaseStopsProducer(t *testing.T) {
	uc := NewUnboundedChannel[string]()
	require.NoError(t, uc.Send("a"))
	uc.Release()
	uc.Release()
	assert.True(t, uc.Released())
	assert.ErrorIs(t, uc.Send("b"), ErrReleased)

	// Out is closed once released.
	select {
	case _, ok := <-uc.Out():
		for ok {
			_, ok = <-uc.Out()
		}
	case <-time.After(time.Second):
		t.Fatal("Out() not closed after Release")
	}
	uc.CloseSend()
	uc.CloseSend()
}

func TestCloseSendDrainsQueue(t *testing.T) {
	uc := NewUnboundedChannel[int]()
	for i := range 5 {
		require.NoError(t, uc.Send(i))
	}
	uc.CloseSend()
	var got []int
	for v := range uc.Out() {
		got = append(got, v)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}
