package unboundedchan

import (
	"errors"
	"sync"
)

// ErrReleased is returned by Send once the consumer has released the channel.
var ErrReleased = errors.New("unboundedchan: receiver released")

// UnboundedChannel represents an unbounded queue, but data are entered and removed via channels.
// It serves exactly one producer and one consumer. The producer never waits for the consumer;
// the consumer waits on Out() when the queue is empty.
// Beware! You almost certainly want T to be a small value type; use pointers for large objects.
type UnboundedChannel[T any] struct {
	in       chan T
	out      chan T
	released chan struct{}
	queue    []T

	closeOnce   sync.Once
	releaseOnce sync.Once
	mu          sync.Mutex // guards queued
	queued      int
}

// NewUnboundedChannel creates and initializes an UnboundedChannel
func NewUnboundedChannel[T any]() *UnboundedChannel[T] {
	uc := &UnboundedChannel[T]{
		in:       make(chan T),
		out:      make(chan T),
		released: make(chan struct{}),
		queue:    make([]T, 0),
	}
	go uc.run()
	return uc
}

func (uc *UnboundedChannel[T]) run() {
	defer close(uc.out)
	for {
		if len(uc.queue) == 0 {
			// If queue is empty, only listen for new incoming data
			select {
			case val, ok := <-uc.in:
				if !ok {
					return
				}
				uc.push(val)
			case <-uc.released:
				return
			}
		} else {
			// If queue has data, try to send it and also listen for new incoming data
			select {
			case uc.out <- uc.queue[0]:
				uc.pop()
			case val, ok := <-uc.in:
				if !ok {
					// When the input channel is closed, send all data currently in the queue, then close the output.
					for len(uc.queue) > 0 {
						select {
						case uc.out <- uc.queue[0]:
							uc.pop()
						case <-uc.released:
							return
						}
					}
					return
				}
				uc.push(val)
			case <-uc.released:
				return
			}
		}
	}
}

func (uc *UnboundedChannel[T]) push(val T) {
	uc.queue = append(uc.queue, val)
	uc.mu.Lock()
	uc.queued++
	uc.mu.Unlock()
}

func (uc *UnboundedChannel[T]) pop() {
	var zero T
	uc.queue[0] = zero
	uc.queue = uc.queue[1:] // Remove the sent item
	uc.mu.Lock()
	uc.queued--
	uc.mu.Unlock()
}

// Send enqueues val. It returns ErrReleased, without enqueueing, once the consumer
// has called Release. Send must not be called after CloseSend.
func (uc *UnboundedChannel[T]) Send(val T) error {
	select {
	case <-uc.released:
		return ErrReleased
	default:
	}
	select {
	case uc.in <- val:
		return nil
	case <-uc.released:
		return ErrReleased
	}
}

// CloseSend marks the end of production. Values already queued are still
// delivered before Out() is closed. Safe to call more than once.
func (uc *UnboundedChannel[T]) CloseSend() {
	uc.closeOnce.Do(func() { close(uc.in) })
}

// Release tells the producer that nobody will read Out() again. Queued values
// are discarded and later Sends fail with ErrReleased. Safe to call more than once.
func (uc *UnboundedChannel[T]) Release() {
	uc.releaseOnce.Do(func() { close(uc.released) })
}

// Released reports whether the consumer has called Release.
func (uc *UnboundedChannel[T]) Released() bool {
	select {
	case <-uc.released:
		return true
	default:
		return false
	}
}

// Len returns the number of values waiting in the queue.
func (uc *UnboundedChannel[T]) Len() int {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.queued
}

// In returns the input channel for sending data. Prefer Send, which respects Release.
func (uc *UnboundedChannel[T]) In() chan<- T {
	return uc.in
}

// Out returns the output channel for receiving data
func (uc *UnboundedChannel[T]) Out() <-chan T {
	return uc.out
}
