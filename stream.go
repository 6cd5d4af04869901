package daqstream

import (
	"context"
	"io"
	"iter"
	"sync"

	"github.com/usnistgov/daqstream/internal/unboundedchan"
)

// Stream is the consumer side of an asynchronous channel. Samples arrive in
// acquisition order; the stream ends when the producing task stops for any
// reason. A Stream never yields an error; fatal task errors go to the task's
// FatalHandler.
type Stream[T any] struct {
	owner     io.Closer
	rx        *unboundedchan.UnboundedChannel[T]
	closeOnce sync.Once
	closeErr  error
}

func newStream[T any](owner io.Closer, rx *unboundedchan.UnboundedChannel[T]) *Stream[T] {
	return &Stream[T]{owner: owner, rx: rx}
}

// Next waits for the next sample. It returns false when the stream has ended
// or ctx is done; check ctx.Err() to tell the two apart, or use Recv. A
// cancelled Next consumes nothing and the stream stays usable.
func (s *Stream[T]) Next(ctx context.Context) (T, bool) {
	select {
	case v, ok := <-s.rx.Out():
		return v, ok
	case <-ctx.Done():
		var zero T
		return zero, false
	}
}

// Recv is Next with the reason spelled out: it returns io.EOF at end of
// stream and ctx.Err() when ctx is done first.
func (s *Stream[T]) Recv(ctx context.Context) (T, error) {
	select {
	case v, ok := <-s.rx.Out():
		if !ok {
			return v, io.EOF
		}
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// C returns the receive channel, closed at end of stream.
func (s *Stream[T]) C() <-chan T {
	return s.rx.Out()
}

// All iterates over the stream until it ends.
func (s *Stream[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range s.rx.Out() {
			if !yield(v) {
				return
			}
		}
	}
}

// Pending returns the number of samples produced but not yet received.
func (s *Stream[T]) Pending() int {
	return s.rx.Len()
}

// Close abandons the stream and stops the channel that feeds it.
func (s *Stream[T]) Close() error {
	s.closeOnce.Do(func() {
		s.rx.Release()
		s.closeErr = s.owner.Close()
	})
	return s.closeErr
}
