package daqstream

import (
	"errors"
	"fmt"
	"io"

	"github.com/usnistgov/daqstream/internal/unboundedchan"
)

// ChannelOption adjusts how a channel is built.
type ChannelOption func(*channelOptions)

type channelOptions struct {
	clock    Clock
	taskOpts []TaskOption
}

func newChannelOptions(opts []ChannelOption) channelOptions {
	o := channelOptions{clock: SteadyNanoseconds}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock replaces SteadyNanoseconds as the source of batch arrival times.
func WithClock(c Clock) ChannelOption {
	return func(o *channelOptions) { o.clock = c }
}

// WithTaskOptions passes options to every task the channel creates.
func WithTaskOptions(opts ...TaskOption) ChannelOption {
	return func(o *channelOptions) { o.taskOpts = append(o.taskOpts, opts...) }
}

// CounterChanDesc names counter n of a device, e.g. "Dev1/ctr0".
func CounterChanDesc(device string, n int) string {
	return fmt.Sprintf("%s/ctr%d", device, n)
}

// PFIDesc names programmable function terminal n of a device, e.g. "/Dev1/PFI13".
func PFIDesc(device string, n int) string {
	return fmt.Sprintf("/%s/PFI%d", device, n)
}

// batchSize is the number of samples per channel delivered by each callback.
func batchSize(rate, callbackFreq float64) uint32 {
	if callbackFreq <= 0 || rate <= 0 {
		return 0
	}
	return uint32(rate / callbackFreq)
}

// bufferSize is the driver-side buffer depth for a sample rate.
func bufferSize(rate float64) uint64 {
	return uint64(BufferSeconds * rate)
}

func validateTiming(rate, callbackFreq, timeout float64) error {
	var errs []error
	if rate <= 0 {
		errs = append(errs, fmt.Errorf("sample rate %v must be positive", rate))
	} else if batchSize(rate, callbackFreq) < 1 {
		errs = append(errs, fmt.Errorf("sample rate %v at callback frequency %v gives an empty batch", rate, callbackFreq))
	}
	if timeout <= 0 {
		errs = append(errs, fmt.Errorf("read timeout %v must be positive", timeout))
	}
	return errors.Join(errs...)
}

func validateDutyCycle(duty float64) error {
	if duty <= 0 || duty >= 1 {
		return fmt.Errorf("duty cycle %v must be in (0,1)", duty)
	}
	return nil
}

// asyncState is what a streaming read callback owns: the producer end of the
// transport plus what it needs to read and stamp a batch. Releasing it ends
// the stream.
type asyncState[T any] struct {
	tx      *unboundedchan.UnboundedChannel[T]
	rate    float64
	timeout float64
	clock   Clock
	nchan   int
}

// Close marks the end of production. The registry calls it once no callback
// can run again.
func (s *asyncState[T]) Close() error {
	s.tx.CloseSend()
	return nil
}

func (s *asyncState[T]) send(v T) error {
	if err := s.tx.Send(v); err != nil {
		return ErrTransportClosed
	}
	return nil
}

func (s *asyncState[T]) consumerGone() bool {
	return s.tx.Released()
}

// startAsync registers read and done callbacks for a configured task, then
// launches it. On failure the task is closed, which also ends the stream.
func startAsync[T any](th *TaskHandle, n uint32, read ReadCallback[*asyncState[T]],
	state *asyncState[T], owner io.Closer) (*Stream[T], error) {
	stream := newStream(owner, state.tx)
	if err := RegisterReadCallback(th, n, read, state); err != nil {
		stream.Close()
		return nil, err
	}
	if err := RegisterDoneCallback(th, noopDone, struct{}{}); err != nil {
		stream.Close()
		return nil, err
	}
	if err := th.Launch(); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}
