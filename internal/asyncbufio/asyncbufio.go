// Package asyncbufio provides a Writer that hands data to a goroutine, which
// writes it through a bufio.Writer. Callers on a time-critical path (such as a
// stream consumer that must keep up with acquisition) never wait on the disk.
package asyncbufio

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Write and Flush after Close.
var ErrClosed = errors.New("asyncbufio: writer closed")

// Writer provides asynchronous writing to an underlying io.Writer using buffered channels.
// Write, Flush and Close must be called from one goroutine.
type Writer struct {
	writer        *bufio.Writer // Buffered writer: this does the writing
	dest          io.Writer     // closed by Close, if it is an io.Closer
	flushNow      chan struct{} // Channel to signal the underlying writer to flush itself
	flushComplete chan struct{} // Channel to signal underlying writer flush is complete
	datachannel   chan []byte   // Channel to hold data before writing it
	flushInterval time.Duration // Interval for flushing the writer periodically

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex // guards err and dropped
	err     error
	dropped int
}

// NewWriter creates a new Writer instance.
func NewWriter(w io.Writer, channelDepth int, flushInterval time.Duration) *Writer {
	aw := &Writer{
		writer:        bufio.NewWriter(w),
		dest:          w,
		datachannel:   make(chan []byte, channelDepth),
		flushNow:      make(chan struct{}),
		flushComplete: make(chan struct{}),
		flushInterval: flushInterval,
	}

	go aw.writeLoop()
	return aw
}

// Write queues a copy of p for writing. When the queue is full the data are
// dropped and io.ErrShortWrite returned.
func (aw *Writer) Write(p []byte) (int, error) {
	if aw.closed.Load() {
		return 0, ErrClosed
	}
	select {
	case aw.datachannel <- append([]byte(nil), p...):
		return len(p), nil
	default:
		aw.mu.Lock()
		aw.dropped++
		aw.mu.Unlock()
		return 0, io.ErrShortWrite
	}
}

// WriteString queues s for writing.
func (aw *Writer) WriteString(s string) (int, error) {
	return aw.Write([]byte(s))
}

// Flush writes everything queued so far to the underlying writer, and
// returns the first error the underlying writer has reported.
func (aw *Writer) Flush() error {
	if aw.closed.Load() {
		return ErrClosed
	}
	aw.flushNow <- struct{}{}
	<-aw.flushComplete
	return aw.Err()
}

// Close flushes remaining data, waits for the writeLoop to finish, and closes
// the underlying writer if it is an io.Closer. Later calls return the same result.
func (aw *Writer) Close() error {
	aw.closeOnce.Do(func() {
		aw.closed.Store(true)
		close(aw.flushNow) // Closing the flushNow channel signals the writeLoop to exit
		<-aw.flushComplete // Wait until writing is complete
		aw.closeErr = aw.Err()
		if c, ok := aw.dest.(io.Closer); ok {
			if err := c.Close(); aw.closeErr == nil {
				aw.closeErr = err
			}
		}
	})
	return aw.closeErr
}

// Err returns the first error from the underlying writer.
func (aw *Writer) Err() error {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.err
}

// Dropped returns how many writes were refused because the queue was full.
func (aw *Writer) Dropped() int {
	aw.mu.Lock()
	defer aw.mu.Unlock()
	return aw.dropped
}

func (aw *Writer) setErr(err error) {
	if err == nil {
		return
	}
	aw.mu.Lock()
	if aw.err == nil {
		aw.err = err
	}
	aw.mu.Unlock()
}

// writeLoop is a goroutine that continuously moves data from the channel to the writer.
func (aw *Writer) writeLoop() {
	ticker := time.NewTicker(aw.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-aw.datachannel:
			_, err := aw.writer.Write(data)
			aw.setErr(err)

		case _, ok := <-aw.flushNow:
			aw.flush()
			aw.flushComplete <- struct{}{}
			if !ok {
				return
			}

		case <-ticker.C:
			aw.flush()
		}
	}
}

// flush empties the channel, then flushes the bufio.Writer.
func (aw *Writer) flush() {
	for {
		select {
		case data := <-aw.datachannel:
			_, err := aw.writer.Write(data)
			aw.setErr(err)
		default:
			aw.setErr(aw.writer.Flush())
			return
		}
	}
}
