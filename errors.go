package daqstream

import (
	"errors"
	"fmt"
	"math"
)

// ScanWarning is the status used when a read reported success but returned
// fewer samples than requested.
const ScanWarning int32 = math.MaxInt32

var (
	// ErrScanWarning classifies short reads.
	ErrScanWarning = errors.New("short read: driver returned fewer samples than requested")
	// ErrTransportClosed means the stream consumer is gone. It stops production
	// but is not a fatal condition.
	ErrTransportClosed = errors.New("sample transport closed by consumer")
	// ErrNullTask means the driver reported success but returned a null task handle.
	ErrNullTask = errors.New("driver returned a null task handle")
	// ErrTaskReleased means an operation was attempted on a task already cleared.
	ErrTaskReleased = errors.New("task already released")
)

// DriverError is a negative driver status plus the driver's extended error text.
type DriverError struct {
	Code    int32
	Op      string
	Message string
}

func (e *DriverError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("driver error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: driver error %d: %s", e.Op, e.Code, e.Message)
}

// ShortReadError reports a read that succeeded with the wrong sample count.
type ShortReadError struct {
	Requested int32
	Read      int32
}

func (e *ShortReadError) Error() string {
	return fmt.Sprintf("short read: requested %d samples, driver returned %d", e.Requested, e.Read)
}

// Unwrap lets errors.Is(err, ErrScanWarning) succeed.
func (e *ShortReadError) Unwrap() error { return ErrScanWarning }

// IsFatal reports whether err must tear down its task and be reported. The
// consumer going away is the one non-fatal reason to stop producing.
func IsFatal(err error) bool {
	if err == nil || errors.Is(err, ErrTransportClosed) {
		return false
	}
	var de *DriverError
	return errors.As(err, &de) || errors.Is(err, ErrScanWarning)
}
