package daqstream

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/callback"
)

// errorInfoLen is the size of the buffer given to GetExtendedErrorInfo.
const errorInfoLen = 2048

// FatalHandler receives the one fatal error of a task. It may be called from
// the driver's callback thread.
type FatalHandler func(error)

func logFatal(err error) {
	ProblemLogger.Printf("fatal task error: %v", err)
}

// TaskOption configures NewTaskHandle.
type TaskOption func(*taskOptions)

type taskOptions struct {
	name    string
	onFatal FatalHandler
}

// WithTaskName overrides the generated task name.
func WithTaskName(name string) TaskOption {
	return func(o *taskOptions) { o.name = name }
}

// WithFatalHandler replaces the default handler, which logs to ProblemLogger.
func WithFatalHandler(h FatalHandler) TaskOption {
	return func(o *taskOptions) { o.onFatal = h }
}

// RawTaskHandle is a non-owning view of one native task. The owning TaskHandle
// and the trampolines share it; whichever side has custody at the moment may
// use it. Release happens at most once.
type RawTaskHandle struct {
	driver    driver.Driver
	id        driver.TaskID
	name      string
	released  atomic.Bool
	fatalOnce sync.Once
	onFatal   FatalHandler
}

// ID returns the native task handle.
func (r *RawTaskHandle) ID() driver.TaskID {
	return r.id
}

// Name returns the native task name.
func (r *RawTaskHandle) Name() string {
	return r.name
}

// Alive reports whether the native task has not been released yet.
func (r *RawTaskHandle) Alive() bool {
	return !r.released.Load()
}

// CheckError interprets a driver status. Negative codes clear the task, report
// the fatal error once, and return a *DriverError carrying the extended error
// text. Positive codes are logged as warnings.
func (r *RawTaskHandle) CheckError(code int32) error {
	return r.check("", code)
}

func (r *RawTaskHandle) check(op string, code int32) error {
	switch {
	case code < 0:
		err := &DriverError{Code: code, Op: op, Message: r.extendedErrorInfo()}
		r.Clear()
		r.fail(err)
		return err
	case code > 0:
		ProblemLogger.Printf("task %s: %s warning %d: %s", r.name, op, code, r.extendedErrorInfo())
	}
	return nil
}

// fail reports err to the fatal handler, at most once per task.
func (r *RawTaskHandle) fail(err error) {
	r.fatalOnce.Do(func() {
		if r.onFatal != nil {
			r.onFatal(err)
		}
	})
}

// extendedErrorInfo fetches the driver's text for the most recent error. The
// last byte is forced to NUL because the driver may fill the whole buffer.
func (r *RawTaskHandle) extendedErrorInfo() string {
	buf := make([]byte, errorInfoLen)
	r.driver.GetExtendedErrorInfo(buf)
	buf[len(buf)-1] = 0
	if n := bytes.IndexByte(buf, 0); n >= 0 {
		buf = buf[:n]
	}
	return strings.ToValidUTF8(string(buf), "�")
}

// Clear stops and clears the native task. Only the first call reaches the
// driver; it returns whether this call did the release.
func (r *RawTaskHandle) Clear() bool {
	if !r.released.CompareAndSwap(false, true) {
		return false
	}
	if code := r.driver.StopTask(r.id); code < 0 {
		ProblemLogger.Printf("task %s: stop returned %d", r.name, code)
	}
	if code := r.driver.ClearTask(r.id); code < 0 {
		ProblemLogger.Printf("task %s: clear returned %d", r.name, code)
	}
	return true
}

// TaskHandle exclusively owns one native task plus the callback handles it has
// given to the driver.
type TaskHandle struct {
	raw     *RawTaskHandle
	mu      sync.Mutex // guards handles
	handles []callback.Handle
}

// NewTaskHandle asks the driver for a new task.
func NewTaskHandle(d driver.Driver, opts ...TaskOption) (*TaskHandle, error) {
	o := taskOptions{onFatal: logFatal}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = "daqstream-" + ulid.Make().String()
	}

	id, code := d.CreateTask(o.name)
	raw := &RawTaskHandle{driver: d, id: id, name: o.name, onFatal: o.onFatal}
	if code < 0 {
		err := &DriverError{Code: code, Op: "CreateTask", Message: raw.extendedErrorInfo()}
		if id != 0 {
			raw.Clear()
		} else {
			raw.released.Store(true)
		}
		raw.fail(err)
		return nil, err
	}
	if id == 0 {
		raw.released.Store(true)
		raw.fail(ErrNullTask)
		return nil, ErrNullTask
	}
	if err := raw.check("CreateTask", code); err != nil {
		return nil, err
	}
	return &TaskHandle{raw: raw}, nil
}

// Raw returns the non-owning view shared with callbacks.
func (th *TaskHandle) Raw() *RawTaskHandle {
	return th.raw
}

// CheckError is RawTaskHandle.CheckError on the owned task.
func (th *TaskHandle) CheckError(code int32) error {
	return th.raw.CheckError(code)
}

// call runs one driver operation unless the task is already gone.
func (th *TaskHandle) call(op string, f func(driver.Driver, driver.TaskID) int32) error {
	if !th.raw.Alive() {
		return fmt.Errorf("%s: %w", op, ErrTaskReleased)
	}
	return th.raw.check(op, f(th.raw.driver, th.raw.id))
}

// CreateAIVoltageChan adds analog voltage input lines measuring ±span volts.
func (th *TaskHandle) CreateAIVoltageChan(physicalChannel string, span float64) error {
	return th.call("CreateAIVoltageChan", func(d driver.Driver, id driver.TaskID) int32 {
		return d.CreateAIVoltageChan(id, physicalChannel, "", driver.ValCfgDefault,
			-span, span, driver.ValVolts)
	})
}

// CreateCOFreqChan adds a pulse-train output at freq Hz and the given duty cycle.
func (th *TaskHandle) CreateCOFreqChan(counter string, freq, dutyCycle float64) error {
	const initialDelay = 0.0
	return th.call("CreateCOPulseChanFreq", func(d driver.Driver, id driver.TaskID) int32 {
		return d.CreateCOPulseChanFreq(id, counter, "", driver.ValHz, driver.ValLow,
			initialDelay, freq, dutyCycle)
	})
}

// CreateCIAngEncoderChan adds an X4 quadrature angular encoder input counting ticks.
func (th *TaskHandle) CreateCIAngEncoderChan(counter string, pulsesPerRev uint32, initialPos float64) error {
	const useIndex = true
	const indexPosition = 0.0
	return th.call("CreateCIAngEncoderChan", func(d driver.Driver, id driver.TaskID) int32 {
		return d.CreateCIAngEncoderChan(id, counter, "", driver.ValX4, useIndex, indexPosition,
			driver.ValALowBLow, driver.ValTicks, pulsesPerRev, initialPos)
	})
}

// ConfigureSampleClock sets continuous sampling on the rising edge of clkSrc
// ("" for the onboard clock) with a driver buffer of sampsPerChan samples.
func (th *TaskHandle) ConfigureSampleClock(clkSrc string, rate float64, sampsPerChan uint64) error {
	return th.call("CfgSampClkTiming", func(d driver.Driver, id driver.TaskID) int32 {
		return d.CfgSampClkTiming(id, clkSrc, rate, driver.ValRising, driver.ValContSamps, sampsPerChan)
	})
}

// ConfigureImplicitTiming sets continuous implicit timing; a size of 0 lets the
// driver choose the buffer.
func (th *TaskHandle) ConfigureImplicitTiming(sampsPerChan uint64) error {
	return th.call("CfgImplicitTiming", func(d driver.Driver, id driver.TaskID) int32 {
		return d.CfgImplicitTiming(id, driver.ValContSamps, sampsPerChan)
	})
}

// Launch starts the task. Registered callbacks may run from now on.
func (th *TaskHandle) Launch() error {
	return th.call("StartTask", func(d driver.Driver, id driver.TaskID) int32 {
		return d.StartTask(id)
	})
}

func (th *TaskHandle) addHandle(h callback.Handle) {
	th.mu.Lock()
	th.handles = append(th.handles, h)
	th.mu.Unlock()
}

// Close releases the native task, then every callback state the driver can no
// longer reach. Safe to call after a callback already tore the task down.
func (th *TaskHandle) Close() error {
	th.raw.Clear()
	th.mu.Lock()
	handles := th.handles
	th.handles = nil
	th.mu.Unlock()
	for _, h := range handles {
		callback.Drop(h)
	}
	return nil
}
