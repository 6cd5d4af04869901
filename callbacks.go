package daqstream

import (
	"fmt"

	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/callback"
)

// ReadCallback consumes one every-N-samples event. A nil return keeps the
// callback armed; any error tears the task down.
type ReadCallback[S any] func(state S, raw *RawTaskHandle, nSamples uint32) error

// DoneCallback runs once when the task stops.
type DoneCallback[S any] func(state S)

// readTrampoline adapts a ReadCallback[S] to the driver's fixed callback
// signature. The driver's user data is the callback.Handle of the wrapper.
// Nothing escapes to the driver: errors and panics end here and 0 is returned.
func readTrampoline[S any](raw *RawTaskHandle) driver.EveryNSamplesCallback {
	return func(task driver.TaskID, _ int32, nSamples uint32, userData uintptr) int32 {
		h := callback.Handle(userData)
		var w *callback.Wrapper[S, ReadCallback[S]]
		defer func() {
			if r := recover(); r != nil {
				ProblemLogger.Printf("task %s: panic in read callback: %v", raw.name, r)
				raw.Clear()
				if w != nil {
					callback.Discard(h, w)
				} else {
					callback.Drop(h)
				}
			}
		}()

		if task != raw.ID() {
			panic(fmt.Sprintf("callback for task %#x delivered to task %#x", task, raw.ID()))
		}
		w = callback.Take[S, ReadCallback[S]](h)
		err := w.Func(w.State, raw, nSamples)
		held := w
		w = nil
		if err != nil {
			if IsFatal(err) {
				raw.fail(err)
			}
			raw.Clear()
			callback.Discard(h, held)
			return 0
		}
		callback.Return(h, held)
		return 0
	}
}

// doneTrampoline adapts a DoneCallback[S]. The wrapper is never re-armed.
func doneTrampoline[S any](raw *RawTaskHandle) driver.DoneCallback {
	return func(task driver.TaskID, status int32, userData uintptr) int32 {
		h := callback.Handle(userData)
		var w *callback.Wrapper[S, DoneCallback[S]]
		defer func() {
			if r := recover(); r != nil {
				ProblemLogger.Printf("task %s: panic in done callback: %v", raw.name, r)
				raw.Clear()
				if w != nil {
					callback.Discard(h, w)
				} else {
					callback.Drop(h)
				}
			}
		}()

		if task != raw.ID() {
			panic(fmt.Sprintf("done callback for task %#x delivered to task %#x", task, raw.ID()))
		}
		w = callback.Take[S, DoneCallback[S]](h)
		w.Func(w.State)
		if raw.Alive() {
			raw.check("Done", status)
		}
		held := w
		w = nil
		callback.Discard(h, held)
		return 0
	}
}

// RegisterReadCallback arranges for fn(state, raw, n) to run each time n
// samples per channel reach the driver buffer. Must precede Launch.
func RegisterReadCallback[S any](th *TaskHandle, nSamples uint32, fn ReadCallback[S], state S) error {
	const options = 0
	h := callback.Wrap(state, fn)
	if !th.raw.Alive() {
		callback.Drop(h)
		return fmt.Errorf("RegisterEveryNSamplesEvent: %w", ErrTaskReleased)
	}
	code := th.raw.driver.RegisterEveryNSamplesEvent(th.raw.id, driver.ValAcquiredIntoBuffer,
		nSamples, options, readTrampoline[S](th.raw), uintptr(h))
	if code < 0 {
		callback.Drop(h)
		return th.raw.check("RegisterEveryNSamplesEvent", code)
	}
	th.addHandle(h)
	return th.raw.check("RegisterEveryNSamplesEvent", code)
}

// RegisterDoneCallback arranges for fn(state) to run when the task stops.
func RegisterDoneCallback[S any](th *TaskHandle, fn DoneCallback[S], state S) error {
	const options = 0
	h := callback.Wrap(state, fn)
	if !th.raw.Alive() {
		callback.Drop(h)
		return fmt.Errorf("RegisterDoneEvent: %w", ErrTaskReleased)
	}
	code := th.raw.driver.RegisterDoneEvent(th.raw.id, options, doneTrampoline[S](th.raw), uintptr(h))
	if code < 0 {
		callback.Drop(h)
		return th.raw.check("RegisterDoneEvent", code)
	}
	th.addHandle(h)
	return th.raw.check("RegisterDoneEvent", code)
}

func noopDone(struct{}) {}
