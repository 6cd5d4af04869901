//go:build nidaqmx

// Package nidaqmx binds driver.Driver to the NI-DAQmx C library. Build with
// -tags nidaqmx on a machine with NI-DAQmx installed.
//
// The C library keeps a void* of user data per registered callback. It is
// given a key into a table of Go callbacks, never a Go pointer.
package nidaqmx

/*
#cgo linux LDFLAGS: -lnidaqmx
#cgo windows LDFLAGS: -lNIDAQmx
#include <stdint.h>
#include <stdlib.h>
#include <NIDAQmx.h>

extern int32 goEveryNCallback(TaskHandle task, int32 eventType, uInt32 nSamples, void *data);
extern int32 goDoneCallback(TaskHandle task, int32 status, void *data);

static int32 registerEveryN(TaskHandle task, int32 eventType, uInt32 nSamples, uInt32 options, uintptr_t key) {
	return DAQmxRegisterEveryNSamplesEvent(task, eventType, nSamples, options,
		(DAQmxEveryNSamplesEventCallbackPtr)goEveryNCallback, (void *)key);
}

static int32 registerDone(TaskHandle task, uInt32 options, uintptr_t key) {
	return DAQmxRegisterDoneEvent(task, options, (DAQmxDoneEventCallbackPtr)goDoneCallback, (void *)key);
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/usnistgov/daqstream/driver"
)

type registration struct {
	task     driver.TaskID
	everyN   driver.EveryNSamplesCallback
	done     driver.DoneCallback
	userData uintptr
}

// handles maps our TaskIDs to the library's TaskHandles and back, and keys
// to callback registrations.
var handles = struct {
	sync.Mutex
	native  map[driver.TaskID]C.TaskHandle
	ids     map[C.TaskHandle]driver.TaskID
	nextID  driver.TaskID
	regs    map[uintptr]registration
	nextKey uintptr
}{
	native: make(map[driver.TaskID]C.TaskHandle),
	ids:    make(map[C.TaskHandle]driver.TaskID),
	regs:   make(map[uintptr]registration),
}

func nativeHandle(task driver.TaskID) (C.TaskHandle, bool) {
	handles.Lock()
	defer handles.Unlock()
	h, ok := handles.native[task]
	return h, ok
}

func taskID(h C.TaskHandle) driver.TaskID {
	handles.Lock()
	defer handles.Unlock()
	return handles.ids[h]
}

func lookup(key uintptr) (registration, bool) {
	handles.Lock()
	defer handles.Unlock()
	r, ok := handles.regs[key]
	return r, ok
}

func register(r registration) uintptr {
	handles.Lock()
	defer handles.Unlock()
	handles.nextKey++
	handles.regs[handles.nextKey] = r
	return handles.nextKey
}

func unregister(key uintptr) {
	handles.Lock()
	defer handles.Unlock()
	delete(handles.regs, key)
}

// forget drops a cleared task and every callback registered on it.
func forget(task driver.TaskID) {
	handles.Lock()
	defer handles.Unlock()
	if h, ok := handles.native[task]; ok {
		delete(handles.ids, h)
	}
	delete(handles.native, task)
	for key, r := range handles.regs {
		if r.task == task {
			delete(handles.regs, key)
		}
	}
}

// NIDAQmx is the real driver.
type NIDAQmx struct{}

var _ driver.Driver = NIDAQmx{}

// New returns the real driver.
func New() NIDAQmx {
	return NIDAQmx{}
}

func bool32(b bool) C.bool32 {
	if b {
		return 1
	}
	return 0
}

// CreateTask creates a named task.
func (NIDAQmx) CreateTask(name string) (driver.TaskID, int32) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var h C.TaskHandle
	code := int32(C.DAQmxCreateTask(cname, &h))
	if h == nil {
		return 0, code
	}
	handles.Lock()
	defer handles.Unlock()
	handles.nextID++
	id := handles.nextID
	handles.native[id] = h
	handles.ids[h] = id
	return id, code
}

// StartTask starts the task.
func (NIDAQmx) StartTask(task driver.TaskID) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	return int32(C.DAQmxStartTask(h))
}

// StopTask stops the task.
func (NIDAQmx) StopTask(task driver.TaskID) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	return int32(C.DAQmxStopTask(h))
}

// ClearTask releases the task and its callback registrations.
func (NIDAQmx) ClearTask(task driver.TaskID) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	code := int32(C.DAQmxClearTask(h))
	forget(task)
	return code
}

// CreateAIVoltageChan adds analog voltage input lines.
func (NIDAQmx) CreateAIVoltageChan(task driver.TaskID, physicalChannel, name string, terminalConfig int32,
	minVal, maxVal float64, units int32) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	cphys := C.CString(physicalChannel)
	defer C.free(unsafe.Pointer(cphys))
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return int32(C.DAQmxCreateAIVoltageChan(h, cphys, cname, C.int32(terminalConfig),
		C.float64(minVal), C.float64(maxVal), C.int32(units), nil))
}

// CreateCIAngEncoderChan adds an angular encoder input.
func (NIDAQmx) CreateCIAngEncoderChan(task driver.TaskID, counter, name string, decodingType int32,
	zidxEnable bool, zidxVal float64, zidxPhase int32, units int32, pulsesPerRev uint32, initialAngle float64) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	ccounter := C.CString(counter)
	defer C.free(unsafe.Pointer(ccounter))
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return int32(C.DAQmxCreateCIAngEncoderChan(h, ccounter, cname, C.int32(decodingType), bool32(zidxEnable),
		C.float64(zidxVal), C.int32(zidxPhase), C.int32(units), C.uInt32(pulsesPerRev),
		C.float64(initialAngle), nil))
}

// CreateCOPulseChanFreq adds a pulse train output.
func (NIDAQmx) CreateCOPulseChanFreq(task driver.TaskID, counter, name string, units int32, idleState int32,
	initialDelay, freq, dutyCycle float64) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	ccounter := C.CString(counter)
	defer C.free(unsafe.Pointer(ccounter))
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	return int32(C.DAQmxCreateCOPulseChanFreq(h, ccounter, cname, C.int32(units), C.int32(idleState),
		C.float64(initialDelay), C.float64(freq), C.float64(dutyCycle)))
}

// CfgSampClkTiming sets the sample clock. An empty source means the onboard clock.
func (NIDAQmx) CfgSampClkTiming(task driver.TaskID, source string, rate float64, activeEdge int32,
	sampleMode int32, sampsPerChan uint64) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	csource := C.CString(source)
	defer C.free(unsafe.Pointer(csource))
	return int32(C.DAQmxCfgSampClkTiming(h, csource, C.float64(rate), C.int32(activeEdge),
		C.int32(sampleMode), C.uInt64(sampsPerChan)))
}

// CfgImplicitTiming sets implicit timing.
func (NIDAQmx) CfgImplicitTiming(task driver.TaskID, sampleMode int32, sampsPerChan uint64) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	return int32(C.DAQmxCfgImplicitTiming(h, C.int32(sampleMode), C.uInt64(sampsPerChan)))
}

// ReadAnalogF64 reads into buf, which holds len(buf) values.
func (NIDAQmx) ReadAnalogF64(task driver.TaskID, numSampsPerChan int32, timeout float64, fillMode uint32,
	buf []float64) (int32, int32) {
	h, ok := nativeHandle(task)
	if !ok {
		return 0, driver.ErrInvalidTask
	}
	var ptr *C.float64
	if len(buf) > 0 {
		ptr = (*C.float64)(unsafe.Pointer(&buf[0]))
	}
	var read C.int32
	code := C.DAQmxReadAnalogF64(h, C.int32(numSampsPerChan), C.float64(timeout), C.bool32(fillMode),
		ptr, C.uInt32(len(buf)), &read, nil)
	return int32(read), int32(code)
}

// ReadCounterU32 reads into buf.
func (NIDAQmx) ReadCounterU32(task driver.TaskID, numSampsPerChan int32, timeout float64,
	buf []uint32) (int32, int32) {
	h, ok := nativeHandle(task)
	if !ok {
		return 0, driver.ErrInvalidTask
	}
	var ptr *C.uInt32
	if len(buf) > 0 {
		ptr = (*C.uInt32)(unsafe.Pointer(&buf[0]))
	}
	var read C.int32
	code := C.DAQmxReadCounterU32(h, C.int32(numSampsPerChan), C.float64(timeout),
		ptr, C.uInt32(len(buf)), &read, nil)
	return int32(read), int32(code)
}

// RegisterEveryNSamplesEvent routes the library's event to cb.
func (NIDAQmx) RegisterEveryNSamplesEvent(task driver.TaskID, eventType int32, nSamples uint32, options uint32,
	cb driver.EveryNSamplesCallback, userData uintptr) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	key := register(registration{task: task, everyN: cb, userData: userData})
	code := int32(C.registerEveryN(h, C.int32(eventType), C.uInt32(nSamples), C.uInt32(options), C.uintptr_t(key)))
	if code < 0 {
		unregister(key)
	}
	return code
}

// RegisterDoneEvent routes the library's done event to cb.
func (NIDAQmx) RegisterDoneEvent(task driver.TaskID, options uint32, cb driver.DoneCallback, userData uintptr) int32 {
	h, ok := nativeHandle(task)
	if !ok {
		return driver.ErrInvalidTask
	}
	key := register(registration{task: task, done: cb, userData: userData})
	code := int32(C.registerDone(h, C.uInt32(options), C.uintptr_t(key)))
	if code < 0 {
		unregister(key)
	}
	return code
}

// GetExtendedErrorInfo copies the most recent error text into buf.
func (NIDAQmx) GetExtendedErrorInfo(buf []byte) int32 {
	if len(buf) == 0 {
		return 0
	}
	return int32(C.DAQmxGetExtendedErrorInfo((*C.char)(unsafe.Pointer(&buf[0])), C.uInt32(len(buf))))
}
