// Package driver declares the interface daqstream needs from an NI-DAQmx style
// acquisition driver. The real binding lives in internal/nidaqmx (cgo, built
// with -tags nidaqmx) and a hardware-free double lives in internal/simdaq.
//
// Every call returns a signed status: negative is a failure, zero is success
// and positive is an advisory warning. Constants carry the numeric values of
// the NIDAQmx.h header so that the cgo binding can pass them through unchanged.
package driver

// TaskID is the opaque native task handle. Zero is the null handle.
type TaskID uintptr

// EveryNSamplesCallback is the fixed signature the driver invokes, from its own
// thread, each time nSamples samples have been acquired into the task buffer.
// userData is the opaque value given at registration.
type EveryNSamplesCallback func(task TaskID, eventType int32, nSamples uint32, userData uintptr) int32

// DoneCallback is invoked once when a task stops, normally or on error.
type DoneCallback func(task TaskID, status int32, userData uintptr) int32

// Driver is the interface to a hardware driver (real or simulated).
type Driver interface {
	CreateTask(name string) (TaskID, int32)
	StartTask(task TaskID) int32
	StopTask(task TaskID) int32
	ClearTask(task TaskID) int32

	CreateAIVoltageChan(task TaskID, physicalChannel, name string, terminalConfig int32,
		minVal, maxVal float64, units int32) int32
	CreateCIAngEncoderChan(task TaskID, counter, name string, decodingType int32, zidxEnable bool,
		zidxVal float64, zidxPhase int32, units int32, pulsesPerRev uint32, initialAngle float64) int32
	CreateCOPulseChanFreq(task TaskID, counter, name string, units int32, idleState int32,
		initialDelay, freq, dutyCycle float64) int32

	CfgSampClkTiming(task TaskID, source string, rate float64, activeEdge int32,
		sampleMode int32, sampsPerChan uint64) int32
	CfgImplicitTiming(task TaskID, sampleMode int32, sampsPerChan uint64) int32

	// ReadAnalogF64 fills buf (capacity len(buf) values) and returns the number
	// of samples per channel actually read.
	ReadAnalogF64(task TaskID, numSampsPerChan int32, timeout float64, fillMode uint32,
		buf []float64) (int32, int32)
	ReadCounterU32(task TaskID, numSampsPerChan int32, timeout float64, buf []uint32) (int32, int32)

	RegisterEveryNSamplesEvent(task TaskID, eventType int32, nSamples uint32, options uint32,
		cb EveryNSamplesCallback, userData uintptr) int32
	RegisterDoneEvent(task TaskID, options uint32, cb DoneCallback, userData uintptr) int32

	// GetExtendedErrorInfo copies the text of the most recent error into buf.
	// The driver is not guaranteed to leave room for a terminating NUL.
	GetExtendedErrorInfo(buf []byte) int32
}

// Values from NIDAQmx.h.
const (
	ValCfgDefault         int32  = -1
	ValVolts              int32  = 10348
	ValHz                 int32  = 10373
	ValLow                int32  = 10214
	ValRising             int32  = 10280
	ValContSamps          int32  = 10123
	ValAcquiredIntoBuffer int32  = 1
	ValGroupByScanNumber  uint32 = 1
	ValGroupByChannel     uint32 = 0
	ValX4                 int32  = 10092
	ValALowBLow           int32  = 10067
	ValTicks              int32  = 10304
)

// Error codes from NIDAQmx.h that the doubles reproduce.
const (
	ErrInvalidAttributeValue  int32 = -200077
	ErrInvalidTask            int32 = -200088
	ErrReadBufferTooSmall     int32 = -200229
	ErrSamplesNotYetAvailable int32 = -200284
)
