// Package simdaq provides NoHardware, a driver.Driver that needs no
// acquisition hardware. Callbacks are delivered either on demand (Fire and
// Complete, for deterministic tests) or from one goroutine per started task
// at the configured sample rate.
package simdaq

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/usnistgov/daqstream/driver"
)

// Kind says what sort of channel a task carries.
type Kind int

// Channel kinds.
const (
	KindNone Kind = iota
	KindAnalogInput
	KindEncoder
	KindPulseOutput
)

func (k Kind) String() string {
	switch k {
	case KindAnalogInput:
		return "AI"
	case KindEncoder:
		return "CI"
	case KindPulseOutput:
		return "CO"
	}
	return "none"
}

// Call is one entry of the call log.
type Call struct {
	Op   string
	Task driver.TaskID
}

// TaskInfo is a snapshot of one simulated task's configuration and state.
type TaskInfo struct {
	ID           driver.TaskID
	Name         string
	Kind         Kind
	Channel      string // physical channel or counter
	Lines        int
	MinVal       float64
	MaxVal       float64
	PulsesPerRev uint32
	Frequency    float64 // pulse output frequency
	DutyCycle    float64
	ClockSource  string
	SampleRate   float64
	BufferSize   uint64
	EveryN       uint32
	Started      bool
	Cleared      bool
	SamplesRead  uint64
}

type everyN struct {
	cb       driver.EveryNSamplesCallback
	n        uint32
	userData uintptr
}

type doneEvent struct {
	cb       driver.DoneCallback
	userData uintptr
}

type simTask struct {
	info      TaskInfo
	everyN    *everyN
	done      *doneEvent
	shortRead int32 // samples the next read returns, or -1
	abort     chan struct{}
	fireMu    sync.Mutex // one callback at a time per task
}

type fault struct {
	code    int32
	message string
}

// Option configures a NoHardware.
type Option func(*NoHardware)

// Clocked makes started tasks deliver every-N-samples callbacks on their own
// goroutine at the configured sample rate.
func Clocked() Option {
	return func(d *NoHardware) { d.clocked = true }
}

// WithAnalogSource replaces the default sine waves. It returns the value of
// line at sample index.
func WithAnalogSource(f func(line int, index uint64) float64) Option {
	return func(d *NoHardware) { d.analog = f }
}

// WithCounterSource replaces the default encoder motion.
func WithCounterSource(f func(index uint64) uint32) Option {
	return func(d *NoHardware) { d.counter = f }
}

// NoHardware is a drop in replacement for an NI-DAQmx driver (implements
// driver.Driver) for testing and demonstration.
type NoHardware struct {
	mu        sync.Mutex
	tasks     map[driver.TaskID]*simTask
	names     map[string]driver.TaskID
	nextID    driver.TaskID
	calls     []Call
	faults    map[string]fault
	lastError string
	clocked   bool
	analog    func(line int, index uint64) float64
	counter   func(index uint64) uint32
	wg        sync.WaitGroup
}

var _ driver.Driver = (*NoHardware)(nil)

// NewNoHardware returns a driver with no tasks, in manual delivery mode
// unless Clocked is given.
func NewNoHardware(opts ...Option) *NoHardware {
	d := &NoHardware{
		tasks:   make(map[driver.TaskID]*simTask),
		names:   make(map[string]driver.TaskID),
		nextID:  0x1000,
		faults:  make(map[string]fault),
		analog:  sineSource,
		counter: rampSource,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// sineSource gives line k a 1 Hz-per-line sine of amplitude 1 V, assuming
// 1000 samples per second.
func sineSource(line int, index uint64) float64 {
	t := float64(index) / 1000
	return math.Sin(2 * math.Pi * float64(line+1) * t)
}

func rampSource(index uint64) uint32 {
	return uint32(index)
}

// FailNext makes the next call of op (a driver method name such as
// "ReadAnalogF64") return code, with message as its extended error text.
// A positive code simulates a warning.
func (d *NoHardware) FailNext(op string, code int32, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults[op] = fault{code: code, message: message}
}

// SetErrorText sets the text returned by GetExtendedErrorInfo.
func (d *NoHardware) SetErrorText(message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastError = message
}

// ShortRead makes the next read on task return only count samples with a
// success status.
func (d *NoHardware) ShortRead(task driver.TaskID, count int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.tasks[task]; ok {
		t.shortRead = count
	}
}

// injected returns the injected status for op, if any. Caller holds d.mu.
func (d *NoHardware) injected(op string) (int32, bool) {
	f, ok := d.faults[op]
	if !ok {
		return 0, false
	}
	delete(d.faults, op)
	d.lastError = f.message
	return f.code, true
}

// begin logs a call and returns the live task, or a status to return. Caller
// holds d.mu.
func (d *NoHardware) begin(op string, id driver.TaskID) (*simTask, int32) {
	d.calls = append(d.calls, Call{Op: op, Task: id})
	if code, ok := d.injected(op); ok {
		if code < 0 {
			return nil, code
		}
		t := d.tasks[id]
		if t == nil || t.info.Cleared {
			return nil, driver.ErrInvalidTask
		}
		return t, code
	}
	t, ok := d.tasks[id]
	if !ok || t.info.Cleared {
		d.lastError = fmt.Sprintf("Task specified is invalid or does not exist.\nTask handle: %#x", id)
		return nil, driver.ErrInvalidTask
	}
	return t, 0
}

func (d *NoHardware) invalid(format string, args ...any) int32 {
	d.lastError = fmt.Sprintf(format, args...)
	return driver.ErrInvalidAttributeValue
}

// CreateTask creates a task. Task names must be unique.
func (d *NoHardware) CreateTask(name string) (driver.TaskID, int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, Call{Op: "CreateTask"})
	code, _ := d.injected("CreateTask")
	if code < 0 {
		return 0, code
	}
	if _, dup := d.names[name]; dup && name != "" {
		return 0, d.invalid("Task name %q is already in use", name)
	}
	d.nextID++
	id := d.nextID
	d.tasks[id] = &simTask{info: TaskInfo{ID: id, Name: name}, shortRead: -1}
	if name != "" {
		d.names[name] = id
	}
	d.calls[len(d.calls)-1].Task = id
	return id, code
}

// StartTask starts the task, and in clocked mode its callback goroutine.
func (d *NoHardware) StartTask(task driver.TaskID) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("StartTask", task)
	if t == nil {
		return code
	}
	if t.info.Started {
		return code
	}
	t.info.Started = true
	t.abort = make(chan struct{})
	if d.clocked && t.everyN != nil && t.info.SampleRate > 0 {
		period := max(time.Duration(float64(t.everyN.n)/t.info.SampleRate*float64(time.Second)), time.Millisecond)
		d.wg.Add(1)
		go d.clockLoop(t, period, t.abort)
	}
	return code
}

func (d *NoHardware) clockLoop(t *simTask, period time.Duration, abort <-chan struct{}) {
	defer d.wg.Done()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-abort:
			return
		case <-ticker.C:
			d.Fire(t.info.ID)
		}
	}
}

// stop ends delivery for a task. Caller holds d.mu.
func (d *NoHardware) stop(t *simTask) {
	if t.info.Started {
		t.info.Started = false
		close(t.abort)
	}
}

// StopTask stops the task. It does not wait for a callback in progress.
func (d *NoHardware) StopTask(task driver.TaskID) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("StopTask", task)
	if t == nil {
		return code
	}
	d.stop(t)
	return code
}

// ClearTask stops and forgets the task. It may be called from inside one of
// the task's own callbacks.
func (d *NoHardware) ClearTask(task driver.TaskID) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("ClearTask", task)
	if t == nil {
		return code
	}
	d.stop(t)
	t.info.Cleared = true
	delete(d.names, t.info.Name)
	return code
}

// CreateAIVoltageChan adds analog input lines such as "Dev1/ai0:1".
func (d *NoHardware) CreateAIVoltageChan(task driver.TaskID, physicalChannel, name string,
	terminalConfig int32, minVal, maxVal float64, units int32) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("CreateAIVoltageChan", task)
	if t == nil {
		return code
	}
	lines, err := countLines(physicalChannel)
	if err != nil {
		return d.invalid("Physical channel %q: %v", physicalChannel, err)
	}
	if minVal >= maxVal || units != driver.ValVolts {
		return d.invalid("Requested range [%v, %v] is invalid", minVal, maxVal)
	}
	t.info.Kind = KindAnalogInput
	t.info.Channel = physicalChannel
	t.info.Lines = lines
	t.info.MinVal, t.info.MaxVal = minVal, maxVal
	return code
}

// CreateCIAngEncoderChan adds an angular encoder input.
func (d *NoHardware) CreateCIAngEncoderChan(task driver.TaskID, counter, name string, decodingType int32,
	zidxEnable bool, zidxVal float64, zidxPhase int32, units int32, pulsesPerRev uint32, initialAngle float64) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("CreateCIAngEncoderChan", task)
	if t == nil {
		return code
	}
	if !strings.Contains(counter, "/ctr") || pulsesPerRev == 0 {
		return d.invalid("Counter %q with %d pulses per revolution is invalid", counter, pulsesPerRev)
	}
	t.info.Kind = KindEncoder
	t.info.Channel = counter
	t.info.Lines = 1
	t.info.PulsesPerRev = pulsesPerRev
	return code
}

// CreateCOPulseChanFreq adds a pulse train output.
func (d *NoHardware) CreateCOPulseChanFreq(task driver.TaskID, counter, name string, units int32,
	idleState int32, initialDelay, freq, dutyCycle float64) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("CreateCOPulseChanFreq", task)
	if t == nil {
		return code
	}
	if !strings.Contains(counter, "/ctr") || freq <= 0 || dutyCycle <= 0 || dutyCycle >= 1 {
		return d.invalid("Pulse train on %q at %v Hz, duty %v is invalid", counter, freq, dutyCycle)
	}
	t.info.Kind = KindPulseOutput
	t.info.Channel = counter
	t.info.Frequency = freq
	t.info.DutyCycle = dutyCycle
	return code
}

// CfgSampClkTiming sets the sample clock.
func (d *NoHardware) CfgSampClkTiming(task driver.TaskID, source string, rate float64, activeEdge int32,
	sampleMode int32, sampsPerChan uint64) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("CfgSampClkTiming", task)
	if t == nil {
		return code
	}
	if rate <= 0 {
		return d.invalid("Sample rate %v is invalid", rate)
	}
	t.info.ClockSource = source
	t.info.SampleRate = rate
	t.info.BufferSize = sampsPerChan
	return code
}

// CfgImplicitTiming sets implicit timing. A pulse output runs at its own frequency.
func (d *NoHardware) CfgImplicitTiming(task driver.TaskID, sampleMode int32, sampsPerChan uint64) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("CfgImplicitTiming", task)
	if t == nil {
		return code
	}
	t.info.BufferSize = sampsPerChan
	return code
}

// read performs the bookkeeping common to both read calls. It returns the
// number of samples to produce and the first sample index.
func (d *NoHardware) read(op string, task driver.TaskID, n int32, lines int, bufLen int) (int32, uint64, *simTask, int32) {
	t, code := d.begin(op, task)
	if t == nil {
		return 0, 0, nil, code
	}
	if n < 0 || bufLen < int(n)*lines {
		d.lastError = fmt.Sprintf("Read buffer of %d values is too small for %d samples", bufLen, n)
		return 0, 0, nil, driver.ErrReadBufferTooSmall
	}
	count := n
	if t.shortRead >= 0 && t.shortRead < n {
		count = t.shortRead
	}
	t.shortRead = -1
	first := t.info.SamplesRead
	t.info.SamplesRead += uint64(count)
	return count, first, t, code
}

// ReadAnalogF64 produces n scans of every line, grouped by scan or by channel.
func (d *NoHardware) ReadAnalogF64(task driver.TaskID, numSampsPerChan int32, timeout float64,
	fillMode uint32, buf []float64) (int32, int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	lines := 1
	if t, ok := d.tasks[task]; ok && t.info.Lines > 0 {
		lines = t.info.Lines
	}
	count, first, t, code := d.read("ReadAnalogF64", task, numSampsPerChan, lines, len(buf))
	if t == nil {
		return 0, code
	}
	for j := range int(count) {
		for k := range lines {
			v := d.analog(k, first+uint64(j))
			if fillMode == driver.ValGroupByScanNumber {
				buf[j*lines+k] = v
			} else {
				buf[k*int(count)+j] = v
			}
		}
	}
	return count, code
}

// ReadCounterU32 produces n encoder positions.
func (d *NoHardware) ReadCounterU32(task driver.TaskID, numSampsPerChan int32, timeout float64,
	buf []uint32) (int32, int32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	count, first, t, code := d.read("ReadCounterU32", task, numSampsPerChan, 1, len(buf))
	if t == nil {
		return 0, code
	}
	for j := range int(count) {
		buf[j] = d.counter(first + uint64(j))
	}
	return count, code
}

// RegisterEveryNSamplesEvent stores the callback.
func (d *NoHardware) RegisterEveryNSamplesEvent(task driver.TaskID, eventType int32, nSamples uint32,
	options uint32, cb driver.EveryNSamplesCallback, userData uintptr) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("RegisterEveryNSamplesEvent", task)
	if t == nil {
		return code
	}
	if eventType != driver.ValAcquiredIntoBuffer || nSamples == 0 || cb == nil {
		return d.invalid("Every N samples event with N=%d is invalid", nSamples)
	}
	t.everyN = &everyN{cb: cb, n: nSamples, userData: userData}
	t.info.EveryN = nSamples
	return code
}

// RegisterDoneEvent stores the callback.
func (d *NoHardware) RegisterDoneEvent(task driver.TaskID, options uint32, cb driver.DoneCallback,
	userData uintptr) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, code := d.begin("RegisterDoneEvent", task)
	if t == nil {
		return code
	}
	t.done = &doneEvent{cb: cb, userData: userData}
	return code
}

// GetExtendedErrorInfo copies the latest error text. Like the real driver it
// writes no terminator when the text fills buf.
func (d *NoHardware) GetExtendedErrorInfo(buf []byte) int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := copy(buf, d.lastError)
	if n < len(buf) {
		buf[n] = 0
	}
	return 0
}

// Fire delivers one every-N-samples event to a started task, on the calling
// goroutine. It reports whether a callback ran.
func (d *NoHardware) Fire(task driver.TaskID) bool {
	d.mu.Lock()
	t, ok := d.tasks[task]
	d.mu.Unlock()
	if !ok {
		return false
	}
	t.fireMu.Lock()
	defer t.fireMu.Unlock()

	d.mu.Lock()
	live := t.info.Started && !t.info.Cleared && t.everyN != nil
	var ev everyN
	if live {
		ev = *t.everyN
	}
	d.mu.Unlock()
	if !live {
		return false
	}
	ev.cb(task, driver.ValAcquiredIntoBuffer, ev.n, ev.userData)
	return true
}

// Complete stops the task as if the hardware had finished or failed with
// status, and delivers the done event. It reports whether a callback ran.
func (d *NoHardware) Complete(task driver.TaskID, status int32) bool {
	d.mu.Lock()
	t, ok := d.tasks[task]
	d.mu.Unlock()
	if !ok {
		return false
	}
	t.fireMu.Lock()
	defer t.fireMu.Unlock()

	d.mu.Lock()
	live := t.info.Started && !t.info.Cleared && t.done != nil
	var ev doneEvent
	if live {
		ev = *t.done
		d.stop(t)
	}
	d.mu.Unlock()
	if !live {
		return false
	}
	ev.cb(task, status, ev.userData)
	return true
}

// Wait blocks until every clocked delivery goroutine has exited.
func (d *NoHardware) Wait() {
	d.wg.Wait()
}

// Task returns a snapshot of one task.
func (d *NoHardware) Task(task driver.TaskID) (TaskInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[task]
	if !ok {
		return TaskInfo{}, false
	}
	return t.info, true
}

// Calls returns a copy of the call log.
func (d *NoHardware) Calls() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.calls...)
}

// Ops returns the names of the calls made on one task, in order.
func (d *NoHardware) Ops(task driver.TaskID) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ops []string
	for _, c := range d.calls {
		if c.Task == task {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

// Count returns how many times op was called on task.
func (d *NoHardware) Count(op string, task driver.TaskID) int {
	n := 0
	for _, o := range d.Ops(task) {
		if o == op {
			n++
		}
	}
	return n
}

// Inspect returns a readable dump of every task.
func (d *NoHardware) Inspect() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	infos := make([]TaskInfo, 0, len(d.tasks))
	for _, t := range d.tasks {
		infos = append(infos, t.info)
	}
	return spew.Sdump(infos)
}

// countLines counts the lines named by a physical channel list such as
// "Dev1/ai0:1" or "Dev1/ai0,Dev1/ai3".
func countLines(physicalChannel string) (int, error) {
	if physicalChannel == "" {
		return 0, fmt.Errorf("empty channel list")
	}
	total := 0
	for _, part := range strings.Split(physicalChannel, ",") {
		part = strings.TrimSpace(part)
		slash := strings.LastIndexByte(part, '/')
		if slash < 0 {
			return 0, fmt.Errorf("%q has no device", part)
		}
		name := strings.TrimLeft(part[slash+1:], "abcdefghijklmnopqrstuvwxyz")
		lo, hi, isRange := strings.Cut(name, ":")
		first, err := strconv.Atoi(lo)
		if err != nil {
			return 0, fmt.Errorf("%q: %w", part, err)
		}
		last := first
		if isRange {
			if last, err = strconv.Atoi(hi); err != nil {
				return 0, fmt.Errorf("%q: %w", part, err)
			}
		}
		if last < first {
			first, last = last, first
		}
		total += last - first + 1
	}
	return total, nil
}
