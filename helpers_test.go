package daqstream

import (
	"bytes"
	"log"
	"sync"
	"testing"

	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/simdaq"
)

// fatalRecorder collects what a task reports to its FatalHandler.
type fatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (f *fatalRecorder) handle(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, err)
}

func (f *fatalRecorder) all() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.errs...)
}

// closeCounter is callback state that counts how often it is released.
type closeCounter struct {
	mu     sync.Mutex
	closed int
	calls  int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *closeCounter) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// captureProblems redirects ProblemLogger for the duration of a test.
func captureProblems(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := ProblemLogger
	ProblemLogger = log.New(&buf, "", 0)
	t.Cleanup(func() { ProblemLogger = old })
	return &buf
}

func fixedClock(ts uint64) ChannelOption {
	return WithClock(func() uint64 { return ts })
}

func newTestTask(t *testing.T, d driver.Driver, rec *fatalRecorder) *TaskHandle {
	t.Helper()
	th, err := NewTaskHandle(d, WithFatalHandler(rec.handle))
	if err != nil {
		t.Fatalf("NewTaskHandle: %v", err)
	}
	return th
}

// createdTasks returns every task created on d, in order.
func createdTasks(d *simdaq.NoHardware) []driver.TaskID {
	var ids []driver.TaskID
	for _, c := range d.Calls() {
		if c.Op == "CreateTask" && c.Task != 0 {
			ids = append(ids, c.Task)
		}
	}
	return ids
}

// callIndex returns the position of the first call of op on task, or -1.
func callIndex(d *simdaq.NoHardware, op string, task driver.TaskID) int {
	for i, c := range d.Calls() {
		if c.Op == op && c.Task == task {
			return i
		}
	}
	return -1
}
