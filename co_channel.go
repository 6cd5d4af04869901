package daqstream

import (
	"errors"
	"fmt"

	"github.com/usnistgov/daqstream/driver"
)

// COConfig describes a pulse-train counter output.
type COConfig struct {
	Counter   string  // e.g. "Dev1/ctr1"
	Frequency float64 // Hz
	DutyCycle float64 // fraction of each period spent high
}

// Validate checks the configuration without touching the driver.
func (c COConfig) Validate() error {
	var errs []error
	if c.Counter == "" {
		errs = append(errs, errors.New("no counter named"))
	}
	if c.Frequency <= 0 {
		errs = append(errs, fmt.Errorf("frequency %v must be positive", c.Frequency))
	}
	errs = append(errs, validateDutyCycle(c.DutyCycle))
	return errors.Join(errs...)
}

// COFreqChannel is a running pulse train. It produces no data; it exists to
// clock other tasks.
type COFreqChannel struct {
	task *TaskHandle
	cfg  COConfig
}

// NewCOFreqChannel configures the pulse train and starts it immediately.
func NewCOFreqChannel(d driver.Driver, cfg COConfig, opts ...ChannelOption) (*COFreqChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("counter output: %w", err)
	}
	o := newChannelOptions(opts)
	task, err := NewTaskHandle(d, o.taskOpts...)
	if err != nil {
		return nil, err
	}
	const implicitBufferSize = 0
	steps := []func() error{
		func() error { return task.CreateCOFreqChan(cfg.Counter, cfg.Frequency, cfg.DutyCycle) },
		func() error { return task.ConfigureImplicitTiming(implicitBufferSize) },
		func() error { return RegisterDoneCallback(task, noopDone, struct{}{}) },
		task.Launch,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			task.Close()
			return nil, err
		}
	}
	return &COFreqChannel{task: task, cfg: cfg}, nil
}

// Task returns the owned task.
func (c *COFreqChannel) Task() *TaskHandle {
	return c.task
}

// Close stops the pulse train.
func (c *COFreqChannel) Close() error {
	return c.task.Close()
}
