package daqstream

import (
	"errors"
	"fmt"

	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/unboundedchan"
)

// AIConfig describes an analog voltage input channel.
type AIConfig struct {
	PhysicalChannels string  // e.g. "Dev1/ai0:1"
	NumChannels      int     // lines covered by PhysicalChannels
	VoltageSpan      float64 // input range is ±VoltageSpan volts
	ClockSource      string  // "" for the onboard sample clock
	SampleRate       float64 // Hz
	CallbackFreq     float64 // batches per second
	Timeout          float64 // seconds per batch read
}

// DefaultAIConfig returns the two-line ±10 V configuration on Dev1.
func DefaultAIConfig(rate float64) AIConfig {
	return AIConfig{
		PhysicalChannels: "Dev1/ai0:1",
		NumChannels:      2,
		VoltageSpan:      10,
		SampleRate:       rate,
		CallbackFreq:     CallbackFreq,
		Timeout:          SampleTimeout,
	}
}

// BatchSize is the number of scans delivered per callback.
func (c AIConfig) BatchSize() uint32 {
	return batchSize(c.SampleRate, c.CallbackFreq)
}

// Validate checks the configuration without touching the driver.
func (c AIConfig) Validate() error {
	var errs []error
	if c.PhysicalChannels == "" {
		errs = append(errs, errors.New("no physical channels named"))
	}
	if c.NumChannels < 1 {
		errs = append(errs, fmt.Errorf("channel count %d must be at least 1", c.NumChannels))
	}
	if c.VoltageSpan <= 0 {
		errs = append(errs, fmt.Errorf("voltage span %v must be positive", c.VoltageSpan))
	}
	errs = append(errs, validateTiming(c.SampleRate, c.CallbackFreq, c.Timeout))
	return errors.Join(errs...)
}

// AIChannel is a configured, not yet started, analog voltage input task.
type AIChannel struct {
	task  *TaskHandle
	cfg   AIConfig
	clock Clock
}

// NewAIChannel creates the task, its voltage channel and its sample clock.
func NewAIChannel(d driver.Driver, cfg AIConfig, opts ...ChannelOption) (*AIChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("analog input: %w", err)
	}
	o := newChannelOptions(opts)
	task, err := NewTaskHandle(d, o.taskOpts...)
	if err != nil {
		return nil, err
	}
	if err := task.CreateAIVoltageChan(cfg.PhysicalChannels, cfg.VoltageSpan); err != nil {
		task.Close()
		return nil, err
	}
	if err := task.ConfigureSampleClock(cfg.ClockSource, cfg.SampleRate, bufferSize(cfg.SampleRate)); err != nil {
		task.Close()
		return nil, err
	}
	return &AIChannel{task: task, cfg: cfg, clock: o.clock}, nil
}

// Task returns the owned task.
func (c *AIChannel) Task() *TaskHandle {
	return c.task
}

// Config returns the configuration the channel was built with.
func (c *AIChannel) Config() AIConfig {
	return c.cfg
}

// Close stops and releases the task.
func (c *AIChannel) Close() error {
	return c.task.Close()
}

// MakeAsync starts acquisition and hands the channel to the returned stream,
// which closes it.
func (c *AIChannel) MakeAsync() (*Stream[ScanData], error) {
	state := &asyncState[ScanData]{
		tx:      unboundedchan.NewUnboundedChannel[ScanData](),
		rate:    c.cfg.SampleRate,
		timeout: c.cfg.Timeout,
		clock:   c.clock,
		nchan:   c.cfg.NumChannels,
	}
	return startAsync(c.task, c.cfg.BatchSize(), readScans, state, c)
}

func readScans(s *asyncState[ScanData], raw *RawTaskHandle, n uint32) error {
	if s.consumerGone() {
		return ErrTransportClosed
	}
	b, err := readAnalogF64(raw, n, s.nchan, s.timeout, s.clock)
	if err != nil {
		return err
	}
	for ts, scan := range b.All(s.rate) {
		if err := s.send(ScanData{Timestamp: ts, Data: scan}); err != nil {
			return err
		}
	}
	return nil
}
