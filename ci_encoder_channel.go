package daqstream

import (
	"errors"
	"fmt"

	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/unboundedchan"
)

// EncoderConfig describes an angular encoder read on one counter and clocked
// by a pulse train generated on a second counter.
type EncoderConfig struct {
	Device       string // e.g. "Dev1"
	Counter      int    // counter reading the encoder
	ClockCounter int    // counter generating the sample clock
	ClockPFI     int    // terminal carrying the clock counter's output
	SampleRate   float64
	CallbackFreq float64
	Timeout      float64
	PulsesPerRev uint32
	DutyCycle    float64
	InitialPos   float64
}

// DefaultEncoderConfig returns the 500 pulse-per-rev encoder on Dev1/ctr0,
// clocked by Dev1/ctr1 through PFI13.
func DefaultEncoderConfig(rate float64) EncoderConfig {
	return EncoderConfig{
		Device:       "Dev1",
		Counter:      0,
		ClockCounter: 1,
		ClockPFI:     13,
		SampleRate:   rate,
		CallbackFreq: CallbackFreq,
		Timeout:      SampleTimeout,
		PulsesPerRev: 500,
		DutyCycle:    0.5,
	}
}

// BatchSize is the number of readings delivered per callback.
func (c EncoderConfig) BatchSize() uint32 {
	return batchSize(c.SampleRate, c.CallbackFreq)
}

// Validate checks the configuration without touching the driver.
func (c EncoderConfig) Validate() error {
	var errs []error
	if c.Device == "" {
		errs = append(errs, errors.New("no device named"))
	}
	if c.Counter == c.ClockCounter {
		errs = append(errs, fmt.Errorf("encoder and clock both use counter %d", c.Counter))
	}
	if c.PulsesPerRev == 0 {
		errs = append(errs, errors.New("pulses per revolution must be positive"))
	}
	errs = append(errs, validateTiming(c.SampleRate, c.CallbackFreq, c.Timeout))
	errs = append(errs, validateDutyCycle(c.DutyCycle))
	return errors.Join(errs...)
}

// CIEncoderChannel is a configured, not yet started, encoder input task. It
// owns the pulse train that clocks it.
type CIEncoderChannel struct {
	task  *TaskHandle
	clk   *COFreqChannel
	cfg   EncoderConfig
	clock Clock
}

// NewCIEncoderChannel creates the encoder task, starts its clock, then adds
// the encoder channel and sample clock.
func NewCIEncoderChannel(d driver.Driver, cfg EncoderConfig, opts ...ChannelOption) (*CIEncoderChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("encoder input: %w", err)
	}
	o := newChannelOptions(opts)
	task, err := NewTaskHandle(d, o.taskOpts...)
	if err != nil {
		return nil, err
	}
	clk, err := NewCOFreqChannel(d, COConfig{
		Counter:   CounterChanDesc(cfg.Device, cfg.ClockCounter),
		Frequency: cfg.SampleRate,
		DutyCycle: cfg.DutyCycle,
	}, opts...)
	if err != nil {
		task.Close()
		return nil, err
	}
	c := &CIEncoderChannel{task: task, clk: clk, cfg: cfg, clock: o.clock}

	err = task.CreateCIAngEncoderChan(CounterChanDesc(cfg.Device, cfg.Counter), cfg.PulsesPerRev, cfg.InitialPos)
	if err == nil {
		err = task.ConfigureSampleClock(PFIDesc(cfg.Device, cfg.ClockPFI), cfg.SampleRate, bufferSize(cfg.SampleRate))
	}
	if err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Task returns the encoder task.
func (c *CIEncoderChannel) Task() *TaskHandle {
	return c.task
}

// ClockChannel returns the pulse train clocking the encoder.
func (c *CIEncoderChannel) ClockChannel() *COFreqChannel {
	return c.clk
}

// Config returns the configuration the channel was built with.
func (c *CIEncoderChannel) Config() EncoderConfig {
	return c.cfg
}

// Close stops the encoder task, then its clock.
func (c *CIEncoderChannel) Close() error {
	err := c.task.Close()
	if cerr := c.clk.Close(); err == nil {
		err = cerr
	}
	return err
}

// MakeAsync starts acquisition and hands the channel to the returned stream,
// which closes it.
func (c *CIEncoderChannel) MakeAsync() (*Stream[EncoderReading], error) {
	state := &asyncState[EncoderReading]{
		tx:      unboundedchan.NewUnboundedChannel[EncoderReading](),
		rate:    c.cfg.SampleRate,
		timeout: c.cfg.Timeout,
		clock:   c.clock,
		nchan:   1,
	}
	return startAsync(c.task, c.cfg.BatchSize(), readEncoder, state, c)
}

func readEncoder(s *asyncState[EncoderReading], raw *RawTaskHandle, n uint32) error {
	if s.consumerGone() {
		return ErrTransportClosed
	}
	b, err := readCounterU32(raw, n, s.timeout, s.clock)
	if err != nil {
		return err
	}
	for ts, v := range b.All(s.rate) {
		if err := s.send(EncoderReading{Timestamp: ts, Pos: EncoderTick(int32(v))}); err != nil {
			return err
		}
	}
	return nil
}
