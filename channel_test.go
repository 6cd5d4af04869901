package daqstream

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/callback"
	"github.com/usnistgov/daqstream/internal/simdaq"
)

const arrival = uint64(1_750_000_000_000_000_000)

func collect[T any](t *testing.T, s *Stream[T], n int) []T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var got []T
	for len(got) < n {
		v, ok := s.Next(ctx)
		if !ok {
			break
		}
		got = append(got, v)
	}
	return got
}

// assertEnded checks that the stream reports end of stream promptly.
func assertEnded[T any](t *testing.T, s *Stream[T]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, ok := s.Next(ctx)
	assert.False(t, ok)
	assert.NoError(t, ctx.Err(), "stream did not end")
}

func testAIConfig() AIConfig {
	return DefaultAIConfig(1000)
}

func TestAIStreamEndToEnd(t *testing.T) {
	d := simdaq.NewNoHardware(simdaq.WithAnalogSource(func(line int, index uint64) float64 {
		return float64(line) + float64(index)/10
	}))
	rec := &fatalRecorder{}
	ai, err := NewAIChannel(d, testAIConfig(), fixedClock(arrival), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	id := ai.Task().Raw().ID()

	info, ok := d.Task(id)
	require.True(t, ok)
	assert.Equal(t, "Dev1/ai0:1", info.Channel)
	assert.Equal(t, 2, info.Lines)
	assert.Equal(t, -10.0, info.MinVal)
	assert.Equal(t, 10.0, info.MaxVal)
	assert.Equal(t, "", info.ClockSource)
	assert.Equal(t, 1000.0, info.SampleRate)
	assert.Equal(t, uint64(10000), info.BufferSize)

	stream, err := ai.MakeAsync()
	require.NoError(t, err)
	info, _ = d.Task(id)
	assert.Equal(t, uint32(10), info.EveryN)
	assert.True(t, info.Started)

	require.True(t, d.Fire(id))
	got := collect(t, stream, 10)
	require.Len(t, got, 10)
	for j, s := range got {
		assert.Equal(t, arrival-uint64(9-j)*1_000_000, s.Timestamp, "scan %d", j)
		assert.Equal(t, []float64{float64(j) / 10, 1 + float64(j)/10}, s.Data, "scan %d", j)
	}

	// The next batch continues the sequence.
	require.True(t, d.Fire(id))
	got = collect(t, stream, 10)
	require.Len(t, got, 10)
	assert.Equal(t, []float64{1, 2}, got[0].Data)

	require.NoError(t, stream.Close())
	assertEnded(t, stream)
	assert.Equal(t, 1, d.Count("ClearTask", id))
	assert.Empty(t, rec.all())
}

func TestEncoderStreamEndToEnd(t *testing.T) {
	d := simdaq.NewNoHardware(simdaq.WithCounterSource(func(index uint64) uint32 {
		return 0 - uint32(index)
	}))
	rec := &fatalRecorder{}
	enc, err := NewCIEncoderChannel(d, DefaultEncoderConfig(500), fixedClock(arrival),
		WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	id := enc.Task().Raw().ID()
	clkID := enc.ClockChannel().Task().Raw().ID()

	clk, _ := d.Task(clkID)
	assert.Equal(t, simdaq.KindPulseOutput, clk.Kind)
	assert.Equal(t, "Dev1/ctr1", clk.Channel)
	assert.Equal(t, 500.0, clk.Frequency)
	assert.Equal(t, 0.5, clk.DutyCycle)
	assert.Equal(t, uint64(0), clk.BufferSize)
	assert.True(t, clk.Started, "clock should run as soon as it is built")

	info, _ := d.Task(id)
	assert.Equal(t, simdaq.KindEncoder, info.Kind)
	assert.Equal(t, "Dev1/ctr0", info.Channel)
	assert.Equal(t, uint32(500), info.PulsesPerRev)
	assert.Equal(t, "/Dev1/PFI13", info.ClockSource)
	assert.Equal(t, uint64(5000), info.BufferSize)

	stream, err := enc.MakeAsync()
	require.NoError(t, err)
	require.True(t, d.Fire(id))
	got := collect(t, stream, 5)
	require.Len(t, got, 5)
	for j, r := range got {
		assert.Equal(t, arrival-uint64(4-j)*2_000_000, r.Timestamp)
		assert.Equal(t, EncoderTick(-j), r.Pos)
	}

	require.NoError(t, stream.Close())
	assertEnded(t, stream)
	encClear := callIndex(d, "ClearTask", id)
	clkClear := callIndex(d, "ClearTask", clkID)
	require.NotEqual(t, -1, encClear)
	require.NotEqual(t, -1, clkClear)
	assert.Less(t, encClear, clkClear, "encoder task must be cleared before its clock")
	assert.Empty(t, rec.all())
}

func TestCallbacksRegisteredBeforeStart(t *testing.T) {
	d := simdaq.NewNoHardware()
	ai, err := NewAIChannel(d, testAIConfig())
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, []string{"CreateTask", "CreateAIVoltageChan", "CfgSampClkTiming",
		"RegisterEveryNSamplesEvent", "RegisterDoneEvent", "StartTask"}, d.Ops(id))
}

func TestShortReadEndsStream(t *testing.T) {
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	ai, err := NewAIChannel(d, testAIConfig(), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)

	d.ShortRead(id, 7)
	require.True(t, d.Fire(id))
	assertEnded(t, stream)
	assert.Equal(t, 1, d.Count("ClearTask", id))
	if errs := rec.all(); assert.Len(t, errs, 1) {
		var sr *ShortReadError
		require.ErrorAs(t, errs[0], &sr)
		assert.Equal(t, int32(7), sr.Read)
		assert.ErrorIs(t, errs[0], ErrScanWarning)
	}
	require.NoError(t, stream.Close())
	assert.Equal(t, 1, d.Count("ClearTask", id))
}

func TestReadErrorEndsStream(t *testing.T) {
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	enc, err := NewCIEncoderChannel(d, DefaultEncoderConfig(1000), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	id := enc.Task().Raw().ID()
	stream, err := enc.MakeAsync()
	require.NoError(t, err)

	d.FailNext("ReadCounterU32", driver.ErrSamplesNotYetAvailable, "Some or all of the samples requested have not yet been acquired.")
	require.True(t, d.Fire(id))
	assertEnded(t, stream)
	if errs := rec.all(); assert.Len(t, errs, 1) {
		var de *DriverError
		require.ErrorAs(t, errs[0], &de)
		assert.Equal(t, driver.ErrSamplesNotYetAvailable, de.Code)
		assert.Contains(t, de.Message, "not yet been acquired")
	}
	assert.Equal(t, 1, d.Count("ClearTask", id))

	// Closing the stream still stops the clock.
	clkID := enc.ClockChannel().Task().Raw().ID()
	require.NoError(t, stream.Close())
	assert.Equal(t, 1, d.Count("ClearTask", id))
	assert.Equal(t, 1, d.Count("ClearTask", clkID))
}

func TestReadWarningKeepsStreaming(t *testing.T) {
	problems := captureProblems(t)
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	ai, err := NewAIChannel(d, testAIConfig(), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)
	defer stream.Close()

	d.FailNext("ReadAnalogF64", 200010, "Finite acquisition or generation has been stopped before the requested number of samples were acquired or generated.")
	require.True(t, d.Fire(id))
	assert.Len(t, collect(t, stream, 10), 10)
	assert.Contains(t, problems.String(), "warning 200010")
	assert.True(t, d.Fire(id))
	assert.Len(t, collect(t, stream, 10), 10)
	assert.Empty(t, rec.all())
}

func TestConsumerGoneBeforeBatch(t *testing.T) {
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	ai, err := NewAIChannel(d, testAIConfig(), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)

	stream.rx.Release()
	require.True(t, d.Fire(id))
	assert.Equal(t, 0, d.Count("ReadAnalogF64", id))
	assert.Equal(t, 1, d.Count("ClearTask", id))
	assert.Empty(t, rec.all())
	require.NoError(t, stream.Close())
	assert.Equal(t, 1, d.Count("ClearTask", id))
}

func TestStreamCloseReleasesEverything(t *testing.T) {
	d := simdaq.NewNoHardware()
	base := callback.Count()
	ai, err := NewAIChannel(d, testAIConfig())
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)
	assert.Equal(t, base+2, callback.Count())

	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())
	assert.Equal(t, base, callback.Count())
	assert.Equal(t, 1, d.Count("ClearTask", id))
	assert.False(t, d.Fire(id))
	_, open := <-stream.C()
	assert.False(t, open)
}

func TestStreamNextHonorsContext(t *testing.T) {
	d := simdaq.NewNoHardware()
	ai, err := NewAIChannel(d, testAIConfig())
	require.NoError(t, err)
	stream, err := ai.MakeAsync()
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := stream.Next(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, ctx.Err(), context.Canceled, "false came from cancellation")
	_, err = stream.Recv(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// Cancellation leaves the stream intact, and Recv reports end of stream as
// io.EOF rather than a context error.
func TestStreamRecvDistinguishesEnd(t *testing.T) {
	d := simdaq.NewNoHardware()
	ai, err := NewAIChannel(d, testAIConfig(), fixedClock(arrival))
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = stream.Recv(cancelled)
	require.ErrorIs(t, err, context.Canceled)

	require.True(t, d.Fire(id))
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	scan, err := stream.Recv(ctx)
	require.NoError(t, err)
	assert.Len(t, scan.Data, testAIConfig().NumChannels)

	require.NoError(t, stream.Close())
	for err == nil {
		_, err = stream.Recv(ctx)
	}
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, ctx.Err())
}

func TestStreamAll(t *testing.T) {
	d := simdaq.NewNoHardware()
	ai, err := NewAIChannel(d, testAIConfig(), fixedClock(arrival))
	require.NoError(t, err)
	id := ai.Task().Raw().ID()
	stream, err := ai.MakeAsync()
	require.NoError(t, err)
	require.True(t, d.Fire(id))
	require.True(t, d.Fire(id))
	n := 0
	for range stream.All() {
		n++
		if n == 20 {
			break
		}
	}
	assert.Equal(t, 20, n)
	require.NoError(t, stream.Close())
}

func TestConfigurationErrorReturned(t *testing.T) {
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	d.FailNext("CreateAIVoltageChan", driver.ErrInvalidAttributeValue, "Requested value is not a supported value for this property.")
	_, err := NewAIChannel(d, testAIConfig(), WithTaskOptions(WithFatalHandler(rec.handle)))
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "CreateAIVoltageChan", de.Op)
	ids := createdTasks(d)
	require.Len(t, ids, 1)
	assert.Equal(t, 1, d.Count("ClearTask", ids[0]))
	assert.Equal(t, 0, d.Count("CfgSampClkTiming", ids[0]))
	assert.Len(t, rec.all(), 1)
}

func TestEncoderConfigurationErrorClosesClock(t *testing.T) {
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	d.FailNext("CreateCIAngEncoderChan", driver.ErrInvalidAttributeValue, "bad counter")
	_, err := NewCIEncoderChannel(d, DefaultEncoderConfig(1000), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.Error(t, err)
	ids := createdTasks(d)
	require.Len(t, ids, 2)
	for _, id := range ids {
		assert.Equal(t, 1, d.Count("ClearTask", id))
	}
}

func TestValidation(t *testing.T) {
	d := simdaq.NewNoHardware()
	bad := []AIConfig{
		{PhysicalChannels: "Dev1/ai0", NumChannels: 1, VoltageSpan: 10, SampleRate: 0, CallbackFreq: 100, Timeout: 1},
		{PhysicalChannels: "Dev1/ai0", NumChannels: 1, VoltageSpan: 10, SampleRate: 50, CallbackFreq: 100, Timeout: 1},
		{PhysicalChannels: "Dev1/ai0", NumChannels: 0, VoltageSpan: 10, SampleRate: 1000, CallbackFreq: 100, Timeout: 1},
		{PhysicalChannels: "Dev1/ai0", NumChannels: 1, VoltageSpan: 0, SampleRate: 1000, CallbackFreq: 100, Timeout: 1},
		{PhysicalChannels: "", NumChannels: 1, VoltageSpan: 10, SampleRate: 1000, CallbackFreq: 100, Timeout: 1},
	}
	for i, cfg := range bad {
		if _, err := NewAIChannel(d, cfg); err == nil {
			t.Errorf("config %d: NewAIChannel(%+v) succeeded, want error", i, cfg)
		}
	}
	enc := DefaultEncoderConfig(1000)
	enc.DutyCycle = 1
	_, err := NewCIEncoderChannel(d, enc)
	assert.Error(t, err)
	enc = DefaultEncoderConfig(1000)
	enc.ClockCounter = enc.Counter
	_, err = NewCIEncoderChannel(d, enc)
	assert.Error(t, err)
	_, err = NewCOFreqChannel(d, COConfig{Counter: "Dev1/ctr1", Frequency: -1, DutyCycle: 0.5})
	assert.Error(t, err)

	assert.Empty(t, d.Calls(), "validation must precede any driver call")
}

func TestDescriptors(t *testing.T) {
	assert.Equal(t, "Dev1/ctr0", CounterChanDesc("Dev1", 0))
	assert.Equal(t, "/Dev1/PFI13", PFIDesc("Dev1", 13))
	assert.Equal(t, uint32(10), testAIConfig().BatchSize())
	assert.Equal(t, uint32(5), DefaultEncoderConfig(500).BatchSize())
}

func TestClockedStream(t *testing.T) {
	d := simdaq.NewNoHardware(simdaq.Clocked())
	ai, err := NewAIChannel(d, testAIConfig())
	require.NoError(t, err)
	stream, err := ai.MakeAsync()
	require.NoError(t, err)

	got := collect(t, stream, 50)
	require.Len(t, got, 50)
	// Within a batch, scans are one sample period apart.
	for j := 1; j < len(got); j++ {
		if j%10 != 0 {
			assert.Equal(t, uint64(1_000_000), got[j].Timestamp-got[j-1].Timestamp, "scan %d", j)
		}
	}
	require.NoError(t, stream.Close())
	d.Wait()
	assertEnded(t, stream)
}
