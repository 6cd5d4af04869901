package daqstream

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/simdaq"
)

func defaultAcquisitionConfig(t *testing.T) AcquisitionConfig {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetAcquisitionDefaults()
	cfg, err := LoadAcquisitionConfig()
	require.NoError(t, err)
	return cfg
}

func TestAcquisitionDefaults(t *testing.T) {
	cfg := defaultAcquisitionConfig(t)
	assert.Equal(t, "Dev1", cfg.Device)
	assert.Equal(t, "Dev1/ai0:1", cfg.AIChannels)
	assert.Equal(t, 2, cfg.NumAIChannels)
	assert.Equal(t, 10.0, cfg.VoltageSpan)
	assert.Equal(t, 1000.0, cfg.SampleRate)
	assert.Equal(t, float64(CallbackFreq), cfg.CallbackFreq)
	assert.Equal(t, SampleTimeout, cfg.Timeout)
	assert.True(t, cfg.Encoder)
	assert.Equal(t, 0, cfg.EncoderCounter)
	assert.Equal(t, 1, cfg.ClockCounter)
	assert.Equal(t, 13, cfg.ClockPFI)
	assert.Equal(t, uint32(500), cfg.PulsesPerRev)
	assert.Equal(t, 0.5, cfg.DutyCycle)

	require.NoError(t, cfg.AI().Validate())
	require.NoError(t, cfg.EncoderConfig().Validate())
	assert.Equal(t, cfg.SampleRate, cfg.EncoderConfig().SampleRate)
}

func TestAcquisitionConfigOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetAcquisitionDefaults()
	viper.Set("acquisition.sample-rate", 2000.0)
	viper.Set("acquisition.ai-channels", "Dev2/ai0:3")
	viper.Set("acquisition.num-ai-channels", 4)
	viper.Set("acquisition.encoder", false)
	cfg, err := LoadAcquisitionConfig()
	require.NoError(t, err)
	assert.Equal(t, 2000.0, cfg.SampleRate)
	assert.Equal(t, "Dev2/ai0:3", cfg.AI().PhysicalChannels)
	assert.Equal(t, 4, cfg.AI().NumChannels)
	assert.Equal(t, uint32(20), cfg.AI().BatchSize())
	assert.False(t, cfg.Encoder)
}

func TestAcquisitionConfigPartialFile(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	SetAcquisitionDefaults()
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(strings.NewReader("acquisition:\n  sample-rate: 2000\n")))
	cfg, err := LoadAcquisitionConfig()
	require.NoError(t, err)
	assert.Equal(t, 2000.0, cfg.SampleRate)
	assert.Equal(t, "Dev1", cfg.Device)
	assert.Equal(t, 2, cfg.NumAIChannels)
	assert.Equal(t, float64(CallbackFreq), cfg.CallbackFreq)
	assert.Equal(t, SampleTimeout, cfg.Timeout)
	assert.True(t, cfg.Encoder)
	assert.Equal(t, uint32(500), cfg.PulsesPerRev)
	assert.Equal(t, uint32(20), cfg.AI().BatchSize())
	require.NoError(t, cfg.AI().Validate())
	require.NoError(t, cfg.EncoderConfig().Validate())
}

func TestStartAcquisition(t *testing.T) {
	cfg := defaultAcquisitionConfig(t)
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	a, err := StartAcquisition(d, cfg, fixedClock(arrival), WithTaskOptions(WithFatalHandler(rec.handle)))
	require.NoError(t, err)
	require.NotNil(t, a.AI)
	require.NotNil(t, a.Encoder)

	ids := createdTasks(d)
	require.Len(t, ids, 3, "analog input, encoder and its clock")
	aiID, encID, clkID := ids[0], ids[1], ids[2]

	require.True(t, d.Fire(aiID))
	require.True(t, d.Fire(encID))
	scans := collect(t, a.AI, 10)
	readings := collect(t, a.Encoder, 10)
	assert.Len(t, scans, 10)
	assert.Len(t, readings, 10)
	assert.Equal(t, arrival, scans[9].Timestamp)
	assert.Equal(t, arrival, readings[9].Timestamp)
	assert.Equal(t, EncoderTick(9), readings[9].Pos)

	require.NoError(t, a.Close())
	assertEnded(t, a.AI)
	assertEnded(t, a.Encoder)
	for _, id := range ids {
		assert.Equal(t, 1, d.Count("ClearTask", id), "task %#x", id)
	}
	assert.Less(t, callIndex(d, "ClearTask", encID), callIndex(d, "ClearTask", clkID))
	assert.Less(t, callIndex(d, "ClearTask", clkID), callIndex(d, "ClearTask", aiID))
	assert.Empty(t, rec.all())
}

func TestStartAcquisitionWithoutEncoder(t *testing.T) {
	cfg := defaultAcquisitionConfig(t)
	cfg.Encoder = false
	d := simdaq.NewNoHardware()
	a, err := StartAcquisition(d, cfg)
	require.NoError(t, err)
	assert.Nil(t, a.Encoder)
	assert.Len(t, createdTasks(d), 1)
	require.NoError(t, a.Close())
}

func TestStartAcquisitionFailureClosesAI(t *testing.T) {
	cfg := defaultAcquisitionConfig(t)
	d := simdaq.NewNoHardware()
	rec := &fatalRecorder{}
	d.FailNext("CreateCIAngEncoderChan", driver.ErrInvalidAttributeValue, "Counter is reserved")
	a, err := StartAcquisition(d, cfg, WithTaskOptions(WithFatalHandler(rec.handle)))
	assert.Nil(t, a)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	for _, id := range createdTasks(d) {
		assert.Equal(t, 1, d.Count("ClearTask", id), "task %#x", id)
	}
}
