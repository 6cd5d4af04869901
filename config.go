package daqstream

import (
	"fmt"

	"github.com/spf13/viper"
)

// AcquisitionConfig is the "acquisition" section of the config file.
type AcquisitionConfig struct {
	Device        string
	AIChannels    string  `mapstructure:"ai-channels"`
	NumAIChannels int     `mapstructure:"num-ai-channels"`
	VoltageSpan   float64 `mapstructure:"voltage-span"`
	ClockSource   string  `mapstructure:"clock-source"`
	SampleRate    float64 `mapstructure:"sample-rate"`
	CallbackFreq  float64 `mapstructure:"callback-freq"`
	Timeout       float64

	Encoder        bool
	EncoderCounter int     `mapstructure:"encoder-counter"`
	ClockCounter   int     `mapstructure:"clock-counter"`
	ClockPFI       int     `mapstructure:"clock-pfi"`
	PulsesPerRev   uint32  `mapstructure:"pulses-per-rev"`
	DutyCycle      float64 `mapstructure:"duty-cycle"`
}

// SetAcquisitionDefaults registers defaults for the "acquisition" section.
func SetAcquisitionDefaults() {
	ai := DefaultAIConfig(1000)
	enc := DefaultEncoderConfig(1000)
	viper.SetDefault("acquisition.device", enc.Device)
	viper.SetDefault("acquisition.ai-channels", ai.PhysicalChannels)
	viper.SetDefault("acquisition.num-ai-channels", ai.NumChannels)
	viper.SetDefault("acquisition.voltage-span", ai.VoltageSpan)
	viper.SetDefault("acquisition.clock-source", ai.ClockSource)
	viper.SetDefault("acquisition.sample-rate", ai.SampleRate)
	viper.SetDefault("acquisition.callback-freq", CallbackFreq)
	viper.SetDefault("acquisition.timeout", SampleTimeout)
	viper.SetDefault("acquisition.encoder", true)
	viper.SetDefault("acquisition.encoder-counter", enc.Counter)
	viper.SetDefault("acquisition.clock-counter", enc.ClockCounter)
	viper.SetDefault("acquisition.clock-pfi", enc.ClockPFI)
	viper.SetDefault("acquisition.pulses-per-rev", enc.PulsesPerRev)
	viper.SetDefault("acquisition.duty-cycle", enc.DutyCycle)
}

// LoadAcquisitionConfig reads the "acquisition" section. Keys missing from
// the config file keep their defaults: the whole tree is decoded, because
// viper.UnmarshalKey sees only the file's map once the section appears there.
func LoadAcquisitionConfig() (AcquisitionConfig, error) {
	var tree struct {
		Acquisition AcquisitionConfig
	}
	if err := viper.Unmarshal(&tree); err != nil {
		return tree.Acquisition, fmt.Errorf("reading acquisition config: %w", err)
	}
	return tree.Acquisition, nil
}

// AI returns the analog input part of the configuration.
func (c AcquisitionConfig) AI() AIConfig {
	return AIConfig{
		PhysicalChannels: c.AIChannels,
		NumChannels:      c.NumAIChannels,
		VoltageSpan:      c.VoltageSpan,
		ClockSource:      c.ClockSource,
		SampleRate:       c.SampleRate,
		CallbackFreq:     c.CallbackFreq,
		Timeout:          c.Timeout,
	}
}

// EncoderConfig returns the encoder part of the configuration. The encoder is
// clocked at the analog input rate.
func (c AcquisitionConfig) EncoderConfig() EncoderConfig {
	return EncoderConfig{
		Device:       c.Device,
		Counter:      c.EncoderCounter,
		ClockCounter: c.ClockCounter,
		ClockPFI:     c.ClockPFI,
		SampleRate:   c.SampleRate,
		CallbackFreq: c.CallbackFreq,
		Timeout:      c.Timeout,
		PulsesPerRev: c.PulsesPerRev,
		DutyCycle:    c.DutyCycle,
	}
}
