package daqstream

import (
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/usnistgov/daqstream/driver"
)

// Acquisition is one run: an analog input stream and, optionally, an encoder
// stream sampled at the same rate.
type Acquisition struct {
	RunID   ulid.ULID
	Start   time.Time
	Config  AcquisitionConfig
	AI      *Stream[ScanData]
	Encoder *Stream[EncoderReading] // nil unless Config.Encoder
}

// StartAcquisition builds and launches every stream of a run. On error,
// anything already started is closed.
func StartAcquisition(d driver.Driver, cfg AcquisitionConfig, opts ...ChannelOption) (*Acquisition, error) {
	a := &Acquisition{RunID: ulid.Make(), Start: time.Now(), Config: cfg}

	ai, err := NewAIChannel(d, cfg.AI(), opts...)
	if err != nil {
		return nil, err
	}
	if a.AI, err = ai.MakeAsync(); err != nil {
		return nil, err
	}

	if cfg.Encoder {
		enc, err := NewCIEncoderChannel(d, cfg.EncoderConfig(), opts...)
		if err != nil {
			a.Close()
			return nil, err
		}
		if a.Encoder, err = enc.MakeAsync(); err != nil {
			a.Close()
			return nil, err
		}
	}
	UpdateLogger.Printf("run %s started: %d analog lines at %v Hz, encoder %v",
		a.RunID, cfg.NumAIChannels, cfg.SampleRate, cfg.Encoder)
	return a, nil
}

// Close stops every stream, newest first.
func (a *Acquisition) Close() error {
	var errs []error
	if a.Encoder != nil {
		errs = append(errs, a.Encoder.Close())
	}
	if a.AI != nil {
		errs = append(errs, a.AI.Close())
	}
	UpdateLogger.Printf("run %s stopped after %v", a.RunID, time.Since(a.Start).Round(time.Millisecond))
	return errors.Join(errs...)
}
