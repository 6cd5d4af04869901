package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"github.com/usnistgov/daqstream"
	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/publish"
	"github.com/usnistgov/daqstream/internal/recorder"
	"github.com/usnistgov/daqstream/internal/rundb"
	"github.com/usnistgov/daqstream/internal/simdaq"
	"github.com/usnistgov/daqstream/internal/summary"
)

// config holds every section of the config file.
type config struct {
	Acquisition daqstream.AcquisitionConfig
	Publish     publish.Config
	Record      recorder.Config
	Database    rundb.Config
	Summary     summary.Config
	Verbose     bool
}

func setDefaults() {
	daqstream.SetAcquisitionDefaults()
	viper.SetDefault("publish.enable", true)
	viper.SetDefault("publish.port", 5510)
	viper.SetDefault("publish.send-hwm", 10000)
	viper.SetDefault("publish.send-buffer", 0)
	viper.SetDefault("record.enable", false)
	viper.SetDefault("record.base-path", "$HOME/daqstream_data")
	viper.SetDefault("record.formats", []string{"csv"})
	viper.SetDefault("record.max-samples", 10_000_000)
	viper.SetDefault("database.enable", false)
	viper.SetDefault("database.address", "localhost:9000")
	viper.SetDefault("database.database", "daqstream")
	viper.SetDefault("summary.window", 1000)
}

// loadConfig decodes every section at once, so defaults survive a config
// file that sets only some keys of a section.
func loadConfig() (config, error) {
	var cfg config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	cfg.Record.BasePath = os.ExpandEnv(cfg.Record.BasePath)
	return cfg, nil
}

// sinks are the consumers of one run's samples. Any of them may be nil.
type sinks struct {
	pub    *publish.Publisher
	db     *rundb.Connection
	runID  string
	window int
}

func (s *sinks) report(sum summary.Summary) {
	daqstream.UpdateLogger.Print(sum)
	if s.pub != nil {
		if err := s.pub.PublishSummary(sum); err != nil {
			daqstream.ProblemLogger.Printf("publishing summary: %v", err)
		}
	}
	s.db.RecordSummary(s.runID, sum)
}

func (s *sinks) consumeScans(stream *daqstream.Stream[daqstream.ScanData], nchan int, rec *recorder.ScanRecorder) {
	acc := summary.NewAccumulator("ai", nchan, s.window)
	var failed bool
	for scan := range stream.All() {
		if s.pub != nil {
			if err := s.pub.PublishScan(scan); err != nil && !failed {
				daqstream.ProblemLogger.Printf("publishing scans: %v", err)
				failed = true
			}
		}
		if rec != nil {
			rec.Record(scan)
		}
		if sum, ok := acc.AddScan(scan); ok {
			s.report(sum)
		}
	}
	if sum, ok := acc.Flush(); ok {
		s.report(sum)
	}
}

func (s *sinks) consumeReadings(stream *daqstream.Stream[daqstream.EncoderReading], rec *recorder.EncoderRecorder) {
	acc := summary.NewAccumulator("encoder", 1, s.window)
	var failed bool
	for r := range stream.All() {
		if s.pub != nil {
			if err := s.pub.PublishReading(r); err != nil && !failed {
				daqstream.ProblemLogger.Printf("publishing encoder readings: %v", err)
				failed = true
			}
		}
		if rec != nil {
			rec.Record(r)
		}
		if sum, ok := acc.AddReading(r); ok {
			s.report(sum)
		}
	}
	if sum, ok := acc.Flush(); ok {
		s.report(sum)
	}
}

// run acquires until abort is closed or a task fails, feeding every enabled sink.
func run(d driver.Driver, cfg config, abort <-chan struct{}) error {
	activity := &rundb.ActivityMessage{
		ID:        ulid.Make().String(),
		Hostname:  daqstream.Build.Host,
		Githash:   daqstream.Build.Githash,
		Version:   daqstream.Build.Version,
		GoVersion: runtime.Version(),
		CPUs:      runtime.NumCPU(),
		Start:     time.Now(),
	}
	dbAbort := make(chan struct{})
	db := rundb.Dummy()
	if cfg.Database.Enable {
		db = rundb.Start(cfg.Database, activity, dbAbort)
	}
	defer func() {
		close(dbAbort)
		db.Wait()
	}()

	var pub *publish.Publisher
	if cfg.Publish.Enable {
		var err error
		if pub, err = publish.New(cfg.Publish); err != nil {
			return err
		}
		defer pub.Close()
		daqstream.UpdateLogger.Printf("publishing on %s", pub.Endpoint())
	}

	var failOnce sync.Once
	var fatal error
	failed := make(chan struct{})
	onFatal := func(err error) {
		daqstream.ProblemLogger.Printf("acquisition failed: %v", err)
		failOnce.Do(func() {
			fatal = err
			close(failed)
		})
	}
	acq, err := daqstream.StartAcquisition(d, cfg.Acquisition,
		daqstream.WithTaskOptions(daqstream.WithFatalHandler(onFatal)))
	if err != nil {
		return err
	}
	if sim, ok := d.(*simdaq.NoHardware); ok && cfg.Verbose {
		fmt.Print(sim.Inspect())
	}

	runmsg := &rundb.RunMessage{
		ID:         acq.RunID.String(),
		Device:     cfg.Acquisition.Device,
		AIChannels: cfg.Acquisition.AIChannels,
		NChannels:  cfg.Acquisition.NumAIChannels,
		SampleRate: cfg.Acquisition.SampleRate,
		Encoder:    cfg.Acquisition.Encoder,
		Start:      acq.Start,
	}
	var scanRec *recorder.ScanRecorder
	var encRec *recorder.EncoderRecorder
	if cfg.Record.Enable {
		pattern, err := recorder.MakeDirectory(cfg.Record.BasePath, acq.Start)
		if err == nil {
			scanRec, err = recorder.NewScanRecorder(cfg.Record, pattern, cfg.Acquisition.NumAIChannels)
		}
		if err == nil && acq.Encoder != nil {
			encRec, err = recorder.NewEncoderRecorder(cfg.Record, pattern)
		}
		if err != nil {
			acq.Close()
			if scanRec != nil {
				scanRec.Close()
			}
			return fmt.Errorf("opening output files: %w", err)
		}
		runmsg.Directory = filepath.Dir(pattern)
		daqstream.UpdateLogger.Printf("recording to %s", pattern)
	}
	db.RecordRun(runmsg)

	s := &sinks{pub: pub, db: db, runID: runmsg.ID, window: cfg.Summary.Window}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consumeScans(acq.AI, cfg.Acquisition.NumAIChannels, scanRec)
	}()
	if acq.Encoder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.consumeReadings(acq.Encoder, encRec)
		}()
	}
	consumed := make(chan struct{})
	go func() {
		wg.Wait()
		close(consumed)
	}()

	select {
	case <-abort:
	case <-failed:
	case <-consumed:
	}
	errs := []error{acq.Close()}
	<-consumed
	if scanRec != nil {
		errs = append(errs, scanRec.Close())
	}
	if encRec != nil {
		errs = append(errs, encRec.Close())
	}
	db.FinishRun(runmsg)
	select {
	case <-failed:
		return fatal
	default:
	}
	return errors.Join(errs...)
}
