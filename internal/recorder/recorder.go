// Package recorder writes acquired samples to disk: CSV text lines through an
// asynchronous buffered writer, and numpy .npy column files.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/sbinet/npyio"
	"github.com/usnistgov/daqstream"
	"github.com/usnistgov/daqstream/internal/asyncbufio"
)

// Config is the "record" section of the config file.
type Config struct {
	Enable     bool
	BasePath   string `mapstructure:"base-path"`
	Formats    []string
	MaxSamples int `mapstructure:"max-samples"` // per .npy column; CSV is unlimited
}

// WantsCSV reports whether CSV output is requested.
func (c Config) WantsCSV() bool {
	return slices.Contains(c.Formats, "csv")
}

// WantsNPY reports whether .npy output is requested.
func (c Config) WantsNPY() bool {
	return slices.Contains(c.Formats, "npy")
}

const (
	csvQueueDepth    = 1000
	csvFlushInterval = time.Second
)

// MakeDirectory creates basepath/YYYYMMDD/NNNN for the next unused run number
// NNNN and returns a filename pattern in it. The pattern takes two %s verbs:
// the file's role and its extension.
func MakeDirectory(basepath string, now time.Time) (string, error) {
	if len(basepath) == 0 {
		return "", fmt.Errorf("BasePath is the empty string")
	}
	today := now.Format("20060102")
	todayDir := fmt.Sprintf("%s/%s", basepath, today)
	if err := os.MkdirAll(todayDir, 0755); err != nil {
		return "", err
	}
	for i := range 10000 {
		thisDir := fmt.Sprintf("%s/%4.4d", todayDir, i)
		_, err := os.Stat(thisDir)
		if os.IsNotExist(err) {
			if err2 := os.MkdirAll(thisDir, 0755); err2 != nil {
				return "", err2
			}
			return fmt.Sprintf("%s/%s_run%4.4d_%%s.%%s", thisDir, today, i), nil
		}
	}
	return "", fmt.Errorf("out of 4-digit ID numbers for today in %s", todayDir)
}

// CSVWriter writes one text line per record.
type CSVWriter struct {
	filename string
	w        *asyncbufio.Writer
	lines    int
}

// NewCSVWriter creates filename and writes header as its first line.
func NewCSVWriter(filename, header string) (*CSVWriter, error) {
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	c := &CSVWriter{filename: filename, w: asyncbufio.NewWriter(f, csvQueueDepth, csvFlushInterval)}
	if header != "" {
		c.w.WriteString(header + "\n")
	}
	return c, nil
}

// Record queues one line. A full queue drops the line and returns an error.
func (c *CSVWriter) Record(line fmt.Stringer) error {
	if _, err := c.w.WriteString(line.String() + "\n"); err != nil {
		return fmt.Errorf("%s: %w", c.filename, err)
	}
	c.lines++
	return nil
}

// Lines returns the number of records queued so far.
func (c *CSVWriter) Lines() int {
	return c.lines
}

// Close flushes and closes the file.
func (c *CSVWriter) Close() error {
	if n := c.w.Dropped(); n > 0 {
		daqstream.ProblemLogger.Printf("%s: dropped %d lines", c.filename, n)
	}
	return c.w.Close()
}

func writeNPY(filename string, val any) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := npyio.Write(f, val); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", filename, err)
	}
	return f.Close()
}

// ScanColumns holds analog scans in memory, one column per line plus the
// timestamps, and writes them as .npy files on Close.
type ScanColumns struct {
	pattern    string
	timestamps []uint64
	cols       [][]float64
	max        int
}

// NewScanColumns keeps at most max scans of nchan lines.
func NewScanColumns(pattern string, nchan, max int) *ScanColumns {
	return &ScanColumns{pattern: pattern, cols: make([][]float64, nchan), max: max}
}

// Add stores a scan. It returns false, storing nothing, once full.
func (s *ScanColumns) Add(d daqstream.ScanData) bool {
	if len(s.timestamps) >= s.max {
		return false
	}
	s.timestamps = append(s.timestamps, d.Timestamp)
	for k := range s.cols {
		v := 0.0
		if k < len(d.Data) {
			v = d.Data[k]
		}
		s.cols[k] = append(s.cols[k], v)
	}
	return true
}

// Len returns the number of scans stored.
func (s *ScanColumns) Len() int {
	return len(s.timestamps)
}

// Close writes ai_timestamps.npy and one aiK.npy per line.
func (s *ScanColumns) Close() error {
	errs := []error{writeNPY(fmt.Sprintf(s.pattern, "ai_timestamps", "npy"), s.timestamps)}
	for k, col := range s.cols {
		errs = append(errs, writeNPY(fmt.Sprintf(s.pattern, fmt.Sprintf("ai%d", k), "npy"), col))
	}
	return errors.Join(errs...)
}

// EncoderColumns holds encoder readings in memory and writes them as .npy
// files on Close.
type EncoderColumns struct {
	pattern    string
	timestamps []uint64
	positions  []int32
	max        int
}

// NewEncoderColumns keeps at most max readings.
func NewEncoderColumns(pattern string, max int) *EncoderColumns {
	return &EncoderColumns{pattern: pattern, max: max}
}

// Add stores a reading. It returns false, storing nothing, once full.
func (e *EncoderColumns) Add(r daqstream.EncoderReading) bool {
	if len(e.timestamps) >= e.max {
		return false
	}
	e.timestamps = append(e.timestamps, r.Timestamp)
	e.positions = append(e.positions, int32(r.Pos))
	return true
}

// Len returns the number of readings stored.
func (e *EncoderColumns) Len() int {
	return len(e.timestamps)
}

// Close writes encoder_timestamps.npy and encoder.npy.
func (e *EncoderColumns) Close() error {
	return errors.Join(
		writeNPY(fmt.Sprintf(e.pattern, "encoder_timestamps", "npy"), e.timestamps),
		writeNPY(fmt.Sprintf(e.pattern, "encoder", "npy"), e.positions),
	)
}

// ScanRecorder sends analog scans to every requested format.
type ScanRecorder struct {
	csv *CSVWriter
	npy *ScanColumns
}

// NewScanRecorder opens the files for nchan analog lines.
func NewScanRecorder(cfg Config, pattern string, nchan int) (*ScanRecorder, error) {
	r := &ScanRecorder{}
	if cfg.WantsCSV() {
		names := make([]string, nchan)
		for k := range names {
			names[k] = fmt.Sprintf("ai%d", k)
		}
		header := "timestamp," + strings.Join(names, ",")
		var err error
		if r.csv, err = NewCSVWriter(fmt.Sprintf(pattern, "ai", "csv"), header); err != nil {
			return nil, err
		}
	}
	if cfg.WantsNPY() {
		r.npy = NewScanColumns(pattern, nchan, cfg.MaxSamples)
	}
	return r, nil
}

// Record stores one scan.
func (r *ScanRecorder) Record(d daqstream.ScanData) error {
	if r.npy != nil {
		r.npy.Add(d)
	}
	if r.csv != nil {
		return r.csv.Record(d)
	}
	return nil
}

// Close finishes every file.
func (r *ScanRecorder) Close() error {
	var errs []error
	if r.csv != nil {
		errs = append(errs, r.csv.Close())
	}
	if r.npy != nil {
		errs = append(errs, r.npy.Close())
	}
	return errors.Join(errs...)
}

// EncoderRecorder sends encoder readings to every requested format.
type EncoderRecorder struct {
	csv *CSVWriter
	npy *EncoderColumns
}

// NewEncoderRecorder opens the encoder files.
func NewEncoderRecorder(cfg Config, pattern string) (*EncoderRecorder, error) {
	r := &EncoderRecorder{}
	if cfg.WantsCSV() {
		var err error
		if r.csv, err = NewCSVWriter(fmt.Sprintf(pattern, "encoder", "csv"), "timestamp,position"); err != nil {
			return nil, err
		}
	}
	if cfg.WantsNPY() {
		r.npy = NewEncoderColumns(pattern, cfg.MaxSamples)
	}
	return r, nil
}

// Record stores one reading.
func (r *EncoderRecorder) Record(d daqstream.EncoderReading) error {
	if r.npy != nil {
		r.npy.Add(d)
	}
	if r.csv != nil {
		return r.csv.Record(d)
	}
	return nil
}

// Close finishes every file.
func (r *EncoderRecorder) Close() error {
	var errs []error
	if r.csv != nil {
		errs = append(errs, r.csv.Close())
	}
	if r.npy != nil {
		errs = append(errs, r.npy.Close())
	}
	return errors.Join(errs...)
}
