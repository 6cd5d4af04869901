// Package summary reduces windows of samples to per-channel statistics.
package summary

import (
	"fmt"
	"strings"

	"github.com/usnistgov/daqstream"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Config is the "summary" section of the config file.
type Config struct {
	Window int // samples per summary
}

// ChannelStats describes one channel over one window.
type ChannelStats struct {
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
}

// Summary describes one window of samples.
type Summary struct {
	Source   string // "ai" or "encoder"
	First    uint64 // timestamp of the first sample, ns
	Last     uint64 // timestamp of the last sample, ns
	N        int
	Channels []ChannelStats
}

// Rate is the sample rate observed over the window, in Hz.
func (s Summary) Rate() float64 {
	if s.N < 2 || s.Last <= s.First {
		return 0
	}
	return float64(s.N-1) * 1e9 / float64(s.Last-s.First)
}

func (s Summary) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d samples at %.1f Hz", s.Source, s.N, s.Rate())
	for k, c := range s.Channels {
		fmt.Fprintf(&sb, "; ch%d mean %.4g sd %.3g [%.4g, %.4g]", k, c.Mean, c.StdDev, c.Min, c.Max)
	}
	return sb.String()
}

// stats reports a zero StdDev for a single sample, where the sample
// deviation is undefined (NaN, which JSON cannot carry).
func stats(x []float64) ChannelStats {
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		std = 0
	}
	return ChannelStats{Mean: mean, StdDev: std, Min: floats.Min(x), Max: floats.Max(x)}
}

// Accumulator collects samples and emits a Summary every window samples.
type Accumulator struct {
	source string
	window int
	first  uint64
	last   uint64
	cols   [][]float64
}

// NewAccumulator summarizes every window samples of nchan channels.
func NewAccumulator(source string, nchan, window int) *Accumulator {
	a := &Accumulator{source: source, window: max(window, 1), cols: make([][]float64, max(nchan, 1))}
	for k := range a.cols {
		a.cols[k] = make([]float64, 0, a.window)
	}
	return a
}

// Add stores one sample. When the window fills, it returns the summary and true.
func (a *Accumulator) Add(ts uint64, values ...float64) (Summary, bool) {
	if len(a.cols[0]) == 0 {
		a.first = ts
	}
	a.last = ts
	for k := range a.cols {
		v := 0.0
		if k < len(values) {
			v = values[k]
		}
		a.cols[k] = append(a.cols[k], v)
	}
	if len(a.cols[0]) < a.window {
		return Summary{}, false
	}
	return a.Flush()
}

// AddScan stores one analog scan.
func (a *Accumulator) AddScan(s daqstream.ScanData) (Summary, bool) {
	return a.Add(s.Timestamp, s.Data...)
}

// AddReading stores one encoder reading.
func (a *Accumulator) AddReading(r daqstream.EncoderReading) (Summary, bool) {
	return a.Add(r.Timestamp, float64(r.Pos))
}

// Flush summarizes whatever has been stored, even a partial window. It
// returns false when nothing was stored.
func (a *Accumulator) Flush() (Summary, bool) {
	n := len(a.cols[0])
	if n == 0 {
		return Summary{}, false
	}
	s := Summary{Source: a.source, First: a.first, Last: a.last, N: n,
		Channels: make([]ChannelStats, len(a.cols))}
	for k, col := range a.cols {
		s.Channels[k] = stats(col)
		a.cols[k] = col[:0]
	}
	return s, true
}
