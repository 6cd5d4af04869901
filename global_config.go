package daqstream

import (
	"log"
	"os"
	"time"
)

// BuildInfo can contain compile-time information about the build
type BuildInfo struct {
	Version string
	Githash string
	Gitdate string
	Date    string
	Host    string
	Summary string
}

// Build is a global holding compile-time information about the build
var Build = BuildInfo{
	Version: "0.1.0",
	Githash: "no git hash computed",
	Gitdate: "no git date computed",
	Date:    "no build date computed",
}

// StartTime is a global holding the time init() was run
var StartTime time.Time

// ProblemLogger will log warning messages to a file
var ProblemLogger *log.Logger

// UpdateLogger will log run starts, stops and periodic summaries to a file
var UpdateLogger *log.Logger

// Constants shared by every channel type.
const (
	// CallbackFreq is how many every-N-samples callbacks per second a channel asks for.
	CallbackFreq = 100 // Hz
	// SampleTimeout bounds each synchronous batch read, in seconds.
	SampleTimeout = 1.0
	// BufferSeconds sizes the driver-side buffer as a multiple of the sample rate.
	BufferSeconds = 10
)

func init() {
	StartTime = time.Now()
	startUnixNano = uint64(StartTime.UnixNano())

	// The main program will override these, but at least initialize with a sensible value
	ProblemLogger = log.New(os.Stderr, "", log.LstdFlags)
	UpdateLogger = log.New(os.Stderr, "", log.LstdFlags)
}

var startUnixNano uint64

// SteadyNanoseconds returns nanoseconds since the Unix epoch, advanced by the
// monotonic clock since process start so it never steps backwards.
func SteadyNanoseconds() uint64 {
	return startUnixNano + uint64(time.Since(StartTime))
}

// Clock returns the current time in nanoseconds; see SteadyNanoseconds.
type Clock func() uint64
