package rundb

import "time"

// The composite types used for messages to the ClickHouse database.

// ActivityMessage is the information for the daqstreamactivity table: one
// row per program invocation.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information for the runs table: one row per acquisition.
type RunMessage struct {
	ID         string
	ActivityID string
	Device     string
	AIChannels string
	NChannels  int
	SampleRate float64
	Encoder    bool
	Directory  string
	Start      time.Time
	End        time.Time
}

// SummaryMessage is the information for the summaries table: one row per
// channel per summary window.
type SummaryMessage struct {
	RunID   string
	Source  string
	Channel int
	First   uint64
	Last    uint64
	N       int
	Mean    float64
	StdDev  float64
	Min     float64
	Max     float64
}
