// Package rundb logs program activity, acquisition runs and window summaries
// to a ClickHouse database.
package rundb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/usnistgov/daqstream"
	"github.com/usnistgov/daqstream/internal/summary"
)

// Config is the "database" section of the config file. Credentials come from
// the DAQSTREAM_DB_USER and DAQSTREAM_DB_PASSWORD environment variables.
type Config struct {
	Enable   bool
	Address  string
	Database string
}

const timeFormat = "2006-01-02 15:04:05.000000"

// Connection serializes all inserts through one goroutine.
type Connection struct {
	conn     clickhouse.Conn
	activity *ActivityMessage
	runmsg   chan *RunMessage
	summsg   chan *SummaryMessage
	done     chan struct{} // closed when the insert goroutine exits

	mu  sync.Mutex
	err error
	sync.WaitGroup
}

// IsConnected reports whether inserts will reach the server.
func (db *Connection) IsConnected() bool {
	return db != nil && db.conn != nil && db.Err() == nil
}

// Err returns the error that disconnected db, if any.
func (db *Connection) Err() error {
	if db == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.err
}

func (db *Connection) setErr(err error) {
	db.mu.Lock()
	db.err = err
	db.mu.Unlock()
}

func newConnection(conn clickhouse.Conn) *Connection {
	return &Connection{
		conn:   conn,
		runmsg: make(chan *RunMessage),
		summsg: make(chan *SummaryMessage, 64),
		done:   make(chan struct{}),
	}
}

// Start connects, records the activity row, and serves inserts until abort
// is closed. A failed connection is returned unconnected; every Record call
// on it is a no-op.
func Start(cfg Config, activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := connect(cfg)
	db.activity = activity
	if !db.IsConnected() {
		daqstream.ProblemLogger.Printf("run database at %s unavailable: %v", cfg.Address, db.Err())
		return db
	}
	db.logActivity()
	db.serve(abort)
	return db
}

func (db *Connection) serve(abort <-chan struct{}) {
	db.Add(1)
	go db.handleConnection(abort)
}

// Dummy returns a connection that records nothing.
func Dummy() *Connection {
	return &Connection{}
}

func connect(cfg Config) *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: cfg.Database,
		Username: os.Getenv("DAQSTREAM_DB_USER"),
		Password: os.Getenv("DAQSTREAM_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "daqstream", Version: daqstream.Build.Version},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{cfg.Address},
		Auth:       auth,
		ClientInfo: client,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = conn.Ping(ctx); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			err = fmt.Errorf("exception [%d] %s: %w", exception.Code, exception.Message, err)
		}
		db.err = err
		conn.Close()
		return db
	}
	return newConnection(conn)
}

func (db *Connection) insert(table, query string, args ...any) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(), query, nowait, args...); err != nil {
		daqstream.ProblemLogger.Printf("insert into %s failed: %v", table, err)
		db.setErr(err)
	}
}

func (db *Connection) logActivity() {
	if db.activity == nil {
		return
	}
	db.insert("daqstreamactivity", `INSERT INTO daqstreamactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		activityRow(db.activity)...)
}

func activityRow(a *ActivityMessage) []any {
	return []any{a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(timeFormat), a.End.Format(timeFormat)}
}

func runRow(m *RunMessage) []any {
	return []any{m.ID, m.ActivityID, m.Device, m.AIChannels, m.NChannels, m.SampleRate,
		m.Encoder, m.Directory, m.Start.Format(timeFormat), m.End.Format(timeFormat)}
}

func summaryRow(m *SummaryMessage) []any {
	return []any{m.RunID, m.Source, m.Channel, m.First, m.Last, m.N, m.Mean, m.StdDev, m.Min, m.Max}
}

func (db *Connection) insertRun(m *RunMessage) {
	db.insert("runs", `INSERT INTO runs VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, runRow(m)...)
}

func (db *Connection) insertSummary(m *SummaryMessage) {
	db.insert("summaries", `INSERT INTO summaries VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, summaryRow(m)...)
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	defer close(db.done)
	for {
		select {
		case <-abort:
			db.drain()
			db.disconnect()
			return
		case m := <-db.runmsg:
			db.insertRun(m)
		case m := <-db.summsg:
			db.insertSummary(m)
		}
	}
}

// drain inserts the summaries still buffered when abort arrives.
func (db *Connection) drain() {
	for {
		select {
		case m := <-db.summsg:
			db.insertSummary(m)
		default:
			return
		}
	}
}

func (db *Connection) disconnect() {
	if db.IsConnected() && db.activity != nil {
		db.activity.End = time.Now()
		db.logActivity()
	}
	if db.conn != nil {
		db.conn.Close()
	}
}

// RecordRun stores the start of a run. It blocks until the insert goroutine
// accepts the message, so the run row precedes any of its summaries.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	if db.activity != nil {
		msg.ActivityID = db.activity.ID
	}
	db.sendRun(msg)
}

// FinishRun stores the end time of a run. Like RecordRun it returns once the
// insert goroutine holds the message, so a later abort cannot lose it.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	db.sendRun(msg)
}

func (db *Connection) sendRun(msg *RunMessage) {
	select {
	case db.runmsg <- msg:
	case <-db.done:
	}
}

// RecordSummary stores one row per channel of s. It blocks only while the
// insert queue is full.
func (db *Connection) RecordSummary(runID string, s summary.Summary) {
	if !db.IsConnected() {
		return
	}
	for _, m := range SummaryMessages(runID, s) {
		select {
		case db.summsg <- m:
		case <-db.done:
			return
		}
	}
}

// SummaryMessages flattens a summary into per-channel rows.
func SummaryMessages(runID string, s summary.Summary) []*SummaryMessage {
	msgs := make([]*SummaryMessage, len(s.Channels))
	for k, c := range s.Channels {
		msgs[k] = &SummaryMessage{RunID: runID, Source: s.Source, Channel: k,
			First: s.First, Last: s.Last, N: s.N,
			Mean: c.Mean, StdDev: c.StdDev, Min: c.Min, Max: c.Max}
	}
	return msgs
}
