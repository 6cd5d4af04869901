// Package publish fans acquired samples and periodic summaries out to
// network clients on a ZeroMQ PUB socket. Each message has two frames: a
// topic and a payload. Sample payloads are little-endian binary; summaries
// are JSON.
package publish

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/lorenzosaino/go-sysctl"
	"github.com/pebbe/zmq4"
	"github.com/usnistgov/daqstream"
	"github.com/usnistgov/daqstream/internal/summary"
)

// Config is the "publish" section of the config file.
type Config struct {
	Enable     bool
	Port       int
	SendHWM    int `mapstructure:"send-hwm"`    // messages queued per subscriber
	SendBuffer int `mapstructure:"send-buffer"` // kernel send buffer, bytes; 0 for the default
}

// Message topics.
const (
	TopicAI      = "AI"
	TopicEncoder = "ENC"
	TopicSummary = "SUMMARY"
)

// Publisher owns the PUB socket. ZeroMQ sockets are not safe for concurrent
// use, so sends are serialized.
type Publisher struct {
	mu       sync.Mutex
	sock     *zmq4.Socket
	endpoint string
	sent     int
}

// New binds a PUB socket on all interfaces at cfg.Port.
func New(cfg Config) (*Publisher, error) {
	sock, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := configure(sock, cfg); err != nil {
		sock.Close()
		return nil, err
	}
	endpoint := fmt.Sprintf("tcp://*:%d", cfg.Port)
	if err := sock.Bind(endpoint); err != nil {
		sock.Close()
		return nil, fmt.Errorf("binding %s: %w", endpoint, err)
	}
	return &Publisher{sock: sock, endpoint: endpoint}, nil
}

func configure(sock *zmq4.Socket, cfg Config) error {
	if err := sock.SetLinger(0); err != nil {
		return err
	}
	if cfg.SendHWM > 0 {
		if err := sock.SetSndhwm(cfg.SendHWM); err != nil {
			return err
		}
	}
	if cfg.SendBuffer > 0 {
		checkSendBuffer(cfg.SendBuffer)
		if err := sock.SetSndbuf(cfg.SendBuffer); err != nil {
			return err
		}
	}
	return nil
}

// checkSendBuffer warns when the kernel will silently cap the requested
// socket send buffer.
func checkSendBuffer(requested int) {
	wmemMax, err := sysctl.Get("net.core.wmem_max")
	if err != nil {
		return
	}
	if msg := sendBufferWarning(requested, wmemMax); msg != "" {
		daqstream.ProblemLogger.Print(msg)
	}
}

func sendBufferWarning(requested int, wmemMax string) string {
	limit, err := strconv.Atoi(strings.TrimSpace(wmemMax))
	if err != nil || requested <= limit {
		return ""
	}
	return fmt.Sprintf("publish: send buffer of %d bytes exceeds net.core.wmem_max=%d; "+
		"raise it with: sysctl -w net.core.wmem_max=%d", requested, limit, requested)
}

// Endpoint returns the address the socket is bound to.
func (p *Publisher) Endpoint() string {
	return p.endpoint
}

// Sent returns the number of messages published.
func (p *Publisher) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

func (p *Publisher) send(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.sock.SendMessage(topic, payload); err != nil {
		return err
	}
	p.sent++
	return nil
}

// PublishScan sends one analog scan on TopicAI.
func (p *Publisher) PublishScan(s daqstream.ScanData) error {
	return p.send(TopicAI, EncodeScan(s))
}

// PublishReading sends one encoder reading on TopicEncoder.
func (p *Publisher) PublishReading(r daqstream.EncoderReading) error {
	return p.send(TopicEncoder, EncodeReading(r))
}

// PublishSummary sends one window summary on TopicSummary.
func (p *Publisher) PublishSummary(s summary.Summary) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return p.send(TopicSummary, payload)
}

// Close closes the socket.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sock.Close()
}

// EncodeScan packs a scan as uint64 timestamp, uint16 line count, then one
// float64 per line.
func EncodeScan(s daqstream.ScanData) []byte {
	b := make([]byte, 0, 10+8*len(s.Data))
	b = binary.LittleEndian.AppendUint64(b, s.Timestamp)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s.Data)))
	for _, v := range s.Data {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

// EncodeReading packs a reading as uint64 timestamp then int32 position.
func EncodeReading(r daqstream.EncoderReading) []byte {
	b := make([]byte, 0, 12)
	b = binary.LittleEndian.AppendUint64(b, r.Timestamp)
	return binary.LittleEndian.AppendUint32(b, uint32(r.Pos))
}

// DecodeScan is the inverse of EncodeScan.
func DecodeScan(b []byte) (daqstream.ScanData, error) {
	if len(b) < 10 {
		return daqstream.ScanData{}, fmt.Errorf("scan message of %d bytes is too short", len(b))
	}
	s := daqstream.ScanData{Timestamp: binary.LittleEndian.Uint64(b)}
	n := int(binary.LittleEndian.Uint16(b[8:]))
	if len(b) != 10+8*n {
		return daqstream.ScanData{}, fmt.Errorf("scan message of %d bytes cannot hold %d lines", len(b), n)
	}
	s.Data = make([]float64, n)
	for k := range s.Data {
		s.Data[k] = math.Float64frombits(binary.LittleEndian.Uint64(b[10+8*k:]))
	}
	return s, nil
}
