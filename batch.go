package daqstream

import (
	"iter"
	"strconv"
	"strings"

	"github.com/usnistgov/daqstream/driver"
)

// Batch is one fixed-length read from the driver. Timestamp is the arrival
// time of the last element, in nanoseconds.
type Batch[E any] struct {
	Data      []E
	Timestamp uint64
}

// All yields each element with its reconstructed timestamp, oldest first.
// Element j of N is stamped Timestamp - (N-1-j)/rate seconds, the offset
// truncated to whole nanoseconds. Each offset is computed from j directly, so
// error never accumulates across the batch.
func (b Batch[E]) All(rate float64) iter.Seq2[uint64, E] {
	return func(yield func(uint64, E) bool) {
		n := len(b.Data)
		for j, v := range b.Data {
			if !yield(backdate(b.Timestamp, n-1-j, rate), v) {
				return
			}
		}
	}
}

// backdate returns base minus k sample periods, saturating at zero.
func backdate(base uint64, k int, rate float64) uint64 {
	off := uint64(float64(k) * 1e9 / rate)
	if off > base {
		return 0
	}
	return base - off
}

// ScanData is one scan across all analog input lines.
type ScanData struct {
	Timestamp uint64
	Data      []float64
}

func (s ScanData) String() string {
	var sb strings.Builder
	sb.WriteString(strconv.FormatUint(s.Timestamp, 10))
	for _, v := range s.Data {
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	return sb.String()
}

// EncoderTick is an encoder position in ticks. The counter register is
// unsigned; positions below the start wrap to negative values.
type EncoderTick int32

// EncoderReading is one timestamped encoder position.
type EncoderReading struct {
	Timestamp uint64
	Pos       EncoderTick
}

func (r EncoderReading) String() string {
	return strconv.FormatUint(r.Timestamp, 10) + "," + strconv.FormatInt(int64(r.Pos), 10)
}

// readAnalogF64 reads n scans of nchan lines, grouped by scan, and returns one
// element per scan. Each element is a view into a single flat buffer.
func readAnalogF64(raw *RawTaskHandle, n uint32, nchan int, timeout float64, clock Clock) (Batch[[]float64], error) {
	buf := make([]float64, int(n)*nchan)
	ts := clock()
	read, code := raw.driver.ReadAnalogF64(raw.id, int32(n), timeout, driver.ValGroupByScanNumber, buf)
	if err := raw.check("ReadAnalogF64", code); err != nil {
		return Batch[[]float64]{}, err
	}
	if read != int32(n) {
		return Batch[[]float64]{}, &ShortReadError{Requested: int32(n), Read: read}
	}
	scans := make([][]float64, n)
	for j := range scans {
		scans[j] = buf[j*nchan : (j+1)*nchan : (j+1)*nchan]
	}
	return Batch[[]float64]{Data: scans, Timestamp: ts}, nil
}

// readCounterU32 reads n counter samples.
func readCounterU32(raw *RawTaskHandle, n uint32, timeout float64, clock Clock) (Batch[uint32], error) {
	buf := make([]uint32, n)
	ts := clock()
	read, code := raw.driver.ReadCounterU32(raw.id, int32(n), timeout, buf)
	if err := raw.check("ReadCounterU32", code); err != nil {
		return Batch[uint32]{}, err
	}
	if read != int32(n) {
		return Batch[uint32]{}, &ShortReadError{Requested: int32(n), Read: read}
	}
	return Batch[uint32]{Data: buf, Timestamp: ts}, nil
}
