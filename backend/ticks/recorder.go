package ticks

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/quantwell/optioncore/backend/logging"
)

// TickEvent is a single normalized market tick, the in-process representation
// the recorder buffers and the simulator/condition engine consume.
type TickEvent struct {
	InstrumentToken uint64
	LastPrice       float64
	Open            float64
	High            float64
	Low             float64
	Close           float64
	Volume          uint64
	OI              float64
	OIChange        float64
	ReceivedAt      time.Time
	At              time.Time
}

func (t TickEvent) toRecord() Record {
	return Record{
		TimestampEpochMs: uint64(t.At.UnixMilli()),
		InstrumentToken:  t.InstrumentToken,
		LastPrice:        t.LastPrice,
		Open:             t.Open,
		High:             t.High,
		Low:              t.Low,
		Close:            t.Close,
		Volume:           t.Volume,
		OI:               t.OI,
		OIChange:         t.OIChange,
		ReceivedAtNanos:  uint64(t.ReceivedAt.UnixNano()),
	}
}

// MarketPhase gates the recorder: it only buffers ticks while NORMAL.
type MarketPhase string

const (
	PhaseNormal MarketPhase = "NORMAL"
	PhaseClosed MarketPhase = "CLOSED"
)

// Recorder buffers ticks during the NORMAL phase and flushes them to the
// day's file on threshold or a 5-minute timer, grounded on the teacher's
// tickstore.DailyStore persistPeriodically/rotateDaily pair.
type Recorder struct {
	dir           string
	flushInterval time.Duration
	bufferLimit   int

	mu    sync.Mutex
	phase MarketPhase
	day   string
	buf   []Record

	stop chan struct{}
	done chan struct{}
}

// NewRecorder builds a Recorder writing ticks-YYYY-MM-DD.bin files under dir.
func NewRecorder(dir string, flushInterval time.Duration, bufferLimit int) *Recorder {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Minute
	}
	if bufferLimit <= 0 {
		bufferLimit = 5000
	}
	return &Recorder{
		dir:           dir,
		flushInterval: flushInterval,
		bufferLimit:   bufferLimit,
		phase:         PhaseClosed,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// SetPhase switches the recorder between NORMAL (buffering) and CLOSED
// (final flush, then the day's file is always gzipped and the original
// removed; the recorder has no setting to skip compression).
func (r *Recorder) SetPhase(ctx context.Context, phase MarketPhase) {
	r.mu.Lock()
	prev := r.phase
	r.phase = phase
	r.mu.Unlock()

	if prev == PhaseNormal && phase == PhaseClosed {
		r.finalize(ctx)
	}
}

// Record buffers a tick, flushing immediately if the buffer threshold is hit.
// Ticks arriving outside the NORMAL phase are dropped.
func (r *Recorder) Record(ctx context.Context, t TickEvent) {
	r.mu.Lock()
	if r.phase != PhaseNormal {
		r.mu.Unlock()
		return
	}
	day := t.At.Format("2006-01-02")
	if r.day != "" && r.day != day {
		r.mu.Unlock()
		r.finalize(ctx)
		r.mu.Lock()
	}
	r.day = day
	r.buf = append(r.buf, t.toRecord())
	full := len(r.buf) >= r.bufferLimit
	r.mu.Unlock()

	if full {
		r.flush(ctx)
	}
}

// Run ticks every flushInterval, flushing the buffer, until Stop is called.
func (r *Recorder) Run(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.flush(ctx)
		}
	}
}

// Stop halts the periodic flush loop and performs a final flush.
func (r *Recorder) Stop(ctx context.Context) {
	close(r.stop)
	<-r.done
	r.finalize(ctx)
}

func (r *Recorder) filePath(day string) string {
	return filepath.Join(r.dir, fmt.Sprintf("ticks-%s.bin", day))
}

// flush appends the buffered records to the day's file, rewriting the header
// with the updated tick count and accumulated CRC32.
func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.buf) == 0 || r.day == "" {
		r.mu.Unlock()
		return
	}
	records := r.buf
	day := r.day
	r.buf = nil
	r.mu.Unlock()

	var payload bytes.Buffer
	for _, rec := range records {
		b := EncodeRecord(rec)
		payload.Write(b[:])
	}

	path := r.filePath(day)
	if err := r.appendAndRewriteHeader(path, payload.Bytes(), uint32(len(records))); err != nil {
		logging.Error("ticks: flush failed", err, logging.String("path", path))
	}
}

func (r *Recorder) appendAndRewriteHeader(path string, newRecordBytes []byte, newCount uint32) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	var priorCount uint32
	if info.Size() >= headerSize {
		hbuf := make([]byte, headerSize)
		if _, err := f.ReadAt(hbuf, 0); err != nil {
			return err
		}
		if h, err := DecodeHeader(hbuf); err == nil {
			priorCount = h.TickCount
		}
	} else {
		// First write: reserve the header region before record data.
		if _, err := f.WriteAt(make([]byte, headerSize), 0); err != nil {
			return err
		}
	}

	if _, err := f.WriteAt(newRecordBytes, int64(headerSize)+int64(priorCount)*recordSize); err != nil {
		return err
	}

	// Recompute the CRC32 over the full accumulated record region; simpler
	// and less error-prone than maintaining partial-checksum combine state
	// across flushes.
	totalCount := priorCount + newCount
	recordBytes := make([]byte, int64(totalCount)*recordSize)
	if _, err := f.ReadAt(recordBytes, headerSize); err != nil && err != io.EOF {
		return err
	}

	header := EncodeHeader(Header{
		Version:        formatVersion,
		TickCount:      totalCount,
		CreatedAtEpoch: uint64(time.Now().UnixMilli()),
		CRC32:          uint64(CRC32(recordBytes)),
	})
	if _, err := f.WriteAt(header[:], 0); err != nil {
		return err
	}
	return f.Sync()
}

func (r *Recorder) finalize(ctx context.Context) {
	r.flush(ctx)

	r.mu.Lock()
	day := r.day
	r.day = ""
	r.mu.Unlock()
	if day == "" {
		return
	}

	path := r.filePath(day)
	if err := gzipAndRemove(path); err != nil {
		logging.Error("ticks: finalize gzip failed", err, logging.String("path", path))
	}
}

func gzipAndRemove(path string) error {
	in, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	gw := gzip.NewWriter(out)
	if _, err := io.Copy(gw, in); err != nil {
		gw.Close()
		out.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(path)
}
