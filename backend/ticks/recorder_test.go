package ticks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func readFileRecords(t *testing.T, path string) (Header, []Record) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", path, err)
	}
	header, err := DecodeHeader(data[:headerSize])
	if err != nil {
		t.Fatalf("DecodeHeader() error = %v", err)
	}

	recordBytes := data[headerSize:]
	if uint32(len(recordBytes)) != header.TickCount*recordSize {
		t.Fatalf("record region is %d bytes, want %d for tickCount=%d", len(recordBytes), header.TickCount*recordSize, header.TickCount)
	}
	if CRC32(recordBytes) != uint32(header.CRC32) {
		t.Fatalf("CRC32 mismatch: header says %d, recomputed %d", header.CRC32, CRC32(recordBytes))
	}

	records := make([]Record, header.TickCount)
	for i := range records {
		start := i * recordSize
		rec, err := DecodeRecord(recordBytes[start : start+recordSize])
		if err != nil {
			t.Fatalf("DecodeRecord(%d) error = %v", i, err)
		}
		records[i] = rec
	}
	return header, records
}

func tick(token uint64, price float64, at time.Time) TickEvent {
	return TickEvent{InstrumentToken: token, LastPrice: price, At: at, ReceivedAt: at}
}

func TestRecorderFlushWritesValidFile(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, time.Hour, 3)
	ctx := context.Background()
	r.SetPhase(ctx, PhaseNormal)

	day := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r.Record(ctx, tick(101, 100.5, day))
	r.Record(ctx, tick(101, 101.0, day.Add(time.Second)))
	r.Record(ctx, tick(101, 101.5, day.Add(2*time.Second)))

	path := r.filePath("2026-03-02")
	header, records := readFileRecords(t, path)

	if header.TickCount != 3 {
		t.Fatalf("expected tickCount=3, got %d", header.TickCount)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 decoded records, got %d", len(records))
	}
	if records[0].InstrumentToken != 101 || records[0].LastPrice != 100.5 {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[2].LastPrice != 101.5 {
		t.Errorf("unexpected last record: %+v", records[2])
	}
}

func TestRecorderAppendsAcrossMultipleFlushes(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, time.Hour, 2)
	ctx := context.Background()
	r.SetPhase(ctx, PhaseNormal)

	day := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		r.Record(ctx, tick(101, 100.0+float64(i), day.Add(time.Duration(i)*time.Second)))
	}

	path := r.filePath("2026-03-02")
	header, records := readFileRecords(t, path)

	if header.TickCount != 4 {
		t.Fatalf("expected tickCount=4 across two flushes, got %d", header.TickCount)
	}
	if len(records) != 4 {
		t.Fatalf("expected 4 decoded records, got %d", len(records))
	}
	for i, rec := range records {
		want := 100.0 + float64(i)
		if rec.LastPrice != want {
			t.Errorf("record %d LastPrice = %v, want %v", i, rec.LastPrice, want)
		}
	}
}

func TestRecorderDropsTicksOutsideNormalPhase(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, time.Hour, 10)
	ctx := context.Background()

	day := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r.Record(ctx, tick(101, 100.0, day))

	path := r.filePath("2026-03-02")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file to be written while CLOSED, stat err = %v", err)
	}
}

func TestRecorderFinalizeGzipsAndRemovesOriginal(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, time.Hour, 10)
	ctx := context.Background()
	r.SetPhase(ctx, PhaseNormal)

	day := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	r.Record(ctx, tick(101, 100.0, day))

	r.SetPhase(ctx, PhaseClosed)

	path := r.filePath("2026-03-02")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected original .bin to be removed after finalize, stat err = %v", err)
	}
	if _, err := os.Stat(path + ".gz"); err != nil {
		t.Fatalf("expected a .bin.gz file after finalize, stat err = %v", err)
	}
}

func TestRecorderDayRotationFinalizesPreviousDay(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, time.Hour, 1)
	ctx := context.Background()
	r.SetPhase(ctx, PhaseNormal)

	day1 := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 3, 9, 15, 0, 0, time.UTC)

	r.Record(ctx, tick(101, 100.0, day1))
	r.Record(ctx, tick(101, 101.0, day2))

	day1Path := filepath.Join(dir, "ticks-2026-03-02.bin")
	if _, err := os.Stat(day1Path); !os.IsNotExist(err) {
		t.Fatalf("expected day1's .bin to be gzipped away on rotation, stat err = %v", err)
	}
	if _, err := os.Stat(day1Path + ".gz"); err != nil {
		t.Fatalf("expected day1's .bin.gz to exist after rotation, stat err = %v", err)
	}

	day2Path := r.filePath("2026-03-03")
	header, records := readFileRecords(t, day2Path)
	if header.TickCount != 1 || len(records) != 1 {
		t.Fatalf("expected day2's file to hold exactly the rolled-over tick, got count=%d", header.TickCount)
	}
}
