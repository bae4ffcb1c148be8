package ticks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quantwell/optioncore/backend/events"
)

func writeTickFile(t *testing.T, path string, recs []Record) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("os.Create() error = %v", err)
	}
	defer f.Close()

	header := EncodeHeader(Header{Version: formatVersion, TickCount: uint32(len(recs))})
	if _, err := f.Write(header[:]); err != nil {
		t.Fatalf("write header: %v", err)
	}
	for _, r := range recs {
		b := EncodeRecord(r)
		if _, err := f.Write(b[:]); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
}

func collectTicks(ch <-chan any, want int, timeout time.Duration) []TickEvent {
	var out []TickEvent
	deadline := time.After(timeout)
	for len(out) < want {
		select {
		case v := <-ch:
			if te, ok := v.(TickEvent); ok {
				out = append(out, te)
			}
		case <-deadline:
			return out
		}
	}
	return out
}

func TestPlayerRefusesToRunInLiveMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticks-2026-03-02.bin")
	writeTickFile(t, path, []Record{{TimestampEpochMs: 1, InstrumentToken: 101}})

	pub := events.NewMemoryPublisher()
	p := NewPlayer("r1", pub, func() bool { return true })

	err := p.Run(context.Background(), path, Filter{})
	if err != ErrLiveMode {
		t.Fatalf("expected ErrLiveMode, got %v", err)
	}
}

func TestPlayerStreamsAllRecordsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticks-2026-03-02.bin")
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	recs := []Record{
		{TimestampEpochMs: uint64(base.UnixMilli()), InstrumentToken: 101, LastPrice: 100.0},
		{TimestampEpochMs: uint64(base.UnixMilli()), InstrumentToken: 101, LastPrice: 101.0},
		{TimestampEpochMs: uint64(base.UnixMilli()), InstrumentToken: 101, LastPrice: 102.0},
	}
	writeTickFile(t, path, recs)

	pub := events.NewMemoryPublisher()
	tickCh := pub.Subscribe(events.SubjectTicks, 16)
	replayCh := pub.Subscribe(events.SubjectReplay, 16)

	p := NewPlayer("r2", pub, func() bool { return false })
	p.SetSpeed(10.0)

	if err := p.Run(context.Background(), path, Filter{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collectTicks(tickCh, 3, time.Second)
	if len(got) != 3 {
		t.Fatalf("expected 3 ticks emitted, got %d", len(got))
	}
	for i, te := range got {
		want := 100.0 + float64(i)
		if te.LastPrice != want {
			t.Errorf("tick %d LastPrice = %v, want %v", i, te.LastPrice, want)
		}
	}

	var sawComplete bool
	for {
		select {
		case v := <-replayCh:
			if c, ok := v.(Complete); ok {
				sawComplete = true
				if c.TicksEmitted != 3 {
					t.Errorf("Complete.TicksEmitted = %d, want 3", c.TicksEmitted)
				}
				if c.Err != nil {
					t.Errorf("Complete.Err = %v, want nil", c.Err)
				}
			}
		default:
			goto done
		}
	}
done:
	if !sawComplete {
		t.Fatal("expected a Complete event after the replay finished")
	}
}

func TestPlayerFilterByInstrumentToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticks-2026-03-02.bin")
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	recs := []Record{
		{TimestampEpochMs: uint64(base.UnixMilli()), InstrumentToken: 101, LastPrice: 1},
		{TimestampEpochMs: uint64(base.UnixMilli()), InstrumentToken: 202, LastPrice: 2},
		{TimestampEpochMs: uint64(base.UnixMilli()), InstrumentToken: 101, LastPrice: 3},
	}
	writeTickFile(t, path, recs)

	pub := events.NewMemoryPublisher()
	tickCh := pub.Subscribe(events.SubjectTicks, 16)

	p := NewPlayer("r3", pub, func() bool { return false })
	filter := Filter{InstrumentTokens: map[uint64]bool{101: true}}

	if err := p.Run(context.Background(), path, filter); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	got := collectTicks(tickCh, 2, time.Second)
	if len(got) != 2 {
		t.Fatalf("expected 2 filtered ticks, got %d", len(got))
	}
	for _, te := range got {
		if te.InstrumentToken != 101 {
			t.Errorf("unexpected instrument token %d leaked through filter", te.InstrumentToken)
		}
	}
}

func TestPlayerStopHaltsBeforeCompletion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticks-2026-03-02.bin")
	base := time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC)
	recs := make([]Record, 0, 5)
	for i := 0; i < 5; i++ {
		recs = append(recs, Record{
			TimestampEpochMs: uint64(base.Add(time.Duration(i) * time.Second).UnixMilli()),
			InstrumentToken:  101,
			LastPrice:        float64(i),
		})
	}
	writeTickFile(t, path, recs)

	pub := events.NewMemoryPublisher()
	tickCh := pub.Subscribe(events.SubjectTicks, 16)

	p := NewPlayer("r4", pub, func() bool { return false })
	p.SetSpeed(10.0)

	go func() {
		time.Sleep(50 * time.Millisecond)
		p.Stop()
	}()

	_ = p.Run(context.Background(), path, Filter{})

	got := collectTicks(tickCh, 5, 100*time.Millisecond)
	if len(got) >= 5 {
		t.Fatalf("Stop() should halt the replay before all ticks are emitted, got %d", len(got))
	}
}

func TestSetSpeedClampsToBounds(t *testing.T) {
	p := NewPlayer("r5", events.NewMemoryPublisher(), func() bool { return false })

	p.SetSpeed(0.1)
	if got := p.currentSpeed(); got != 0.5 {
		t.Errorf("speed 0.1 should clamp to 0.5, got %v", got)
	}

	p.SetSpeed(50)
	if got := p.currentSpeed(); got != 10.0 {
		t.Errorf("speed 50 should clamp to 10.0, got %v", got)
	}

	p.SetSpeed(2.0)
	if got := p.currentSpeed(); got != 2.0 {
		t.Errorf("speed 2.0 should pass through unchanged, got %v", got)
	}
}

func TestPlayerSourceIDDistinguishesReplay(t *testing.T) {
	p := NewPlayer("abc", events.NewMemoryPublisher(), func() bool { return false })
	if p.SourceID() != "replay:abc" {
		t.Errorf("SourceID() = %q, want %q", p.SourceID(), "replay:abc")
	}
}
