package ticks

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantwell/optioncore/backend/events"
)

// ErrLiveMode is returned when Start is called while the process is
// configured in LIVE trading mode (§4.11 safety rule).
var ErrLiveMode = errors.New("ticks: replay refused, process is in LIVE mode")

// Filter selects the subset of recorded ticks a replay run publishes.
type Filter struct {
	InstrumentTokens map[uint64]bool // nil/empty = no instrument filter
	From, To         time.Time       // zero values = no time bound
}

func (f Filter) allows(t TickEvent) bool {
	if len(f.InstrumentTokens) > 0 && !f.InstrumentTokens[t.InstrumentToken] {
		return false
	}
	if !f.From.IsZero() && t.At.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.At.After(f.To) {
		return false
	}
	return true
}

// Progress is published periodically while a replay runs.
type Progress struct {
	Source        string
	TicksEmitted  uint32
	TicksTotal    uint32
}

// Complete is published when a replay finishes, is stopped, or errors.
type Complete struct {
	Source       string
	TicksEmitted uint32
	Err          error
}

// Player streams a recorded tick file back out as TickEvents at a
// configurable speed, grounded on the teacher's tickstore replay idiom.
type Player struct {
	publisher events.Publisher
	isLive    func() bool

	id string

	mu     sync.Mutex
	paused bool
	speed  float64

	stopped atomic.Bool
}

// NewPlayer builds a Player. isLive reports whether the process is currently
// configured for LIVE trading (replay is refused in that mode).
func NewPlayer(id string, publisher events.Publisher, isLive func() bool) *Player {
	return &Player{id: id, publisher: publisher, isLive: isLive, speed: 1.0}
}

// SetSpeed adjusts playback speed, clamped to [0.5, 10.0], adjustable mid-run.
func (p *Player) SetSpeed(speed float64) {
	if speed < 0.5 {
		speed = 0.5
	}
	if speed > 10.0 {
		speed = 10.0
	}
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
}

func (p *Player) currentSpeed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Pause/Resume control mid-run playback.
func (p *Player) Pause()  { p.mu.Lock(); p.paused = true; p.mu.Unlock() }
func (p *Player) Resume() { p.mu.Lock(); p.paused = false; p.mu.Unlock() }
func (p *Player) isPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Stop halts the replay at the next iteration boundary.
func (p *Player) Stop() { p.stopped.Store(true) }

// SourceID identifies this player as the origin of its published TickEvents,
// distinguishing replay from the live feed.
func (p *Player) SourceID() string { return "replay:" + p.id }

// Run reads path's header, validates it, and streams its tick records,
// applying filter and the configured speed, publishing TickEvents, a
// Progress roughly every 1000 ticks, and a final Complete.
func (p *Player) Run(ctx context.Context, path string, filter Filter) error {
	if p.isLive != nil && p.isLive() {
		return ErrLiveMode
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ticks: open replay file: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hbuf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hbuf); err != nil {
		return fmt.Errorf("ticks: read header: %w", err)
	}
	header, err := DecodeHeader(hbuf)
	if err != nil {
		p.publishComplete(ctx, 0, err)
		return err
	}

	var emitted uint32
	var lastAt time.Time
	rbuf := make([]byte, recordSize)

	for {
		if p.stopped.Load() {
			break
		}
		for p.isPaused() {
			if p.stopped.Load() {
				break
			}
			time.Sleep(100 * time.Millisecond)
		}

		if _, err := io.ReadFull(r, rbuf); err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			p.publishComplete(ctx, emitted, err)
			return err
		}

		rec, err := DecodeRecord(rbuf)
		if err != nil {
			p.publishComplete(ctx, emitted, err)
			return err
		}

		at := time.UnixMilli(int64(rec.TimestampEpochMs)).UTC()
		if !lastAt.IsZero() {
			delay := at.Sub(lastAt)
			if delay > 0 {
				scaled := time.Duration(float64(delay) / p.currentSpeed())
				if scaled > 60*time.Second {
					scaled = 60 * time.Second
				}
				select {
				case <-ctx.Done():
					p.publishComplete(ctx, emitted, ctx.Err())
					return ctx.Err()
				case <-time.After(scaled):
				}
			}
		}
		lastAt = at

		tick := recordToTick(rec, at)
		if filter.allows(tick) {
			p.publisher.Publish(ctx, events.SubjectTicks, tick)
			emitted++
			if emitted%1000 == 0 {
				p.publisher.Publish(ctx, events.SubjectReplay, Progress{
					Source:       p.SourceID(),
					TicksEmitted: emitted,
					TicksTotal:   header.TickCount,
				})
			}
		}
	}

	p.publishComplete(ctx, emitted, nil)
	return nil
}

func (p *Player) publishComplete(ctx context.Context, emitted uint32, err error) {
	p.publisher.Publish(ctx, events.SubjectReplay, Complete{
		Source:       p.SourceID(),
		TicksEmitted: emitted,
		Err:          err,
	})
}

func recordToTick(r Record, at time.Time) TickEvent {
	return TickEvent{
		InstrumentToken: r.InstrumentToken,
		LastPrice:       r.LastPrice,
		Open:            r.Open,
		High:            r.High,
		Low:             r.Low,
		Close:           r.Close,
		Volume:          r.Volume,
		OI:              r.OI,
		OIChange:        r.OIChange,
		ReceivedAt:      time.Unix(0, int64(r.ReceivedAtNanos)).UTC(),
		At:              at,
	}
}
