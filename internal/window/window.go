// Package window implements the Window Scheduler (C2): it accumulates raw
// PCM chunks from an Audio Source into a ring buffer and, on an
// epoch-aligned hop schedule, cuts a fixed-length window for recognition.
// A Clock capability is injected so hop-boundary scheduling can be tested
// deterministically, without real sleeps.
package window

import (
	"context"
	"time"

	appErrors "github.com/marvin-k3/ying/internal/errors"
	"github.com/marvin-k3/ying/internal/wavfmt"
	"github.com/smallnest/ringbuffer"
)

// Clock abstracts wall-clock access so scheduler tests can run without
// real sleeps.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// SystemClock is the production Clock, backed by time.Now/time.Sleep.
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Cut is one scheduled window of audio, stamped with the epoch-aligned hop
// boundary it belongs to and whether it was produced from a full buffer or
// a gap-shortened one.
type Cut struct {
	WindowStartUTC time.Time
	HopIndex       int64
	WAV            []byte
	Gap            bool
}

// Config governs one stream's window/hop timing.
type Config struct {
	Format        wavfmt.Format
	WindowSeconds int
	HopSeconds    int
	Clock         Clock
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	return c
}

// Scheduler accumulates PCM chunks and emits a Cut once per hop boundary.
type Scheduler struct {
	cfg        Config
	ring       *ringbuffer.RingBuffer
	bytesPerSec int
	lastHop    int64
}

// New constructs a Scheduler. capacitySeconds sizes the ring buffer to
// hold window+hop seconds of audio, enough to serve one in-flight window
// cut while new audio keeps arriving.
func New(cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	bytesPerSec := cfg.Format.SampleRate * cfg.Format.NumChannels * (cfg.Format.BitDepth / 8)
	capacitySeconds := cfg.WindowSeconds + cfg.HopSeconds
	return &Scheduler{
		cfg:         cfg,
		ring:        ringbuffer.New(bytesPerSec * capacitySeconds),
		bytesPerSec: bytesPerSec,
		lastHop:     -1,
	}
}

// hopIndex returns the epoch-aligned hop number a given instant falls
// into: floor(unix_seconds / hop_seconds). Hop boundaries are aligned to
// the Unix epoch, not to scheduler start time, so independently-started
// stream workers cut windows on the same wall-clock cadence.
func (s *Scheduler) hopIndex(t time.Time) int64 {
	return t.UTC().Unix() / int64(s.cfg.HopSeconds)
}

// Feed appends a raw PCM chunk from the Audio Source into the ring buffer.
// It never blocks: a full buffer drops the oldest bytes.
func (s *Scheduler) Feed(chunk []byte) {
	capacity := s.ring.Capacity()
	if len(chunk) > capacity {
		chunk = chunk[len(chunk)-capacity:]
	}
	if excess := s.ring.Length() + len(chunk) - capacity; excess > 0 {
		_, _ = s.ring.Read(make([]byte, excess))
	}
	_, _ = s.ring.Write(chunk)
}

// Run blocks, emitting a Cut onto the returned channel once per hop
// boundary until ctx is cancelled. A window shorter than WindowSeconds of
// real audio (an upstream read gap) is still emitted, marked Gap: true,
// rather than blocking the schedule waiting for more audio.
func (s *Scheduler) Run(ctx context.Context) <-chan Cut {
	out := make(chan Cut, 1)
	go func() {
		defer close(out)
		for {
			now := s.cfg.Clock.Now()
			hop := s.hopIndex(now)
			if hop == s.lastHop {
				sleepUntilNextHop(ctx, s.cfg.Clock, now, s.cfg.HopSeconds)
				if ctx.Err() != nil {
					return
				}
				continue
			}
			s.lastHop = hop

			cut, err := s.cutWindow(hop, now)
			if err != nil {
				appErrors.New(err).
					Component("window-scheduler").
					Category(appErrors.CategoryWindow).
					Context("hop_index", hop).
					Build()
				continue
			}
			select {
			case out <- *cut:
			case <-ctx.Done():
				return
			}

			sleepUntilNextHop(ctx, s.cfg.Clock, s.cfg.Clock.Now(), s.cfg.HopSeconds)
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return out
}

func sleepUntilNextHop(ctx context.Context, clock Clock, now time.Time, hopSeconds int) {
	if ctx.Err() != nil {
		return
	}
	nextHopUnix := (now.UTC().Unix()/int64(hopSeconds) + 1) * int64(hopSeconds)
	wait := time.Unix(nextHopUnix, 0).Sub(now)
	if wait <= 0 {
		return
	}
	clock.Sleep(wait)
}

func (s *Scheduler) cutWindow(hop int64, now time.Time) (*Cut, error) {
	wantBytes := s.bytesPerSec * s.cfg.WindowSeconds
	available := s.ring.Length()
	gap := available < wantBytes

	n := wantBytes
	if gap {
		n = available
	}
	if n == 0 {
		return nil, appErrors.New(ErrNoAudioAvailable).
			Component("window-scheduler").
			Category(appErrors.CategoryWindow).
			Build()
	}

	buf := make([]byte, n)
	read, err := s.ring.Read(buf)
	if err != nil {
		return nil, err
	}
	buf = buf[:read]

	wav, err := wavfmt.EncodeWindow(buf, s.cfg.Format)
	if err != nil {
		return nil, err
	}

	return &Cut{
		WindowStartUTC: now.UTC(),
		HopIndex:       hop,
		WAV:            wav,
		Gap:            gap,
	}, nil
}

// ErrNoAudioAvailable is returned when a hop boundary arrives with zero
// buffered audio (stream not yet connected, or a total outage).
var ErrNoAudioAvailable = errNoAudioAvailable{}

type errNoAudioAvailable struct{}

func (errNoAudioAvailable) Error() string { return "window: no audio available at hop boundary" }
