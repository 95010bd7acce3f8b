package window

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/marvin-k3/ying/internal/wavfmt"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually-advanced Clock for deterministic scheduler tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestHopIndexIsEpochAligned(t *testing.T) {
	s := New(Config{
		Format:        wavfmt.DefaultFormat,
		WindowSeconds: 12,
		HopSeconds:    120,
	})
	t1 := time.Unix(1200, 0).UTC()
	t2 := time.Unix(1200+119, 0).UTC()
	t3 := time.Unix(1200+120, 0).UTC()
	require.Equal(t, s.hopIndex(t1), s.hopIndex(t2))
	require.NotEqual(t, s.hopIndex(t1), s.hopIndex(t3))
}

func TestRunEmitsGapCutWhenBufferUnderfilled(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0).UTC())
	s := New(Config{
		Format:        wavfmt.DefaultFormat,
		WindowSeconds: 12,
		HopSeconds:    1,
		Clock:         clock,
	})

	bytesPerSec := wavfmt.DefaultFormat.SampleRate * wavfmt.DefaultFormat.NumChannels * (wavfmt.DefaultFormat.BitDepth / 8)
	s.Feed(make([]byte, bytesPerSec/4)) // far less than one window's worth

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cuts := s.Run(ctx)

	select {
	case cut := <-cuts:
		require.True(t, cut.Gap)
		require.NotEmpty(t, cut.WAV)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a window cut")
	}
}

func TestRunEmitsFullWindowWhenBufferSufficient(t *testing.T) {
	clock := newFakeClock(time.Unix(0, 0).UTC())
	s := New(Config{
		Format:        wavfmt.DefaultFormat,
		WindowSeconds: 1,
		HopSeconds:    1,
		Clock:         clock,
	})

	bytesPerSec := wavfmt.DefaultFormat.SampleRate * wavfmt.DefaultFormat.NumChannels * (wavfmt.DefaultFormat.BitDepth / 8)
	s.Feed(make([]byte, bytesPerSec*2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cuts := s.Run(ctx)

	select {
	case cut := <-cuts:
		require.False(t, cut.Gap)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a window cut")
	}
}
