// Package aggregator implements the Two-Hit Aggregator (C5): a track is
// only confirmed as "playing" once the same track is recognized by the
// designated confirming provider on two hops at most
// 1+TWO_HIT_HOP_TOLERANCE hops apart. The state machine is a small, explicit per-(stream,
// provider) state map rather than a generic state-machine framework.
package aggregator

import (
	"sync"
	"time"
)

// Hit is one recognized track at one hop, fed in from the Provider
// Fan-out's per-provider outcomes (the designated confirming provider
// only — Open Question decision #2 in DESIGN.md).
type Hit struct {
	StreamID        uint
	Provider        string
	ProviderTrackID string
	TrackID         uint
	HopIndex        int64
	RecognizedAtUTC time.Time
	Confidence      float64
}

// Decision is the aggregator's verdict for one incoming Hit.
type Decision int

const (
	// DecisionPending means the hit started or continued waiting for a
	// confirming second hit; no play should be recorded yet.
	DecisionPending Decision = iota
	// DecisionConfirmed means this hit is the second hop of a two-hit
	// match; the caller should persist a Play.
	DecisionConfirmed
)

// Confirmation is returned when a Hit completes a two-hit match.
type Confirmation struct {
	TrackID         uint
	StreamID        uint
	RecognizedAtUTC time.Time
	Confidence      float64
	ConfirmingHopA  time.Time
	ConfirmingHopB  time.Time
}

type pendingHit struct {
	trackID         uint
	hopIndex        int64
	recognizedAtUTC time.Time
	confidence      float64
}

// key identifies one independent aggregation stream: a (stream, provider)
// pair, since only the designated confirming provider's outcomes ever
// reach the aggregator, but a process may run several providers for
// redundancy/observation purposes.
type key struct {
	streamID uint
	provider string
}

// Aggregator holds one pending-hit slot per (stream, provider).
type Aggregator struct {
	hopTolerance int64

	mu      sync.Mutex
	pending map[key]pendingHit
}

// New builds an Aggregator. hopTolerance is TWO_HIT_HOP_TOLERANCE: the
// second confirming hit may lag the first by at most hopTolerance+1 hops
// (with a tolerance of 1, hits on hops 0 and 2 still confirm).
func New(hopTolerance int) *Aggregator {
	return &Aggregator{
		hopTolerance: int64(hopTolerance),
		pending:      make(map[key]pendingHit),
	}
}

// Observe feeds one Hit into the aggregator and returns the resulting
// Decision. On DecisionConfirmed, conf is populated and the pending slot
// is cleared so a third hit for the same track starts a fresh two-hit
// sequence rather than re-confirming.
func (a *Aggregator) Observe(h Hit) (Decision, *Confirmation) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := key{streamID: h.StreamID, provider: h.Provider}
	prev, exists := a.pending[k]

	if exists && prev.trackID == h.TrackID && hopGap(prev.hopIndex, h.HopIndex) <= a.hopTolerance+1 {
		conf := &Confirmation{
			TrackID:         h.TrackID,
			StreamID:        h.StreamID,
			RecognizedAtUTC: h.RecognizedAtUTC,
			Confidence:      maxConfidence(prev.confidence, h.Confidence),
			ConfirmingHopA:  prev.recognizedAtUTC,
			ConfirmingHopB:  h.RecognizedAtUTC,
		}
		delete(a.pending, k)
		return DecisionConfirmed, conf
	}

	// Either no pending hit, a different track, or the gap exceeded
	// tolerance: this hit becomes the new first hop of a pending pair.
	a.pending[k] = pendingHit{
		trackID:         h.TrackID,
		hopIndex:        h.HopIndex,
		recognizedAtUTC: h.RecognizedAtUTC,
		confidence:      h.Confidence,
	}
	return DecisionPending, nil
}

// Expire drops any pending hit for (streamID, provider) whose hop has
// aged out beyond hopTolerance+1 hops without a confirming second hit, so a
// one-off recognition never confirms late against an unrelated future
// hit of the same track.
func (a *Aggregator) Expire(streamID uint, provider string, currentHopIndex int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{streamID: streamID, provider: provider}
	prev, exists := a.pending[k]
	if !exists {
		return
	}
	if hopGap(prev.hopIndex, currentHopIndex) > a.hopTolerance+1 {
		delete(a.pending, k)
	}
}

func hopGap(a, b int64) int64 {
	if b >= a {
		return b - a
	}
	return a - b
}

func maxConfidence(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
