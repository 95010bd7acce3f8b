package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func hitAt(hop int64, track uint, confidence float64) Hit {
	return Hit{
		StreamID:        1,
		Provider:        "acrcloud",
		TrackID:         track,
		HopIndex:        hop,
		RecognizedAtUTC: time.Unix(hop*120, 0).UTC(),
		Confidence:      confidence,
	}
}

func TestFirstHitIsAlwaysPending(t *testing.T) {
	agg := New(1)
	decision, conf := agg.Observe(hitAt(0, 10, 0.9))
	require.Equal(t, DecisionPending, decision)
	require.Nil(t, conf)
}

func TestSecondHitWithinToleranceConfirms(t *testing.T) {
	agg := New(1)
	agg.Observe(hitAt(0, 10, 0.8))
	decision, conf := agg.Observe(hitAt(1, 10, 0.95))
	require.Equal(t, DecisionConfirmed, decision)
	require.NotNil(t, conf)
	require.EqualValues(t, 10, conf.TrackID)
	require.Equal(t, 0.95, conf.Confidence)
}

func TestSecondHitBeyondToleranceDoesNotConfirm(t *testing.T) {
	agg := New(1)
	agg.Observe(hitAt(0, 10, 0.8))
	decision, conf := agg.Observe(hitAt(5, 10, 0.95))
	require.Equal(t, DecisionPending, decision, "a hop gap beyond tolerance must restart the pending pair")
	require.Nil(t, conf)
}

func TestDifferentTrackResetsPending(t *testing.T) {
	agg := New(1)
	agg.Observe(hitAt(0, 10, 0.8))
	decision, conf := agg.Observe(hitAt(1, 20, 0.8))
	require.Equal(t, DecisionPending, decision)
	require.Nil(t, conf)
}

func TestThirdHitStartsFreshPairAfterConfirmation(t *testing.T) {
	agg := New(1)
	agg.Observe(hitAt(0, 10, 0.8))
	decision, conf := agg.Observe(hitAt(1, 10, 0.8))
	require.Equal(t, DecisionConfirmed, decision)
	require.NotNil(t, conf)

	decision2, conf2 := agg.Observe(hitAt(2, 10, 0.8))
	require.Equal(t, DecisionPending, decision2, "a third consecutive hit must not immediately re-confirm")
	require.Nil(t, conf2)
}

func TestIndependentStreamsDoNotInterfere(t *testing.T) {
	agg := New(1)
	a := hitAt(0, 10, 0.8)
	a.StreamID = 1
	b := hitAt(0, 10, 0.8)
	b.StreamID = 2

	agg.Observe(a)
	decision, _ := agg.Observe(b)
	require.Equal(t, DecisionPending, decision, "a hit on a different stream must not confirm against another stream's pending hit")
}

func TestExpireDropsStalePendingHit(t *testing.T) {
	agg := New(1)
	agg.Observe(hitAt(0, 10, 0.8))
	agg.Expire(1, "acrcloud", 10)

	decision, conf := agg.Observe(hitAt(10, 10, 0.8))
	require.Equal(t, DecisionPending, decision, "an expired pending hit must not confirm a much later hit")
	require.Nil(t, conf)
}
