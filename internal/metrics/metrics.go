// Package metrics defines the prometheus counters for the pipeline's
// first-class observable events (recognition outcomes, fan-out skips,
// confirmed plays, audio-source restarts). It defines the counters only;
// owning an HTTP /metrics transport is an external collaborator's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RecognitionsTotal counts every fan-out provider call, labeled by
	// provider and outcome (hit/no_match/error).
	RecognitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "recognitions_total",
		Help: "Total recognition provider calls, by provider and outcome.",
	}, []string{"provider", "outcome"})

	// FanoutSkippedTotal counts admission-control skips, labeled by
	// provider, when a call could not be admitted under the global or
	// per-provider inflight ceiling.
	FanoutSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_skipped_total",
		Help: "Total recognition calls skipped by admission control, by provider.",
	}, []string{"provider"})

	// PlaysConfirmedTotal counts two-hit-confirmed plays persisted to the
	// store, labeled by stream.
	PlaysConfirmedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plays_confirmed_total",
		Help: "Total two-hit-confirmed plays recorded, by stream.",
	}, []string{"stream"})

	// PlaysDedupedTotal counts confirmations that were discarded by
	// insert_play_idempotent because a play already existed in that
	// dedup bucket.
	PlaysDedupedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "plays_deduped_total",
		Help: "Total confirmed plays discarded as duplicates within a dedup bucket, by stream.",
	}, []string{"stream"})

	// AudioSourceRestartsTotal counts decoder subprocess restarts, by
	// stream.
	AudioSourceRestartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "audiosource_restarts_total",
		Help: "Total audio source decoder subprocess restarts, by stream.",
	}, []string{"stream"})
)

// Registry is a prometheus.Registerer all of this package's collectors
// are registered against. Callers that want to expose /metrics register
// Registry (or these vars directly) with their own HTTP mux; this package
// never listens on a socket itself.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		RecognitionsTotal,
		FanoutSkippedTotal,
		PlaysConfirmedTotal,
		PlaysDedupedTotal,
		AudioSourceRestartsTotal,
	)
}
