// Package worker implements the Stream Worker (C7) and Worker Manager
// (C8): the former glues one stream's Audio Source through the Window
// Scheduler, Provider Fan-out, and Two-Hit Aggregator into the Store; the
// latter owns one Stream Worker per configured stream and reconciles
// config changes by set difference.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marvin-k3/ying/internal/aggregator"
	"github.com/marvin-k3/ying/internal/audiosource"
	appErrors "github.com/marvin-k3/ying/internal/errors"
	"github.com/marvin-k3/ying/internal/fanout"
	"github.com/marvin-k3/ying/internal/metrics"
	"github.com/marvin-k3/ying/internal/privacy"
	"github.com/marvin-k3/ying/internal/recognizer"
	"github.com/marvin-k3/ying/internal/store"
	"github.com/marvin-k3/ying/internal/wavfmt"
	"github.com/marvin-k3/ying/internal/window"
)

// Status is the Stream Worker's externally observable lifecycle state:
// Starting -> Running -> Restarting -> Stopping -> Stopped/Failed.
type Status string

const (
	StatusStarting   Status = "starting"
	StatusRunning    Status = "running"
	StatusRestarting Status = "restarting"
	StatusStopping   Status = "stopping"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// Config bundles the settings one Stream Worker needs to run.
type Config struct {
	StreamName     string
	RTSPURL        string
	Format         wavfmt.Format
	WindowSeconds  int
	HopSeconds     int
	DedupSeconds   int
	HopTolerance   int
	PerCallTimeout time.Duration
}

// StreamWorker owns the full per-stream pipeline: decode, window,
// fan-out, two-hit confirm, persist.
type StreamWorker struct {
	cfg          Config
	runID        string
	store        *store.Store
	fan          *fanout.Fanout
	agg          *aggregator.Aggregator
	confirmingProvider string
	log          *slog.Logger

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a StreamWorker. confirmingProvider names the single provider
// whose hits feed the Two-Hit Aggregator, per Open Question decision #2 in
// DESIGN.md: the aggregator only ever receives that provider's outcomes,
// by construction.
func New(cfg Config, st *store.Store, recognizers []recognizer.Recognizer, admission *fanout.Admission, confirmingProvider string, log *slog.Logger) *StreamWorker {
	return &StreamWorker{
		cfg:                cfg,
		runID:              uuid.NewString(),
		store:              st,
		fan:                fanout.New(recognizers, admission, cfg.PerCallTimeout),
		agg:                aggregator.New(cfg.HopTolerance),
		confirmingProvider: confirmingProvider,
		log:                log.With("stream", cfg.StreamName),
		status:             StatusStopped,
	}
}

// Status returns the worker's current lifecycle state.
func (w *StreamWorker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

func (w *StreamWorker) setStatus(s Status) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()
}

// Start launches the worker's pipeline in the background. It returns
// immediately; call Stop (or cancel the parent context) to tear it down.
func (w *StreamWorker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	w.setStatus(StatusStarting)
	go w.run(runCtx)
}

// Stop gracefully tears the worker down and blocks until it has exited.
func (w *StreamWorker) Stop() {
	w.mu.Lock()
	cancel := w.cancel
	done := w.done
	w.status = StatusStopping
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
	w.setStatus(StatusStopped)
}

func (w *StreamWorker) run(ctx context.Context) {
	defer close(w.done)

	if _, err := w.store.EnsureStream(w.cfg.StreamName, w.cfg.RTSPURL, true); err != nil {
		w.log.Error("failed to ensure stream row", "error", err)
		w.setStatus(StatusFailed)
		return
	}

	src := audiosource.New(audiosource.Config{
		StreamName: w.cfg.StreamName,
		RTSPURL:    w.cfg.RTSPURL,
		Format:     w.cfg.Format,
	})
	chunks, err := src.Start(ctx)
	if err != nil {
		w.log.Error("failed to start audio source", "error", err)
		w.setStatus(StatusFailed)
		return
	}

	sched := window.New(window.Config{
		Format:        w.cfg.Format,
		WindowSeconds: w.cfg.WindowSeconds,
		HopSeconds:    w.cfg.HopSeconds,
	})
	cuts := sched.Run(ctx)

	w.setStatus(StatusRunning)
	w.log.Info("stream worker running", "run_id", w.runID, "url", privacy.SanitizeRTSPUrl(w.cfg.RTSPURL))

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				w.log.Warn("audio source channel closed, worker restarting upstream")
				w.setStatus(StatusRestarting)
				return
			}
			sched.Feed(chunk)
		case cut, ok := <-cuts:
			if !ok {
				return
			}
			w.handleCut(ctx, cut)
		}
	}
}

func (w *StreamWorker) handleCut(ctx context.Context, cut window.Cut) {
	streamRow, err := w.store.EnsureStream(w.cfg.StreamName, w.cfg.RTSPURL, true)
	if err != nil {
		w.log.Error("ensure stream failed mid-run", "error", err)
		return
	}

	outcomes := w.fan.Dispatch(ctx, cut.WAV)
	for _, outcome := range outcomes {
		w.recordOutcome(streamRow.ID, cut, outcome)
	}
}

func (w *StreamWorker) recordOutcome(streamID uint, cut window.Cut, outcome fanout.Outcome) {
	if outcome.Skipped {
		metrics.FanoutSkippedTotal.WithLabelValues(outcome.Provider).Inc()
		return
	}

	result := outcome.Result
	var trackID *uint
	var confidence float64

	switch result.Kind {
	case recognizer.OutcomeHit:
		track, err := w.store.UpsertTrack(outcome.Provider, result.Hit.ProviderTrackID, result.Hit.Title, result.Hit.Artist, result.Hit.Album, result.Hit.Metadata)
		if err != nil {
			w.log.Error("upsert track failed", "error", err, "provider", outcome.Provider)
			return
		}
		trackID = &track.ID
		confidence = result.Hit.Confidence
	case recognizer.OutcomeError:
		appErrors.New(result.Err).
			Component("stream-worker").
			Category(appErrors.CategoryWorker).
			ProviderContext(outcome.Provider, time.Duration(result.LatencyMS)*time.Millisecond).
			Build()
	}

	metrics.RecognitionsTotal.WithLabelValues(outcome.Provider, string(result.Kind)).Inc()

	recognizedAt := cut.WindowStartUTC
	_, err := w.store.InsertRecognition(store.RecognitionRecord{
		StreamID:        streamID,
		Provider:        outcome.Provider,
		TrackID:         trackID,
		Outcome:         string(result.Kind),
		Confidence:      confidence,
		LatencyMS:       result.LatencyMS,
		ErrorKind:       string(result.ErrorKind),
		WindowStartUTC:  cut.WindowStartUTC,
		RecognizedAtUTC: recognizedAt,
	})
	if err != nil {
		w.log.Error("insert recognition failed", "error", err)
		return
	}

	if result.Kind != recognizer.OutcomeHit || trackID == nil || outcome.Provider != w.confirmingProvider {
		return
	}

	decision, conf := w.agg.Observe(aggregator.Hit{
		StreamID:        streamID,
		Provider:        outcome.Provider,
		ProviderTrackID: result.Hit.ProviderTrackID,
		TrackID:         *trackID,
		HopIndex:        cut.HopIndex,
		RecognizedAtUTC: recognizedAt,
		Confidence:      confidence,
	})
	if decision != aggregator.DecisionConfirmed || conf == nil {
		return
	}

	play, fresh, err := w.store.InsertPlayIdempotent(store.PlayRecord{
		TrackID:         conf.TrackID,
		StreamID:        conf.StreamID,
		RecognizedAtUTC: conf.RecognizedAtUTC,
		Confidence:      conf.Confidence,
		ConfirmingHopA:  conf.ConfirmingHopA,
		ConfirmingHopB:  conf.ConfirmingHopB,
		DedupSeconds:    w.cfg.DedupSeconds,
	})
	if err != nil {
		w.log.Error("insert play failed", "error", err)
		return
	}
	if !fresh {
		metrics.PlaysDedupedTotal.WithLabelValues(w.cfg.StreamName).Inc()
		return
	}
	metrics.PlaysConfirmedTotal.WithLabelValues(w.cfg.StreamName).Inc()
	w.log.Info("play confirmed", "track_id", play.TrackID, "confidence", play.Confidence)
}
