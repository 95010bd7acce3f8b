package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/marvin-k3/ying/internal/conf"
	"github.com/marvin-k3/ying/internal/fanout"
	"github.com/marvin-k3/ying/internal/recognizer"
	"github.com/marvin-k3/ying/internal/store"
	"github.com/marvin-k3/ying/internal/wavfmt"
	"github.com/shirou/gopsutil/v3/host"
)

// RecognizerFactory builds the ordered set of Recognizers a Manager wires
// into every StreamWorker it creates. Kept as a factory (rather than a
// fixed slice) because Recognizers may carry per-call state (e.g. a
// CachingRecognizer) that should not be shared across independently
// restarted stream workers.
type RecognizerFactory func() []recognizer.Recognizer

// Manager owns one StreamWorker per enabled stream and reconciles the
// running set against configuration changes by set difference: streams
// present in the new config but not running are started, streams running
// but absent (or disabled) in the new config are stopped, and streams
// present in both are left untouched to avoid interrupting an
// in-progress window.
type Manager struct {
	store              *store.Store
	confirmingProvider string
	recognizerFactory  RecognizerFactory
	admission          *fanout.Admission
	log                *slog.Logger

	mu      sync.Mutex
	workers map[string]*StreamWorker
	ctx     context.Context
}

// NewManager builds a Manager. The admission controller is shared across
// every stream worker so GLOBAL_MAX_INFLIGHT_RECOGNITIONS is enforced
// process-wide, not per stream.
func NewManager(st *store.Store, confirmingProvider string, recognizerFactory RecognizerFactory, admission *fanout.Admission, log *slog.Logger) *Manager {
	return &Manager{
		store:              st,
		confirmingProvider: confirmingProvider,
		recognizerFactory:  recognizerFactory,
		admission:          admission,
		log:                log,
		workers:            make(map[string]*StreamWorker),
	}
}

// LogStartupBanner writes a one-line host-info banner at startup, for
// diagnostic context in support requests.
func (m *Manager) LogStartupBanner() {
	info, err := host.Info()
	if err != nil {
		m.log.Warn("failed to read host info", "error", err)
		return
	}
	m.log.Info("worker manager starting",
		"os", info.OS,
		"platform", info.Platform,
		"host_id", info.HostID,
		"uptime_seconds", info.Uptime,
	)
}

// Reconcile applies settings to the running worker set: starting newly
// enabled streams, stopping disabled or removed ones, and leaving
// unchanged streams alone. It is safe to call repeatedly (e.g. from a
// config file watch callback).
func (m *Manager) Reconcile(ctx context.Context, settings *conf.Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx = ctx

	wanted := make(map[string]conf.StreamSettings, len(settings.Streams))
	for _, s := range settings.Streams {
		if s.Enabled {
			wanted[s.Name] = s
		}
	}

	for name, w := range m.workers {
		if _, stillWanted := wanted[name]; !stillWanted {
			m.log.Info("stopping stream worker", "stream", name)
			w.Stop()
			delete(m.workers, name)
		}
	}

	for name, streamCfg := range wanted {
		if _, running := m.workers[name]; running {
			continue
		}
		m.log.Info("starting stream worker", "stream", name)
		w := New(Config{
			StreamName:     streamCfg.Name,
			RTSPURL:        streamCfg.URL,
			Format:         wavfmt.DefaultFormat,
			WindowSeconds:  settings.Window.WindowSeconds,
			HopSeconds:     settings.Window.HopSeconds,
			DedupSeconds:   settings.Decision.DedupSeconds,
			HopTolerance:   settings.Decision.HopTolerance,
			PerCallTimeout: 10 * time.Second,
		}, m.store, m.recognizerFactory(), m.admission, m.confirmingProvider, m.log)
		w.Start(ctx)
		m.workers[name] = w
	}
}

// Shutdown stops every running worker and blocks until they have all
// exited, for graceful process shutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	workers := make([]*StreamWorker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.workers = make(map[string]*StreamWorker)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *StreamWorker) {
			defer wg.Done()
			w.Stop()
		}(w)
	}
	wg.Wait()
}

// Statuses returns a snapshot of every running worker's lifecycle status,
// keyed by stream name.
func (m *Manager) Statuses() map[string]Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Status, len(m.workers))
	for name, w := range m.workers {
		out[name] = w.Status()
	}
	return out
}
