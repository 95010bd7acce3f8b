package worker

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/marvin-k3/ying/internal/conf"
	"github.com/marvin-k3/ying/internal/fanout"
	"github.com/marvin-k3/ying/internal/recognizer"
	"github.com/marvin-k3/ying/internal/store"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func noProvidersFactory() []recognizer.Recognizer { return nil }

func TestReconcileStartsAndStopsWorkersBySetDifference(t *testing.T) {
	st, err := store.Open(t.TempDir() + "/manager.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgr := NewManager(st, "acrcloud", noProvidersFactory, fanout.NewAdmission(5, 2), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := &conf.Settings{
		Streams: []conf.StreamSettings{
			{Name: "lobby", URL: "rtsp://example.test/lobby", Enabled: true},
			{Name: "kitchen", URL: "rtsp://example.test/kitchen", Enabled: true},
		},
		Window:   conf.WindowSettings{WindowSeconds: 12, HopSeconds: 120},
		Decision: conf.DecisionSettings{DedupSeconds: 300, HopTolerance: 1},
	}

	mgr.Reconcile(ctx, settings)
	require.Len(t, mgr.Statuses(), 2)

	settings.Streams = []conf.StreamSettings{
		{Name: "lobby", URL: "rtsp://example.test/lobby", Enabled: true},
		{Name: "kitchen", URL: "rtsp://example.test/kitchen", Enabled: false},
	}
	mgr.Reconcile(ctx, settings)
	statuses := mgr.Statuses()
	require.Len(t, statuses, 1)
	_, stillRunning := statuses["lobby"]
	require.True(t, stillRunning)

	mgr.Shutdown()
	require.Empty(t, mgr.Statuses())
}

func TestReconcileLeavesUnchangedStreamAlone(t *testing.T) {
	st, err := store.Open(t.TempDir() + "/manager2.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mgr := NewManager(st, "acrcloud", noProvidersFactory, fanout.NewAdmission(5, 2), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := &conf.Settings{
		Streams:  []conf.StreamSettings{{Name: "lobby", URL: "rtsp://example.test/lobby", Enabled: true}},
		Window:   conf.WindowSettings{WindowSeconds: 12, HopSeconds: 120},
		Decision: conf.DecisionSettings{DedupSeconds: 300, HopTolerance: 1},
	}
	mgr.Reconcile(ctx, settings)
	before := mgr.workers["lobby"]

	time.Sleep(10 * time.Millisecond)
	mgr.Reconcile(ctx, settings)
	after := mgr.workers["lobby"]

	require.Same(t, before, after, "reconciling with an unchanged stream set must not restart the worker")
	mgr.Shutdown()
}
