// Command recognizer runs the music-recognition pipeline: it loads
// configuration, opens the embedded store, and starts a Worker Manager
// over every enabled stream.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marvin-k3/ying/internal/conf"
	"github.com/marvin-k3/ying/internal/fanout"
	"github.com/marvin-k3/ying/internal/logging"
	"github.com/marvin-k3/ying/internal/recognizer"
	"github.com/marvin-k3/ying/internal/recognizer/acrcloud"
	"github.com/marvin-k3/ying/internal/store"
	"github.com/marvin-k3/ying/internal/worker"
	"github.com/spf13/cobra"
)

const metadataCacheTTL = 10 * time.Minute

var configFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "recognizer",
		Short: "Monitor RTSP audio feeds and identify music via two-hit confirmed recognition.",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "config.yaml", "path to the YAML configuration file")
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	logging.Init()
	log := logging.ForService("recognizer")

	settings, err := conf.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(settings.Store.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	admission := fanout.NewAdmission(
		settings.Concurrency.GlobalMaxInflightRecognitions,
		settings.Concurrency.PerProviderMaxInflight,
	)

	recognizerFactory := func() []recognizer.Recognizer {
		provider := acrcloud.New(acrcloud.Config{
			Host:         os.Getenv("ACRCLOUD_HOST"),
			AccessKey:    os.Getenv("ACRCLOUD_ACCESS_KEY"),
			AccessSecret: os.Getenv("ACRCLOUD_ACCESS_SECRET"),
		})
		return []recognizer.Recognizer{
			recognizer.NewCachingRecognizer(provider, metadataCacheTTL),
		}
	}

	mgr := worker.NewManager(st, "acrcloud", recognizerFactory, admission, log)
	mgr.LogStartupBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.Reconcile(ctx, settings)

	if err := conf.WatchForChanges(configFile, func(reloaded *conf.Settings) {
		log.Info("configuration changed, reconciling stream workers")
		mgr.Reconcile(ctx, reloaded)
	}); err != nil {
		log.Warn("config hot-reload disabled", "error", err)
	}

	<-ctx.Done()
	log.Info("shutting down, stopping all stream workers")
	mgr.Shutdown()
	return nil
}
