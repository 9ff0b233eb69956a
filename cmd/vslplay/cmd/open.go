package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	vsllog "github.com/bilibili/vsl/pkg/log"
	"github.com/bilibili/vsl/pkg/vsl/config"
	"github.com/bilibili/vsl/pkg/vsl/manifestcache"
	"github.com/bilibili/vsl/pkg/vsl/scheduler"
	"github.com/bilibili/vsl/pkg/vsl/telemetry"
	"github.com/bilibili/vsl/pkg/vsl/urlopen"
)

var (
	listenAddr      string
	logDBPath       string
	manifestCacheDB string
)

var openCmd = &cobra.Command{
	Use:   "open <scheme> <manifest.yaml>",
	Short: "Open a YAML test manifest and pump it to completion while serving /status and /metrics",
	Args:  cobra.ExactArgs(2),
	RunE:  runOpen,
}

func init() {
	openCmd.Flags().StringVar(&listenAddr, "listen", ":8089", "address /status and /metrics are served on")
	openCmd.Flags().StringVar(&logDBPath, "log-db", "vslplay-log.db", "sqlite path for the log feed")
	openCmd.Flags().StringVar(&manifestCacheDB, "manifest-cache", "", "bbolt path for the degraded-mode manifest snapshot cache (disabled if empty)")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	scheme, manifestPath := args[0], args[1]

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, err := vsllog.NewLogger(logDBPath, &sync.WaitGroup{})
	if err != nil {
		return fmt.Errorf("open: log: %w", err)
	}
	if err := logger.Start(ctx); err != nil {
		return fmt.Errorf("open: log start: %w", err)
	}
	go logger.LogToStdout(ctx)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("open: config: %w", err)
	}

	backend, err := loadFileManifestBackend(manifestPath)
	if err != nil {
		return fmt.Errorf("open: manifest: %w", err)
	}

	opener := urlopen.NewHTTPOpener(nil)
	sink := newDebugSink()
	registry := telemetry.NewRegistry()
	bridge := telemetry.NewBridge()

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithTelemetry(registry),
		scheduler.WithBridge(bridge),
	}
	if manifestCacheDB != "" {
		cache, err := manifestcache.Open(manifestCacheDB)
		if err != nil {
			return fmt.Errorf("open: manifest cache: %w", err)
		}
		defer cache.Close()
		schedOpts = append(schedOpts, scheduler.WithManifestCache(cache))
	}

	sched, err := scheduler.Open(ctx, scheme, manifestPath, backend, opener, cfg, sink, schedOpts...)
	if err != nil {
		return fmt.Errorf("open: scheduler: %w", err)
	}
	defer sched.Close()

	srv := newStatusServer(listenAddr, sched, sink, registry)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Src("vslplay").Msgf("status server: %v", err)
		}
	}()
	defer srv.Shutdown(context.Background()) //nolint:errcheck

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		_, err := sched.Pump(ctx)
		if err == io.EOF {
			frames, resets, _ := sink.snapshot()
			logger.Info().Src("vslplay").Msgf("playback complete: frames=%d pcr_resets=%d", frames, resets)
			return nil
		}
		if err != nil {
			return fmt.Errorf("open: pump: %w", err)
		}
	}
}

func newStatusServer(addr string, sched *scheduler.Scheduler, sink *debugSink, registry *telemetry.Registry) *http.Server {
	r := chi.NewRouter()

	r.Get("/status", func(w http.ResponseWriter, req *http.Request) {
		frames, resets, lastPayload := sink.snapshot()
		timeUS, _ := sched.GetTime()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck
			"duration_us":  sched.GetDuration(),
			"time_us":      timeUS,
			"frames":       frames,
			"pcr_resets":   resets,
			"last_payload": lastPayload,
		})
	})

	r.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}))

	return &http.Server{Addr: addr, Handler: r}
}
