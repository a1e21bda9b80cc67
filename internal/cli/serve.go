package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arvid/mnemo/internal/config"
	"github.com/arvid/mnemo/internal/observability"
	"github.com/arvid/mnemo/pkg/memory"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run maintenance services in the foreground",
	Long: `Run the scheduled reconciler, the Prometheus metrics endpoint and the
config file watcher until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	zl := rt.log.GetZerolog()

	reconciler := memory.NewReconciler(rt.engine, zl)
	if rt.cfg.Reconcile.Enabled {
		if err := reconciler.Start(rt.cfg.Reconcile.Schedule); err != nil {
			return err
		}
		defer reconciler.Stop()
	}

	var metricsSrv *http.Server
	if rt.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		metricsSrv = &http.Server{Addr: rt.cfg.Metrics.Addr, Handler: mux}
		go func() {
			zl.Info().Str("addr", rt.cfg.Metrics.Addr).Msg("Metrics endpoint listening")
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				zl.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	// Row gauges, refreshed on a coarse interval
	gaugeDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			refreshRowGauges(ctx, rt)
			select {
			case <-ticker.C:
			case <-gaugeDone:
				return
			}
		}
	}()
	defer close(gaugeDone)

	watcher, err := config.NewWatcher(config.NewLoader(cfgFile), func(cfg *config.Config) {
		zl.Info().Msg("Configuration changed; restart to apply store or provider changes")
	}, zl)
	if err != nil {
		return err
	}
	if err := watcher.Start(); err != nil {
		zl.Warn().Err(err).Msg("Config watcher unavailable")
	} else {
		defer watcher.Stop()
	}

	fmt.Println("mnemo serving; press Ctrl-C to stop")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	fmt.Println("mnemo stopped")
	return nil
}

func refreshRowGauges(ctx context.Context, rt *runtime) {
	if count, err := rt.records.Count(ctx); err == nil {
		observability.SetMemoryRows(count)
	}
	if count, err := rt.index.Count(ctx); err == nil {
		observability.SetIndexRows(count)
	}
}
