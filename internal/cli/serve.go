package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/carewatch/internal/config"
	"github.com/ppiankov/carewatch/internal/server"
)

var (
	serveAddr        string
	serveMetricsAddr string
	serveMode        string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":50051", "gRPC listen address")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":9090", "Prometheus /metrics listen address (empty disables)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Dispatch mode override (dry_run|live)")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gRPC governance server",
	Long: "Serves Handle, Step, Dispatch and Operations over gRPC with a JSON codec.\n" +
		"Clients can request dry-run but never escalate a dry-run server to live.\n" +
		"Intent and slot settings hot-reload when the config file changes.",
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := loadPipeline(serveMode)
	if err != nil {
		return err
	}
	defer p.Close()

	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	srv := server.New(p, server.Config{Addr: serveAddr, ConfigPath: path, Now: time.Now})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(srv.Serve)

	reloader, err := server.NewReloader(srv, p.Logger, path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		g.Go(func() error { return reloader.Run(ctx) })
	}

	var metrics *http.Server
	if serveMetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metrics = &http.Server{Addr: serveMetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			if err := metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down governance server")
		srv.GracefulStop()
		if metrics != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metrics.Shutdown(shutdownCtx)
		}
		return nil
	})

	fmt.Fprintf(os.Stderr, "carewatch governance server listening on %s (mode %s)\n", serveAddr, p.Orchestrator.Mode())
	if serveMetricsAddr != "" {
		fmt.Fprintf(os.Stderr, "Metrics: http://%s/metrics\n", serveMetricsAddr)
	}
	if reloader != nil && len(reloader.Paths()) > 0 {
		fmt.Fprintf(os.Stderr, "Config: %s (hot-reload enabled)\n", path)
	}

	return g.Wait()
}
