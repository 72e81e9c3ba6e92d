package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hotmic/internal/bootstrap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "hotmic",
		Short:         "Hands-free voice commands from a continuously listening microphone",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $HOME/.config/hotmic/config.yaml)")
	root.AddCommand(newListenCmd(&configPath))
	return root
}

type listenOptions struct {
	direct      bool
	metricsAddr string
}

func newListenCmd(configPath *string) *cobra.Command {
	var opts listenOptions

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Listen for the wake phrase and print fired commands as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runListen(ctx, *configPath, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.direct, "direct", false, "accept commands immediately without the wake phrase")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address (overrides config)")
	return cmd
}

func runListen(ctx context.Context, configPath string, opts listenOptions) error {
	app := NewApp(os.Stdout, zerolog.Nop())
	services, err := bootstrap.Build(app, bootstrap.Options{ConfigPath: configPath})
	if err != nil {
		return err
	}
	app.setLogger(services.Logger)
	logger := services.Logger
	controller := services.Controller
	defer func() {
		if err := controller.Close(); err != nil {
			logger.Warn().Err(err).Msg("controller close")
		}
	}()

	addr := services.Config.Metrics.Addr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr != "" && services.Registry != nil {
		server := serveMetrics(addr, services, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	go func() {
		if err := services.WatchGrammar(ctx); err != nil {
			logger.Warn().Err(err).Msg("grammar watch disabled")
		}
	}()

	if opts.direct {
		err = controller.ActivateDirectly(ctx)
	} else {
		err = controller.Start(ctx)
	}
	if err != nil {
		return fmt.Errorf("start listening: %w", err)
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("interrupted")
	case <-app.Done():
	}
	return controller.Stop(false)
}

func serveMetrics(addr string, services *bootstrap.Services, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
	return server
}
