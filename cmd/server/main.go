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

	"github.com/ericfitz/collabd/api"
	"github.com/ericfitz/collabd/auth"
	"github.com/ericfitz/collabd/internal/config"
	"github.com/ericfitz/collabd/internal/slogging"
	"github.com/ericfitz/collabd/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "collabd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	if flags.ShowHelp {
		return nil
	}
	if flags.GenerateConfig {
		return writeExampleConfig(flags.OutputFile)
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := slogging.Initialize(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := slogging.Get()
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           app.router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting collaboration server on %s (websocket path %s)", srv.Addr, cfg.WebSocket.Path)
		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down collaboration server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := app.shutdown(shutdownCtx, cfg.WebSocket.ShutdownTimeout); err != nil {
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			logger.Info("Server gracefully stopped")
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func writeExampleConfig(path string) error {
	if path == "" {
		return config.GenerateExampleConfig(os.Stdout)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := config.GenerateExampleConfig(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// waitTimeout bounds a shutdown step that has its own deadline in config
func waitTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// verifierFor builds the identity verifier chain
func verifierFor(ctx context.Context, cfg *config.Config) (auth.Verifier, error) {
	verifier, err := auth.NewVerifierFromConfig(ctx, cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to configure authentication: %w", err)
	}
	slogging.Get().Info("Accepting credentials via %s", verifier.Name())
	return verifier, nil
}

// hubConfigFor maps WebSocket settings onto the hub
func hubConfigFor(cfg *config.Config) api.HubConfig {
	return api.HubConfig{
		SendBufferSize:    cfg.WebSocket.SendBufferSize,
		InactivityTimeout: cfg.WebSocket.InactivityTimeout,
		PingInterval:      cfg.WebSocket.PingInterval,
		WriteTimeout:      cfg.WebSocket.WriteTimeout,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		MessageLogging:    cfg.WebSocketLogging(),
	}
}

func telemetryConfigFor(cfg *config.Config) *telemetry.Config {
	t := cfg.Telemetry
	return &telemetry.Config{
		ServiceName:       t.ServiceName,
		ServiceVersion:    t.ServiceVersion,
		Environment:       t.Environment,
		TracingEnabled:    t.TracingEnabled,
		TracingSampleRate: t.TracingSampleRate,
		TracingEndpoint:   t.TracingEndpoint,
		MetricsEnabled:    t.MetricsEnabled,
		MetricsInterval:   t.MetricsInterval,
		MetricsEndpoint:   t.MetricsEndpoint,
		Insecure:          t.Insecure,
		ConsoleExporter:   t.ConsoleExporter,
	}
}
