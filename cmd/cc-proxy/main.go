// Command cc-proxy runs the shadow proxy: a transparent gateway between an
// Anthropic-format client and two upstreams, a self-hosted target and the
// real Anthropic API.
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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ryanolson/cc-proxy/internal/config"
	"github.com/ryanolson/cc-proxy/internal/mode"
	"github.com/ryanolson/cc-proxy/internal/proxy"
	"github.com/ryanolson/cc-proxy/internal/rewrite"
	"github.com/ryanolson/cc-proxy/internal/server"
	"github.com/ryanolson/cc-proxy/internal/stats"
	"github.com/ryanolson/cc-proxy/internal/telemetry"
)

func main() {
	cmd := &cli.Command{
		Name:  "cc-proxy",
		Usage: "Shadow proxy between an Anthropic-format client and two upstreams",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "Path to the TOML config file",
				Value: "cc-proxy.toml",
			},
			&cli.StringFlag{
				Name:     "target-url",
				Usage:    "Base URL of the self-hosted target (CLI only, never from config)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "Override the model field in every forwarded request body",
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address, overrides config",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: trace, debug, info, warn, error",
			},
			&cli.BoolFlag{
				Name:  "allow-anthropic-only",
				Usage: "Permit switching the runtime mode to anthropic-only",
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Error().Err(err).Msg("proxy exited with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	_ = godotenv.Load()

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.Target.URL = cmd.String("target-url")
	cfg.ModelOverride = cmd.String("model")
	cfg.AnthropicOnlyAllowed = cmd.Bool("allow-anthropic-only")
	if v := cmd.String("listen"); v != "" {
		cfg.Server.ListenAddress = v
	}
	if v := cmd.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	setupLogging(cfg.LogLevel)

	initialMode, err := mode.Parse(cfg.DefaultMode)
	if err != nil {
		return fmt.Errorf("default mode: %w", err)
	}
	if initialMode == mode.AnthropicOnly && !cfg.AnthropicOnlyAllowed {
		return errors.New("default_mode is anthropic-only but --allow-anthropic-only was not set")
	}

	tel, err := telemetry.Setup(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.Insecure)
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}

	target := proxy.NewUpstream("target", cfg.Target.URL, cfg.TargetTimeout(), false)
	passthrough := proxy.NewUpstream("passthrough", cfg.Passthrough.URL, cfg.PassthroughTimeout(), cfg.Passthrough.PassthroughAuth)
	dispatcher := proxy.NewCompareDispatcher(target, cfg.Target.MaxConcurrent)

	rewriter := &rewrite.Rewriter{
		ModelOverride: cfg.ModelOverride,
		MaxTokens:     cfg.Target.MaxTokens,
		Temperature:   cfg.Target.Temperature,
		TopP:          cfg.Target.TopP,
	}

	srv := server.New(
		mode.NewRuntime(initialMode, cfg.AnthropicOnlyAllowed),
		stats.New(),
		target,
		passthrough,
		dispatcher,
		rewriter,
		telemetry.NewToggle(),
		tel,
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddress,
		Handler:           otelhttp.NewHandler(srv.Routes(), "cc-proxy"),
		ReadHeaderTimeout: config.DefaultServerReadHeaderTimeout,
		WriteTimeout:      config.DefaultServerWriteTimeout,
	}

	log.Info().
		Str("listen_address", cfg.Server.ListenAddress).
		Str("target_url", cfg.Target.URL).
		Str("passthrough_url", cfg.Passthrough.URL).
		Str("mode", initialMode.String()).
		Str("model_override", cfg.ModelOverride).
		Bool("anthropic_only_allowed", cfg.AnthropicOnlyAllowed).
		Msg("starting cc-proxy")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown incomplete, closing")
		_ = httpServer.Close()
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	log.Info().Msg("cc-proxy stopped")
	return nil
}

// setupLogging configures the global zerolog logger. Unparseable levels
// fall back to info; LOG_FORMAT=json switches to raw JSON output.
func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339

	if os.Getenv("LOG_FORMAT") != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
