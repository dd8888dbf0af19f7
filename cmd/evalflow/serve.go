package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drblury/evalflow"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the service with the demo endpoints",
		Long: `Starts the service and registers the demo endpoints greet, sum, countdown
and status on every enabled exporter. Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if tracing, _ := cmd.Flags().GetBool("tracing"); tracing {
				conf.TracingEnabled = true
			}
			level, _ := cmd.Flags().GetString("log-level")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, conf, newLogger(cmd.ErrOrStderr(), level), cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("tracing", false, "Write spans to stdout, overriding tracing_enabled")
	return cmd
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// serve runs the service until ctx is cancelled. Spans go to spanOut when
// tracing is enabled.
func serve(ctx context.Context, conf *evalflow.Config, logger *slog.Logger, spanOut io.Writer) error {
	if conf.TracingEnabled {
		shutdown, err := initTracer(conf.ServiceName, spanOut)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()
	}

	svcLogger := evalflow.NewSlogServiceLogger(logger)
	svc := evalflow.NewService(conf, svcLogger, ctx, evalflow.ServiceDependencies{
		Hooks: evalflow.LoggingHooks(svcLogger),
	})

	feed, err := newStatusFeed(svc, conf)
	if err != nil {
		return err
	}
	go func() {
		if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			svcLogger.Error("status feed stopped", err, nil)
		}
	}()

	if err := registerDemo(svc, feed); err != nil {
		return err
	}

	logger.Info("evalflow starting",
		slog.String("service", conf.ServiceName),
		slog.String("transport", conf.PubSubSystem),
		slog.Bool("rest", conf.RESTEnabled),
		slog.Bool("websocket", conf.WebSocketEnabled),
		slog.Bool("message", conf.MessageEnabled),
	)

	if err := svc.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("evalflow stopped")
	return nil
}
