// Package cli implements the armloop command surface: single-task runs,
// batch runs with a sqlite scoreboard, and version output.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hexforge-labs/armloop/internal/config"
	"github.com/hexforge-labs/armloop/internal/telemetry"
	"github.com/hexforge-labs/armloop/internal/version"
)

// RootCmd builds the armloop command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "armloop",
		Short:         "armloop drives an agentic generate-build-run loop for bare-metal ARM programs",
		Version:       fmt.Sprintf("%s (%s)", version.Version, version.Commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(RunCmd())
	root.AddCommand(BatchCmd())
	root.AddCommand(VersionCmd())
	return root
}

// VersionCmd prints the build identification.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "armloop %s (%s)\n", version.Version, version.Commit)
		},
	}
}

// setup loads .env plus armloop.toml from the working directory and builds
// the shared logger and tracer. The returned cleanup flushes both.
func setup(ctx context.Context) (config.Config, *zap.Logger, trace.Tracer, func(), error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}
	if err := config.LoadDotenv(cwd); err != nil {
		return config.Config{}, nil, nil, nil, fmt.Errorf("loading .env: %w", err)
	}
	res := config.Load(cwd)
	if res.ParseError != nil {
		return config.Config{}, nil, nil, nil, res.ParseError
	}
	cfg := res.Config

	logger, err := zap.NewDevelopment()
	if err != nil {
		return config.Config{}, nil, nil, nil, err
	}

	tracer := noop.NewTracerProvider().Tracer("")
	shutdown := func(context.Context) error { return nil }
	if cfg.Telemetry.Enabled {
		shutdown, err = telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "armloop",
			ServiceVersion: version.Version,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Insecure:       cfg.Telemetry.Insecure,
		})
		if err != nil {
			return config.Config{}, nil, nil, nil, fmt.Errorf("telemetry init: %w", err)
		}
		tracer = otel.Tracer("armloop")
	}

	cleanup := func() {
		_ = logger.Sync()
		_ = shutdown(context.Background())
	}
	return cfg, logger, tracer, cleanup, nil
}
