package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hexforge-labs/armloop/internal/api"
	"github.com/hexforge-labs/armloop/internal/config"
	"github.com/hexforge-labs/armloop/internal/gen"
	"github.com/hexforge-labs/armloop/internal/ledger"
	"github.com/hexforge-labs/armloop/internal/loop"
	"github.com/hexforge-labs/armloop/internal/prompt"
	"github.com/hexforge-labs/armloop/internal/toolchain"
	"github.com/hexforge-labs/armloop/internal/workspace"
)

const defaultEntryFile = "agent_code.s"

// taskSpec is everything needed to drive one task run.
type taskSpec struct {
	Name       string
	PromptPath string
	Expected   string
	Toolchain  string
	Policy     api.IncrementalPolicy
	EntryFile  string
	SeedDir    string
	OutDir     string
}

func parsePolicy(s string) (api.IncrementalPolicy, error) {
	switch s {
	case "", "off":
		return api.IncrementalOff, nil
	case "normal":
		return api.IncrementalNormal, nil
	case "strict":
		return api.IncrementalStrict, nil
	}
	return "", fmt.Errorf("invalid incremental policy %q (want off, normal or strict)", s)
}

// loadTaskPrompt reads the task statement and expands the target placeholders
// the prompt files are written with.
func loadTaskPrompt(path string, target prompt.Target, expected string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("prompt file: %w", err)
	}
	r := strings.NewReplacer(
		"{uart_addr}", target.UARTAddr,
		"{board_name}", target.Board,
		"{expected_output}", expected,
	)
	return r.Replace(string(b)), nil
}

func newGenerator(ctx context.Context, cfg config.Config, logDir string, logger *zap.Logger) (gen.Generator, error) {
	switch cfg.Generator.Backend {
	case "gemini":
		key := os.Getenv("GEMINI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("gemini backend selected but GEMINI_API_KEY is not set")
		}
		return gen.NewGeminiGenerator(ctx, key, cfg.Generator.Model)
	case "", "command":
		if len(cfg.Generator.Command) == 0 {
			return nil, fmt.Errorf("generator command not configured")
		}
		return &gen.CommandGenerator{Argv: cfg.Generator.Command, LogDir: logDir, Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown generator backend %q", cfg.Generator.Backend)
}

func newAdapter(cfg config.Config, name string, logger *zap.Logger) (toolchain.Adapter, error) {
	buildTimeout := time.Duration(cfg.Run.BuildTimeoutSec) * time.Second
	switch name {
	case "gcc":
		return &toolchain.GCCQemu{
			Runner:       &toolchain.RealCommandRunner{},
			GCCBin:       cfg.Toolchain.GCCBin,
			QemuBin:      cfg.Toolchain.QemuBin,
			LinkerScript: cfg.Toolchain.LinkerScript,
			BuildTimeout: buildTimeout,
			Logger:       logger,
		}, nil
	case "armfvp":
		return &toolchain.ArmFVP{
			Runner:       &toolchain.RealCommandRunner{},
			ArmclangBin:  cfg.Toolchain.ArmclangBin,
			ArmlinkBin:   cfg.Toolchain.ArmlinkBin,
			FVPBin:       cfg.Toolchain.FVPBin,
			BuildTimeout: buildTimeout,
			Logger:       logger,
		}, nil
	}
	return nil, fmt.Errorf("unknown toolchain %q (want gcc or armfvp)", name)
}

// runTask wires one controller from the resolved spec and drives it to a
// terminal state. The ledger path is returned even on infrastructure errors
// so callers can point at the partial history.
func runTask(ctx context.Context, cfg config.Config, spec taskSpec, logger *zap.Logger, tracer trace.Tracer) (*loop.Outcome, error) {
	target, err := prompt.TargetFor(spec.Toolchain)
	if err != nil {
		return nil, err
	}
	task, err := loadTaskPrompt(spec.PromptPath, target, spec.Expected)
	if err != nil {
		return nil, err
	}

	taskDir := filepath.Join(spec.OutDir, spec.Name)
	ws, err := workspace.New(filepath.Join(taskDir, "workspace"))
	if err != nil {
		return nil, err
	}
	if spec.SeedDir != "" {
		if err := ws.SeedFrom(spec.SeedDir); err != nil {
			return nil, err
		}
	}

	led, err := ledger.Open(taskDir, spec.Name)
	if err != nil {
		return nil, err
	}
	defer led.Close()

	generator, err := newGenerator(ctx, cfg, taskDir, logger)
	if err != nil {
		return nil, err
	}
	adapter, err := newAdapter(cfg, spec.Toolchain, logger)
	if err != nil {
		return nil, err
	}

	ctl := &loop.Controller{
		Workspace: ws,
		Generator: generator,
		Toolchain: adapter,
		Ledger:    led,
		Prompts: &prompt.Builder{
			TaskName:  spec.Name,
			Task:      task,
			Target:    target,
			Expected:  spec.Expected,
			EntryFile: spec.EntryFile,
		},
		Policy:    spec.Policy,
		Expected:  spec.Expected,
		EntryFile: spec.EntryFile,

		MaxAttempts:     cfg.Run.MaxAttempts,
		RunTimeout:      time.Duration(cfg.Run.RunTimeoutSec) * time.Second,
		TimeoutRetries:  cfg.Run.TimeoutRetries,
		GenerateTimeout: time.Duration(cfg.Run.GenerateTimeoutSec) * time.Second,

		Logger: logger.With(zap.String("task", spec.Name)),
		Tracer: tracer,
	}
	return ctl.Run(ctx)
}
