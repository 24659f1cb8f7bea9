// Package toolchain builds generated sources and runs them in a simulator.
// Two backends exist: arm-none-eabi-gcc with QEMU (versatilepb) and the Arm
// Compiler with an FVP model (Cortex-R52). Build failures and run timeouts
// are results, not errors; errors mean the toolchain itself was unusable.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hexforge-labs/armloop/internal/api"
	"github.com/hexforge-labs/armloop/internal/workspace"
)

// Adapter compiles the workspace's entry file and executes the result.
// runTimeout bounds only the simulator run; the adapter's own build timeout
// bounds compilation.
type Adapter interface {
	Name() string
	BuildAndRun(ctx context.Context, ws *workspace.Workspace, entry string, runTimeout time.Duration) (api.ToolchainResult, error)
}

// GCCQemu is the gcc variant: one compile+link step with a linker script,
// then qemu-system-arm with the ELF as kernel.
type GCCQemu struct {
	Runner       CommandRunner
	GCCBin       string
	QemuBin      string
	LinkerScript string
	BuildTimeout time.Duration
	Logger       *zap.Logger
}

func (t *GCCQemu) Name() string { return "gcc" }

func (t *GCCQemu) BuildAndRun(ctx context.Context, ws *workspace.Workspace, entry string, runTimeout time.Duration) (api.ToolchainResult, error) {
	logger := loggerOrNop(t.Logger)
	root := ws.Root()
	elf := artifactPath(root, entry, ".elf")

	argv := []string{
		t.GCCBin,
		"-O0",
		"-nostdlib",
		"-T", filepath.Join(root, t.LinkerScript),
		filepath.Join(root, filepath.FromSlash(entry)),
		"-o", elf,
	}
	logger.Info("building", zap.String("toolchain", t.Name()), zap.String("entry", entry))
	step, err := runStep(ctx, t.Runner, root, argv, t.BuildTimeout)
	if err != nil {
		return api.ToolchainResult{}, err
	}
	if step.exit != 0 {
		logger.Info("build failed", zap.Int("exit", step.exit))
		return api.ToolchainResult{BuildSucceeded: false, BuildLog: step.stderr}, nil
	}

	runArgv := []string{
		t.QemuBin,
		"-M", "versatilepb",
		"-m", "128M",
		"-nographic",
		"-kernel", elf,
	}
	return simulate(ctx, t.Runner, logger, root, runArgv, runTimeout, step.stderr)
}

// ArmFVP is the vendor variant: armclang compile, armlink link, then a fixed
// virtual platform run. Simulator stdout carries the UART stream and stderr
// the semihosting diagnostics; both are captured.
type ArmFVP struct {
	Runner       CommandRunner
	ArmclangBin  string
	ArmlinkBin   string
	FVPBin       string
	BuildTimeout time.Duration
	Logger       *zap.Logger
}

func (t *ArmFVP) Name() string { return "armfvp" }

func (t *ArmFVP) BuildAndRun(ctx context.Context, ws *workspace.Workspace, entry string, runTimeout time.Duration) (api.ToolchainResult, error) {
	logger := loggerOrNop(t.Logger)
	root := ws.Root()
	obj := artifactPath(root, entry, ".o")
	elf := artifactPath(root, entry, ".axf")

	compileArgv := []string{
		t.ArmclangBin,
		"--target=arm-arm-none-eabi",
		"-mcpu=cortex-r52",
		"-O0",
		"-c", filepath.Join(root, filepath.FromSlash(entry)),
		"-o", obj,
	}
	logger.Info("building", zap.String("toolchain", t.Name()), zap.String("entry", entry))
	step, err := runStep(ctx, t.Runner, root, compileArgv, t.BuildTimeout)
	if err != nil {
		return api.ToolchainResult{}, err
	}
	if step.exit != 0 {
		logger.Info("compile failed", zap.Int("exit", step.exit))
		return api.ToolchainResult{BuildSucceeded: false, BuildLog: step.stderr}, nil
	}

	linkArgv := []string{
		t.ArmlinkBin,
		"--ro-base=0x00000000",
		"--entry=_start",
		obj,
		"-o", elf,
	}
	link, err := runStep(ctx, t.Runner, root, linkArgv, t.BuildTimeout)
	if err != nil {
		return api.ToolchainResult{}, err
	}
	if link.exit != 0 {
		logger.Info("link failed", zap.Int("exit", link.exit))
		return api.ToolchainResult{BuildSucceeded: false, BuildLog: step.stderr + link.stderr}, nil
	}

	runArgv := []string{
		t.FVPBin,
		"-C", "cluster0.NUM_CORES=1",
		"--application", elf,
	}
	return simulate(ctx, t.Runner, logger, root, runArgv, runTimeout, step.stderr+link.stderr)
}

type stepResult struct {
	exit     int
	stdout   string
	stderr   string
	timedOut bool
}

func runStep(ctx context.Context, runner CommandRunner, dir string, argv []string, timeout time.Duration) (stepResult, error) {
	stepCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	var stdout, stderr bytes.Buffer
	exit, err := runner.Run(stepCtx, dir, argv, &stdout, &stderr)
	res := stepResult{exit: exit, stdout: stdout.String(), stderr: stderr.String()}
	if err != nil {
		if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			res.timedOut = true
			return res, nil
		}
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if exit >= 0 {
			// process ran and exited nonzero
			return res, nil
		}
		return res, fmt.Errorf("%s: %w", argv[0], err)
	}
	return res, nil
}

// simulate runs the simulator command. A deadline hit means the program
// never halted; whatever reached the console before the cutoff is retained.
func simulate(ctx context.Context, runner CommandRunner, logger *zap.Logger, dir string, argv []string, timeout time.Duration, buildLog string) (api.ToolchainResult, error) {
	logger.Info("running", zap.String("simulator", argv[0]), zap.Duration("timeout", timeout))
	step, err := runStep(ctx, runner, dir, argv, timeout)
	if err != nil {
		return api.ToolchainResult{}, err
	}
	res := api.ToolchainResult{
		BuildSucceeded: true,
		BuildLog:       buildLog,
		RunCompleted:   !step.timedOut,
		CapturedOutput: step.stdout + step.stderr,
	}
	if step.timedOut {
		logger.Info("run timed out", zap.Duration("timeout", timeout))
	}
	return res, nil
}

func artifactPath(root, entry, ext string) string {
	base := filepath.Base(filepath.FromSlash(entry))
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(root, stem+ext)
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
