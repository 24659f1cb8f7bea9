package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// RunCmd drives a single task run to a terminal state.
func RunCmd() *cobra.Command {
	var (
		toolchainName string
		seedDir       string
		promptPath    string
		taskName      string
		expected      string
		incremental   string
		entryFile     string
		outDir        string
		autoYes       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one task to success or attempt exhaustion",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			policy, err := parsePolicy(incremental)
			if err != nil {
				return err
			}
			if promptPath == "" {
				return fmt.Errorf("--prompt is required")
			}
			if expected == "" {
				return fmt.Errorf("--expected is required")
			}
			if taskName == "" {
				base := filepath.Base(promptPath)
				taskName = strings.TrimSuffix(base, filepath.Ext(base))
			}

			cfg, logger, tracer, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := gitPreflight(ctx, autoYes, cmd.InOrStdin(), cmd.OutOrStdout()); err != nil {
				return err
			}

			out, err := runTask(ctx, cfg, taskSpec{
				Name:       taskName,
				PromptPath: promptPath,
				Expected:   expected,
				Toolchain:  toolchainName,
				Policy:     policy,
				EntryFile:  entryFile,
				SeedDir:    seedDir,
				OutDir:     outDir,
			}, logger, tracer)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ledger: %s\n", out.LedgerPath)
			if out.Success {
				color.New(color.FgGreen, color.Bold).Fprintf(w, "PASS %s in %d attempt(s)\n", taskName, out.Attempts)
				fmt.Fprintf(w, "snapshot: %s\n", out.SnapshotDir)
				return nil
			}
			color.New(color.FgRed, color.Bold).Fprintf(w, "FAIL %s after %d attempt(s): %s\n", taskName, out.Attempts, out.FinalResult)
			return fmt.Errorf("task %s did not produce the expected output", taskName)
		},
	}

	cmd.Flags().StringVar(&toolchainName, "toolchain", "gcc", "toolchain variant: gcc or armfvp")
	cmd.Flags().StringVar(&seedDir, "seed", "", "directory of starter sources to copy into the workspace")
	cmd.Flags().StringVar(&promptPath, "prompt", "", "path to the task prompt file")
	cmd.Flags().StringVar(&taskName, "task", "", "task name (defaults to the prompt file stem)")
	cmd.Flags().StringVar(&expected, "expected", "", "expected substring in the simulator output")
	cmd.Flags().StringVar(&incremental, "incremental", "off", "incremental edit policy: off, normal or strict")
	cmd.Flags().StringVar(&entryFile, "entry-file", defaultEntryFile, "workspace-relative entry source file")
	cmd.Flags().StringVar(&outDir, "out", "runs", "directory for workspaces and ledgers")
	cmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "proceed past the uncommitted-changes check")
	return cmd
}
