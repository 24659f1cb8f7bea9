package cli

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/hexforge-labs/armloop/internal/api"
	"github.com/hexforge-labs/armloop/internal/store"
	_ "modernc.org/sqlite"
)

// BatchCmd runs every task listed in a file and records each outcome in the
// sqlite scoreboard. A task line has three whitespace-separated fields, the
// last spanning the rest of the line:
//
//	<name> <prompt-file> <expected output>
//
// Blank lines and lines starting with # are skipped.
func BatchCmd() *cobra.Command {
	var (
		toolchainName string
		incremental   string
		entryFile     string
		outDir        string
		dbPath        string
		autoYes       bool
		summary       bool
	)

	cmd := &cobra.Command{
		Use:   "batch [tasks-file]",
		Short: "Run a list of tasks and record outcomes, or print the scoreboard",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			db, err := sql.Open("sqlite", dbPath)
			if err != nil {
				return err
			}
			defer db.Close()
			_, _ = db.Exec(`PRAGMA busy_timeout = 5000`)
			st := store.New(db)
			if err := st.Init(); err != nil {
				return err
			}

			if summary {
				return printSummary(w, st)
			}
			if len(args) != 1 {
				return fmt.Errorf("a tasks file is required unless --summary is given")
			}

			policy, err := parsePolicy(incremental)
			if err != nil {
				return err
			}
			specs, err := parseTaskFile(args[0], toolchainName, policy, entryFile, outDir)
			if err != nil {
				return err
			}
			if len(specs) == 0 {
				return fmt.Errorf("no tasks in %s", args[0])
			}

			cfg, logger, tracer, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := gitPreflight(ctx, autoYes, cmd.InOrStdin(), w); err != nil {
				return err
			}

			passed := 0
			for _, spec := range specs {
				started := time.Now().UTC().Format(time.RFC3339Nano)
				out, err := runTask(ctx, cfg, spec, logger, tracer)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					color.New(color.FgYellow).Fprintf(w, "ERROR %s: %v\n", spec.Name, err)
					continue
				}
				if _, err := st.InsertRun(&store.Run{
					Task:       spec.Name,
					Toolchain:  spec.Toolchain,
					Result:     string(out.FinalResult),
					Attempts:   out.Attempts,
					LedgerPath: out.LedgerPath,
					StartedAt:  started,
				}); err != nil {
					return fmt.Errorf("recording run for %s: %w", spec.Name, err)
				}
				if out.Success {
					passed++
					color.New(color.FgGreen).Fprintf(w, "PASS %s (%d attempts)\n", spec.Name, out.Attempts)
				} else {
					color.New(color.FgRed).Fprintf(w, "FAIL %s (%s after %d attempts)\n", spec.Name, out.FinalResult, out.Attempts)
				}
			}

			fmt.Fprintf(w, "\n%d/%d tasks passed\n", passed, len(specs))
			if passed < len(specs) {
				return fmt.Errorf("%d task(s) failed", len(specs)-passed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&toolchainName, "toolchain", "gcc", "toolchain variant: gcc or armfvp")
	cmd.Flags().StringVar(&incremental, "incremental", "off", "incremental edit policy: off, normal or strict")
	cmd.Flags().StringVar(&entryFile, "entry-file", defaultEntryFile, "workspace-relative entry source file")
	cmd.Flags().StringVar(&outDir, "out", "runs", "directory for workspaces and ledgers")
	cmd.Flags().StringVar(&dbPath, "db", "runs/armloop.db", "sqlite scoreboard path")
	cmd.Flags().BoolVarP(&autoYes, "yes", "y", false, "proceed past the uncommitted-changes check")
	cmd.Flags().BoolVar(&summary, "summary", false, "print the per-task scoreboard and exit")
	return cmd
}

func parseTaskFile(path, toolchainName string, policy api.IncrementalPolicy, entryFile, outDir string) ([]taskSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var specs []taskSpec
	sc := bufio.NewScanner(f)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s:%d: want <name> <prompt-file> <expected output>", path, lineNo)
		}
		specs = append(specs, taskSpec{
			Name:       fields[0],
			PromptPath: fields[1],
			Expected:   strings.Join(fields[2:], " "),
			Toolchain:  toolchainName,
			Policy:     policy,
			EntryFile:  entryFile,
			OutDir:     outDir,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return specs, nil
}

func printSummary(w io.Writer, st *store.Store) error {
	tallies, err := st.Summary()
	if err != nil {
		return err
	}
	if len(tallies) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return nil
	}
	fmt.Fprintf(w, "%-24s %6s %6s %14s\n", "TASK", "RUNS", "PASS", "MEAN ATTEMPTS")
	for _, t := range tallies {
		line := fmt.Sprintf("%-24s %6d %6d %14.1f", t.Task, t.Runs, t.Successes, t.MeanAttempts)
		if t.Successes == t.Runs {
			color.New(color.FgGreen).Fprintln(w, line)
		} else if t.Successes == 0 {
			color.New(color.FgRed).Fprintln(w, line)
		} else {
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
