package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// gitPreflight warns when the working tree has uncommitted changes, since a
// run writes generated sources and snapshots into it. The prompt is skipped
// with --yes. A directory that is not a git repository passes silently.
func gitPreflight(ctx context.Context, autoYes bool, in io.Reader, out io.Writer) error {
	cmd := exec.CommandContext(ctx, "git", "status", "--porcelain")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil
	}
	dirty := strings.TrimSpace(stdout.String())
	if dirty == "" {
		return nil
	}

	fmt.Fprintf(out, "\n[Warning] You have uncommitted changes in your repository:\n%s\n", dirty)
	if autoYes {
		fmt.Fprintln(out, "[Info] Proceeding because --yes was provided.")
		return nil
	}

	fmt.Fprint(out, "Do you really want to proceed? (y/N): ")
	sc := bufio.NewScanner(in)
	if !sc.Scan() || strings.ToLower(strings.TrimSpace(sc.Text())) != "y" {
		return fmt.Errorf("aborted: uncommitted changes")
	}
	return nil
}
