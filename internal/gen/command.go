package gen

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Prompts longer than this go over stdin instead of argv; long argv can hit
// platform limits and leaks the prompt into process listings.
const stdinPromptThreshold = 8000

// CommandGenerator shells out to a code-generation CLI such as `gemini -d`.
// The prompt is appended as the final argument for short prompts or piped
// over stdin for long ones. Stderr is appended to a debug log under LogDir
// and the prompt itself is saved beside it for inspection.
type CommandGenerator struct {
	Argv   []string
	LogDir string
	Logger *zap.Logger
}

func (g *CommandGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if len(g.Argv) == 0 {
		return "", fmt.Errorf("%w: no generator command configured", ErrGeneration)
	}
	logger := g.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if g.LogDir != "" {
		if err := os.MkdirAll(g.LogDir, 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		if err := os.WriteFile(filepath.Join(g.LogDir, "current_prompt.txt"), []byte(prompt), 0o644); err != nil {
			return "", fmt.Errorf("%w: %v", ErrGeneration, err)
		}
	}

	useStdin := len(prompt) > stdinPromptThreshold
	argv := g.Argv
	if !useStdin {
		argv = append(append([]string(nil), g.Argv...), prompt)
	}
	logger.Debug("generating",
		zap.String("command", g.Argv[0]),
		zap.Int("prompt_len", len(prompt)),
		zap.Bool("stdin", useStdin))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	if useStdin {
		cmd.Stdin = strings.NewReader(prompt)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	var closeLog func()
	if g.LogDir != "" {
		f, err := os.OpenFile(filepath.Join(g.LogDir, "generator_debug.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrGeneration, err)
		}
		fmt.Fprintf(f, "\n\n--- New Prompt Execution (Length: %d) ---\n", len(prompt))
		cmd.Stderr = f
		closeLog = func() { f.Close() }
	} else {
		cmd.Stderr = &bytes.Buffer{}
	}

	err := cmd.Run()
	if closeLog != nil {
		closeLog()
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, ctx.Err())
	}
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrGeneration, g.Argv[0], err)
	}
	resp := stdout.String()
	if strings.TrimSpace(resp) == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return resp, nil
}
