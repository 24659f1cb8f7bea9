// Package loop drives the generate, stage, build, run, evaluate cycle for
// one task run. The cycle is an explicit state machine; each state handler
// records its outcome on the attempt record and emits an event that the
// transition table resolves. Exactly one record is appended to the ledger
// per attempt number.
package loop

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/hexforge-labs/armloop/internal/api"
	"github.com/hexforge-labs/armloop/internal/gen"
	"github.com/hexforge-labs/armloop/internal/ledger"
	"github.com/hexforge-labs/armloop/internal/patch"
	"github.com/hexforge-labs/armloop/internal/paths"
	"github.com/hexforge-labs/armloop/internal/prompt"
	"github.com/hexforge-labs/armloop/internal/toolchain"
	"github.com/hexforge-labs/armloop/internal/workspace"
)

// Controller orchestrates one task run. All collaborators are injected;
// the controller holds no global state, so several runs can be driven from
// the same process without cross-contamination.
type Controller struct {
	Workspace *workspace.Workspace
	Generator gen.Generator
	Toolchain toolchain.Adapter
	Ledger    *ledger.Ledger
	Prompts   *prompt.Builder
	Policy    api.IncrementalPolicy
	Expected  string
	EntryFile string

	MaxAttempts     int
	RunTimeout      time.Duration
	TimeoutRetries  int
	GenerateTimeout time.Duration

	Logger *zap.Logger
	Tracer trace.Tracer
}

// Outcome summarizes a finished run.
type Outcome struct {
	Success     bool
	Attempts    int
	FinalResult api.ResultTag
	FinalOutput string
	SnapshotDir string
	LedgerPath  string
}

// Evaluate reports whether the captured output satisfies the task: the
// expected string must occur verbatim as a substring.
func Evaluate(captured, expected string) bool {
	return strings.Contains(captured, expected)
}

func (c *Controller) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 2 * time.Second
	}
	if c.TimeoutRetries <= 0 {
		c.TimeoutRetries = 3
	}
	if c.GenerateTimeout <= 0 {
		c.GenerateTimeout = 5 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Tracer == nil {
		c.Tracer = noop.NewTracerProvider().Tracer("")
	}
}

// Run executes the loop to a terminal state. The returned error is reserved
// for infrastructure failures and cancellation; recoverable attempt errors
// are ledger records, not errors.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	c.defaults()

	ctx, runSpan := c.Tracer.Start(ctx, "task.run", trace.WithAttributes(
		attribute.String("task", c.Prompts.TaskName),
		attribute.String("toolchain", c.Toolchain.Name()),
		attribute.String("policy", string(c.Policy)),
	))
	defer runSpan.End()

	engine := patch.NewEngine()
	wantEdits := c.nextMode()
	currentPrompt := c.Prompts.Initial(c.contextBlock(wantEdits), wantEdits)

	state := StateGenerate
	attempt := 1
	var (
		rec          api.AttemptRecord
		res          api.ToolchainResult
		feedback     string
		lastFeedback string
		attemptSpan  trace.Span
	)

	for !state.Terminal() {
		var event Event
		var err error

		switch state {
		case StateGenerate:
			_, attemptSpan = c.Tracer.Start(ctx, "attempt",
				trace.WithAttributes(attribute.Int("attempt", attempt)))
			rec = api.AttemptRecord{
				Attempt:   attempt,
				Prompt:    currentPrompt,
				StartedAt: now(),
			}
			if wantEdits {
				rec.ResponseMode = api.ModeEdits
			} else {
				rec.ResponseMode = api.ModeFullSource
			}
			c.Logger.Info("attempt started",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", c.MaxAttempts),
				zap.String("mode", string(rec.ResponseMode)))

			resp, genErr := c.generate(ctx, currentPrompt)
			if genErr != nil {
				if ctx.Err() != nil {
					attemptSpan.End()
					return nil, ctx.Err()
				}
				rec.Result = api.ResultGenerationFail
				feedback = fmt.Sprintf("The previous generation request failed and produced no usable response (%v). Regenerate from scratch.", genErr)
				event = EventGenerationFailed
			} else {
				rec.Payload = resp
				event = EventGenerated
			}

		case StateStage:
			event, feedback, err = c.stage(ctx, engine, &rec, wantEdits, lastFeedback)
			if err != nil {
				attemptSpan.End()
				return nil, err
			}

		case StateBuild:
			res, err = c.Toolchain.BuildAndRun(ctx, c.Workspace, c.EntryFile, c.RunTimeout)
			if err != nil {
				attemptSpan.End()
				return nil, err
			}
			rec.BuildSucceeded = api.Bool(res.BuildSucceeded)
			rec.BuildLog = res.BuildLog
			if !res.BuildSucceeded {
				rec.Result = api.ResultBuildFail
				feedback = c.Prompts.BuildFailure(res.BuildLog)
				event = EventBuildFailed
			} else {
				event = EventBuildOK
			}

		case StateRun:
			timeout := c.RunTimeout
			for try := 1; !res.RunCompleted && try < c.TimeoutRetries &&
				!Evaluate(res.CapturedOutput, c.Expected); try++ {
				timeout *= 2
				c.Logger.Info("run timed out, retrying with longer timeout",
					zap.Duration("timeout", timeout))
				res, err = c.Toolchain.BuildAndRun(ctx, c.Workspace, c.EntryFile, timeout)
				if err != nil {
					attemptSpan.End()
					return nil, err
				}
				if !res.BuildSucceeded {
					break
				}
			}
			if !res.BuildSucceeded {
				rec.BuildSucceeded = api.Bool(false)
				rec.BuildLog = res.BuildLog
				rec.Result = api.ResultBuildFail
				feedback = c.Prompts.BuildFailure(res.BuildLog)
				event = EventBuildFailed
				break
			}
			rec.RunCompleted = api.Bool(res.RunCompleted)
			rec.RunOutput = res.CapturedOutput
			if res.RunCompleted {
				event = EventRunCompleted
			} else {
				event = EventRunTimedOut
			}

		case StateEvaluate:
			switch {
			case Evaluate(res.CapturedOutput, c.Expected):
				rec.Result = api.ResultSuccess
				event = EventOutputMatched
			case !res.RunCompleted:
				rec.Result = api.ResultRunFail
				feedback = c.Prompts.RunTimeout(res.CapturedOutput)
				event = EventOutputMismatched
			default:
				rec.Result = api.ResultMismatch
				feedback = c.Prompts.Mismatch(res.CapturedOutput)
				event = EventOutputMismatched
			}

		case StateRetry:
			lastFeedback = feedback
			if attempt >= c.MaxAttempts {
				event = EventBudgetExhausted
			} else {
				attempt++
				wantEdits = c.nextMode()
				currentPrompt = c.Prompts.Retry(feedback, c.contextBlock(wantEdits), wantEdits)
				event = EventBudgetRemaining
			}
		}

		next, err := Next(state, event)
		if err != nil {
			return nil, err
		}
		if attemptSpan != nil {
			attemptSpan.AddEvent(string(event))
		}
		if next == StateRetry || next == StateSuccess {
			rec.FinishedAt = now()
			if err := c.Ledger.Append(rec); err != nil {
				attemptSpan.End()
				return nil, err
			}
			c.Logger.Info("attempt finished",
				zap.Int("attempt", rec.Attempt),
				zap.String("result", string(rec.Result)))
			attemptSpan.End()
			attemptSpan = nil
		}
		state = next
	}

	out := &Outcome{
		Success:     state == StateSuccess,
		Attempts:    rec.Attempt,
		FinalResult: rec.Result,
		FinalOutput: res.CapturedOutput,
		LedgerPath:  c.Ledger.Path(),
	}
	if out.Success {
		dir, err := c.Workspace.SnapshotSuccess()
		if err != nil {
			return nil, err
		}
		out.SnapshotDir = dir
		c.Logger.Info("task succeeded", zap.Int("attempts", out.Attempts), zap.String("snapshot", dir))
	} else {
		c.Logger.Info("task failed", zap.Int("attempts", out.Attempts), zap.String("result", string(out.FinalResult)))
	}
	return out, nil
}

// stage applies the generated payload to the workspace. In edits mode a
// rejected set either falls back to a same-attempt full-source regeneration
// (normal policy) or becomes the attempt's result (strict policy).
func (c *Controller) stage(ctx context.Context, engine *patch.Engine, rec *api.AttemptRecord, wantEdits bool, lastFeedback string) (Event, string, error) {
	if !wantEdits {
		return c.stageFullSource(rec, rec.Payload)
	}

	set, decodeErr := patch.Decode(rec.Payload)
	if decodeErr == nil {
		if !entrySurvives(set, c.EntryFile) {
			decodeErr = fmt.Errorf("edits would remove required source file %q: %w", c.EntryFile, patch.ErrPatch)
		}
	}
	var applyErr error
	if decodeErr == nil {
		rec.EditOps = len(set.Edits)
		var result *patch.Result
		result, applyErr = engine.Apply(c.Workspace, set)
		if applyErr == nil {
			rec.Diff = result.Diff
			content, err := c.Workspace.ReadFile(c.EntryFile)
			if err != nil {
				return "", "", err
			}
			if verr := gen.ValidateARMAssembly(content); verr != nil {
				rec.Result = api.ResultGenerationFail
				return EventGenerationFailed, c.Prompts.SourceValidationIssue(verr.Error()), nil
			}
			return EventStaged, "", nil
		}
	}

	patchErr := decodeErr
	if patchErr == nil {
		patchErr = applyErr
	}
	rec.PatchError = patchErr.Error()
	issue := c.Prompts.PatchIssue(patchErr.Error(), lastFeedback)

	if c.Policy == api.IncrementalStrict {
		rec.Result = api.ResultPatchFail
		c.Logger.Info("edit set rejected, strict policy records the attempt",
			zap.String("error", patchErr.Error()))
		return EventPatchFailed, issue +
			"Strict incremental mode is enabled. Stay in JSON edits mode and " +
			"provide corrected, unambiguous edit instructions for the current files.", nil
	}

	// normal policy: one fallback full-source generation for the same attempt
	c.Logger.Info("edit set rejected, falling back to full source",
		zap.String("error", patchErr.Error()))
	fallbackPrompt := c.Prompts.Retry(c.Prompts.PatchFallback(issue), c.contextBlock(true), false)
	resp, genErr := c.generate(ctx, fallbackPrompt)
	if genErr != nil {
		if ctx.Err() != nil {
			return "", "", ctx.Err()
		}
		rec.Result = api.ResultGenerationFail
		return EventGenerationFailed,
			fmt.Sprintf("The fallback generation request failed (%v). Regenerate from scratch.", genErr), nil
	}
	rec.PatchFallback = true
	rec.ResponseMode = api.ModeFullSource
	rec.Payload = resp
	return c.stageFullSource(rec, resp)
}

// stageFullSource filters and validates a full-source response, then
// replaces the entry file and records the diff against the prior snapshot.
func (c *Controller) stageFullSource(rec *api.AttemptRecord, resp string) (Event, string, error) {
	code := gen.StripTrailingNoise(gen.StripMarkdownFences(resp))
	if verr := gen.ValidateARMAssembly(code); verr != nil {
		rec.Result = api.ResultGenerationFail
		c.Logger.Info("rejected non-assembly response before writing source",
			zap.String("error", verr.Error()))
		return EventGenerationFailed, c.Prompts.SourceValidationIssue(verr.Error()), nil
	}

	before, err := c.Workspace.Snapshot()
	if err != nil {
		return "", "", err
	}
	if err := c.Workspace.WriteFile(c.EntryFile, code); err != nil {
		return "", "", err
	}
	after, err := c.Workspace.Snapshot()
	if err != nil {
		return "", "", err
	}
	diff, err := patch.ComputeDiff(before, after)
	if err != nil {
		return "", "", err
	}
	rec.Diff = diff
	return EventStaged, "", nil
}

func (c *Controller) generate(ctx context.Context, p string) (string, error) {
	gctx, cancel := context.WithTimeout(ctx, c.GenerateTimeout)
	defer cancel()
	return c.Generator.Generate(gctx, p)
}

// nextMode selects the response shape for the upcoming attempt: edits only
// when the policy allows them and there is an entry file to edit.
func (c *Controller) nextMode() bool {
	return c.Policy != api.IncrementalOff && c.Policy != "" && c.Workspace.Exists(c.EntryFile)
}

func (c *Controller) contextBlock(wantEdits bool) string {
	if !wantEdits {
		return ""
	}
	snap, err := c.Workspace.Snapshot()
	if err != nil {
		return ""
	}
	return workspace.ContextBlock(snap)
}

// entrySurvives checks, before any mutation, that the edit set leaves the
// entry file in place.
func entrySurvives(set patch.EditSet, entry string) bool {
	exists := true
	for _, ed := range set.Edits {
		p := normalized(ed.Path)
		switch ed.Op {
		case patch.OpDelete:
			if p == entry {
				exists = false
			}
		case patch.OpMove:
			if p == entry {
				exists = false
			}
			if normalized(ed.NewPath) == entry {
				exists = true
			}
		case patch.OpCreate:
			if p == entry {
				exists = true
			}
		}
	}
	return exists
}

func normalized(rel string) string {
	n, err := paths.NormalizeRel(rel)
	if err != nil {
		return rel
	}
	return n
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
