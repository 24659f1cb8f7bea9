// Package prompt assembles the text sent to the generation collaborator.
// Every attempt re-states the task contract so retries never lose the
// constraints of the initial task, and each failure outcome has its own
// retry builder so feedback is specific to what went wrong.
package prompt

import (
	"fmt"
	"strings"
)

// Target describes the simulated board a task runs on.
type Target struct {
	Toolchain string
	Board     string
	UARTAddr  string
}

// TargetFor maps a toolchain name to its board and fixed UART data register.
func TargetFor(toolchain string) (Target, error) {
	switch toolchain {
	case "gcc":
		return Target{Toolchain: "gcc", Board: "QEMU versatilepb", UARTAddr: "0x101F1000"}, nil
	case "armfvp":
		return Target{Toolchain: "armfvp", Board: "FVP Cortex-R52", UARTAddr: "0x9C090000"}, nil
	default:
		return Target{}, fmt.Errorf("unknown toolchain %q", toolchain)
	}
}

// Builder carries the per-run constants every prompt is built from.
type Builder struct {
	TaskName  string
	Task      string // formatted task statement
	Target    Target
	Expected  string
	EntryFile string
}

// Contract is the compact restatement prepended to every attempt.
func (b *Builder) Contract() string {
	var s strings.Builder
	s.WriteString("TASK CONTRACT (applies to every attempt, including retries):\n")
	fmt.Fprintf(&s, "- Task: %s\n", b.TaskName)
	fmt.Fprintf(&s, "- Toolchain: %s\n", b.Target.Toolchain)
	fmt.Fprintf(&s, "- Board: %s\n", b.Target.Board)
	fmt.Fprintf(&s, "- UART data register address is FIXED for this run: %s\n", b.Target.UARTAddr)
	s.WriteString("- Do NOT try alternate UART addresses unless the user explicitly asks.\n")
	s.WriteString("- To print, write the string byte-by-byte to the UART0 data register.\n")
	if b.Target.Toolchain == "armfvp" {
		s.WriteString("- Also use semihosting to print to the console to ensure visibility in simulation logs.\n")
	}
	fmt.Fprintf(&s, "- Expected output requirement remains: the simulator output must contain '%s'\n", b.Expected)
	s.WriteString("- Compute the result in code; do not hardcode the result string verbatim.\n")
	s.WriteString("- The original task statement below remains in force for all attempts.\n\n")
	s.WriteString("Original task statement:\n")
	s.WriteString(b.Task)
	s.WriteString("\n")
	return s.String()
}

// Initial builds the first attempt's prompt. contextBlock is the rendered
// workspace snapshot, empty when the workspace starts bare. wantEdits selects
// the response shape for this attempt, not the policy for the whole run.
func (b *Builder) Initial(contextBlock string, wantEdits bool) string {
	p := b.Contract() + contextBlock
	if wantEdits {
		return p + "\n" + b.editProtocol()
	}
	return p + "\n" + b.fullSourceRules()
}

// Retry wraps outcome-specific feedback with the contract and the response
// shape rules for the next attempt's mode.
func (b *Builder) Retry(feedback, contextBlock string, wantEdits bool) string {
	p := b.Contract() + contextBlock + "\n" + feedback + "\n"
	if wantEdits {
		return p + "\n" + b.editProtocol()
	}
	return p + "\n" + b.fullSourceRules()
}

func (b *Builder) fullSourceRules() string {
	return fmt.Sprintf(
		"Return ONLY the complete content of `%s` (no prose, no markdown fences, no logs).\n",
		b.EntryFile)
}

// editProtocol documents the closed set of structured operations and the
// path constraints the patch engine enforces.
func (b *Builder) editProtocol() string {
	return fmt.Sprintf(`Return ONLY JSON with this shape (no prose, no markdown):
{
  "edits": [
    {
      "op": "modify",
      "path": "relative/path/to/file",
      "content": "..."
    }
  ]
}
JSON EDIT RULES (critical):
- Allowed op values: modify, create, delete, move.
- "modify" requires "path" + "content" and replaces an existing file's content.
- "create" requires "path" + "content"; the file must not already exist unless "overwrite": true is set.
- "delete" requires only "path"; the file must exist.
- "move" requires "path" + "new_path"; the destination must not exist.
- Only include fields required by the chosen op.
- "path" must be a relative path inside the workspace. Never use absolute paths and never use ".." segments.
- The primary file is %q.
- Prefer a small number of focused edits over replacing every file.
- Do not include explanations, markdown fences, or any non-JSON text.
`, b.EntryFile)
}

// BuildFailure describes a failed compile or link for the next attempt.
func (b *Builder) BuildFailure(buildLog string) string {
	return fmt.Sprintf(
		"Your previous code failed to compile with the following error:\n%s\n\nPlease fix the code.",
		buildLog)
}

// RunTimeout describes a program that built but never completed within the
// time budget, even after the bounded timeout retries.
func (b *Builder) RunTimeout(runOutput string) string {
	return fmt.Sprintf(
		"The code compiled successfully, but running it in %s timed out after multiple attempts.\n"+
			"Output before timeout:\n%s\n\n"+
			"Ensure you are not stuck in an infinite loop before printing the required output. Please fix the logic.",
		b.Target.Board, runOutput)
}

// Mismatch describes a completed run whose output lacked the expected string.
func (b *Builder) Mismatch(runOutput string) string {
	return fmt.Sprintf(
		"The code compiled successfully and completed, but the expected output was not found.\n"+
			"Output:\n%s\n\n"+
			"We expect the exact string '%s' to be printed to the UART. Please fix the logic.",
		runOutput, b.Expected)
}

// PatchIssue describes an edit set that could not be decoded or applied.
// lastFeedback carries the compile/run feedback the rejected edits were
// responding to, so the fix addresses the real problem, not the formatting.
func (b *Builder) PatchIssue(patchErr, lastFeedback string) string {
	var s strings.Builder
	s.WriteString("Your previous response could not be applied as JSON edit instructions.\n")
	fmt.Fprintf(&s, "Edit apply error: %s\n", patchErr)
	if lastFeedback != "" {
		s.WriteString("\nMost recent compile/runtime feedback from the previous attempt ")
		s.WriteString("(use this to fix the edit content, not just formatting):\n")
		s.WriteString(lastFeedback)
		s.WriteString("\n")
	}
	return s.String()
}

// PatchFallback asks for a full replacement after edits could not be applied
// safely. Used by the normal incremental policy within the same attempt.
func (b *Builder) PatchFallback(patchIssue string) string {
	return patchIssue +
		"\nYour intended fix may be directionally correct, but the edit instructions were not " +
		"safe to apply exactly.\n" +
		"For this retry, do NOT return JSON edits.\n" +
		fmt.Sprintf("Return ONLY a full replacement for `%s` (no prose, no markdown).\n", b.EntryFile) +
		"Make the smallest logical fix needed while preserving the working parts.\n"
}

// SourceValidationIssue describes a full-source response rejected before it
// was ever written to the workspace.
func (b *Builder) SourceValidationIssue(validationErr string) string {
	return fmt.Sprintf(
		"Your previous response contained non-assembly text and was rejected before writing `%s`.\n"+
			"Validation error: %s\n\n"+
			"Return ONLY valid ARM assembly source for `%s` (no prose, no markdown, no logs).\n",
		b.EntryFile, validationErr, b.EntryFile)
}
