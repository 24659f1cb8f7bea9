package api

// ResponseMode selects what shape of payload the generation collaborator is
// asked to return for an attempt.
type ResponseMode string

const (
	ModeFullSource ResponseMode = "full_source"
	ModeEdits      ResponseMode = "edits"
)

// IncrementalPolicy controls how the loop reacts when an edit set cannot be
// applied: off never requests edits, normal falls back to a full-source
// regeneration within the same attempt, strict records the failure as the
// attempt's result.
type IncrementalPolicy string

const (
	IncrementalOff    IncrementalPolicy = "off"
	IncrementalNormal IncrementalPolicy = "normal"
	IncrementalStrict IncrementalPolicy = "strict"
)

// ResultTag classifies the outcome of a single attempt.
type ResultTag string

const (
	ResultSuccess        ResultTag = "success"
	ResultBuildFail      ResultTag = "build_fail"
	ResultRunFail        ResultTag = "run_fail"
	ResultMismatch       ResultTag = "mismatch"
	ResultPatchFail      ResultTag = "patch_fail"
	ResultGenerationFail ResultTag = "generation_fail"
)

// Terminal reports whether the tag ends the task run successfully.
func (t ResultTag) Terminal() bool { return t == ResultSuccess }

// ToolchainResult is what a build+execute backend reports for one attempt.
// RunCompleted is false when the simulated program never reached a halt or
// exit within the time budget; CapturedOutput still holds whatever the
// console streams produced before the cutoff.
type ToolchainResult struct {
	BuildSucceeded bool   `json:"build_succeeded"`
	BuildLog       string `json:"build_log"`
	RunCompleted   bool   `json:"run_completed"`
	CapturedOutput string `json:"captured_output"`
}

// AttemptRecord is the immutable ledger entry for one attempt. Boolean
// pointers distinguish "stage never reached" from an explicit false.
type AttemptRecord struct {
	Attempt        int          `json:"attempt"`
	Prompt         string       `json:"prompt"`
	ResponseMode   ResponseMode `json:"response_mode"`
	Payload        string       `json:"payload"`
	EditOps        int          `json:"edit_ops,omitempty"`
	PatchError     string       `json:"patch_error,omitempty"`
	PatchFallback  bool         `json:"patch_fallback,omitempty"`
	Diff           string       `json:"diff,omitempty"`
	BuildSucceeded *bool        `json:"build_succeeded,omitempty"`
	BuildLog       string       `json:"build_log,omitempty"`
	RunCompleted   *bool        `json:"run_completed,omitempty"`
	RunOutput      string       `json:"run_output,omitempty"`
	Result         ResultTag    `json:"attempt_result"`
	StartedAt      string       `json:"started_at"`
	FinishedAt     string       `json:"finished_at"`
}

// Bool returns a pointer for optional record fields.
func Bool(v bool) *bool { return &v }
