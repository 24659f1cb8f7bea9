package loop

import "fmt"

// State is one phase of the attempt cycle.
type State string

const (
	StateGenerate State = "generate"
	StateStage    State = "stage"
	StateBuild    State = "build"
	StateRun      State = "run"
	StateEvaluate State = "evaluate"
	StateRetry    State = "retry"
	StateSuccess  State = "success"
	StateFailure  State = "failure"
)

// Terminal reports whether the run ends in this state.
func (s State) Terminal() bool { return s == StateSuccess || s == StateFailure }

// Event is the observed outcome of processing a state.
type Event string

const (
	EventGenerated        Event = "generated"
	EventGenerationFailed Event = "generation_failed"
	EventStaged           Event = "staged"
	EventPatchFailed      Event = "patch_failed"
	EventBuildOK          Event = "build_ok"
	EventBuildFailed      Event = "build_failed"
	EventRunCompleted     Event = "run_completed"
	EventRunTimedOut      Event = "run_timed_out"
	EventOutputMatched    Event = "output_matched"
	EventOutputMismatched Event = "output_mismatched"
	EventBudgetRemaining  Event = "budget_remaining"
	EventBudgetExhausted  Event = "budget_exhausted"
)

// transitions is the complete table. Stage can emit a generation failure
// because the normal incremental policy re-generates within the staging
// phase, and Run can emit a build failure because the timeout ladder
// rebuilds before each re-run.
var transitions = map[State]map[Event]State{
	StateGenerate: {
		EventGenerated:        StateStage,
		EventGenerationFailed: StateRetry,
	},
	StateStage: {
		EventStaged:           StateBuild,
		EventPatchFailed:      StateRetry,
		EventGenerationFailed: StateRetry,
	},
	StateBuild: {
		EventBuildOK:     StateRun,
		EventBuildFailed: StateRetry,
	},
	StateRun: {
		EventRunCompleted: StateEvaluate,
		EventRunTimedOut:  StateEvaluate,
		EventBuildFailed:  StateRetry,
	},
	StateEvaluate: {
		EventOutputMatched:    StateSuccess,
		EventOutputMismatched: StateRetry,
	},
	StateRetry: {
		EventBudgetRemaining: StateGenerate,
		EventBudgetExhausted: StateFailure,
	},
}

// Next resolves a transition. An event not defined for the state is a
// programming error surfaced loudly rather than a silent stall.
func Next(s State, e Event) (State, error) {
	row, ok := transitions[s]
	if !ok {
		return "", fmt.Errorf("no transitions from state %q", s)
	}
	next, ok := row[e]
	if !ok {
		return "", fmt.Errorf("event %q not valid in state %q", e, s)
	}
	return next, nil
}
