package orchestrator

// State is a phase of the grading state machine.
type State string

const (
	// StateNoRun is the entry state of every boot.
	StateNoRun            State = "NO_RUN"
	StateSelectSubmission State = "SELECT_SUBMISSION"
	// StatePrepare extracts, builds and installs the selected submission.
	StatePrepare     State = "PREPARE"
	StateAwaitReboot State = "AWAIT_REBOOT"
	StateRunTests    State = "RUN_TESTS"
	StateFinalize    State = "FINALIZE"
	// StateDrainEmpty is reached when the queue is exhausted.
	StateDrainEmpty State = "DRAIN_EMPTY"
	// StateHalted is reached on operator abort or when breaking for manual
	// testing.
	StateHalted State = "HALTED"
)

// Terminal reports whether no further step follows s within this boot.
func (s State) Terminal() bool {
	return s == StateDrainEmpty || s == StateHalted
}

func (s State) String() string { return string(s) }
