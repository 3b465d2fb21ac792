package model

import (
	"fmt"
	"time"
)

// Mode tells a booting grader whether it should build and install the next
// submission or run tests against the one already installed.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeTest   Mode = "test"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeNormal || m == ModeTest
}

// GraderState is the durable, process wide configuration written once by an
// explicit init and read on every boot. Only an explicit reset removes it.
type GraderState struct {
	SubmissionsPath string    `yaml:"submissionsPath"`
	QueuePath       string    `yaml:"queuePath"`
	WorkPath        string    `yaml:"workPath"`
	TempPath        string    `yaml:"tempPath"`
	ResultsPath     string    `yaml:"resultsPath"`
	GradesPath      string    `yaml:"gradesPath"`
	StatsPath       string    `yaml:"statsPath"`
	OutcomesPath    string    `yaml:"outcomesPath"`
	Suite           string    `yaml:"suite"`
	PlanPath        string    `yaml:"planPath,omitempty"`
	Installer       string    `yaml:"installer"`
	Mode            Mode      `yaml:"mode"`
	// Break halts before testing so that the installed submission can be
	// tested by hand.
	Break         bool      `yaml:"break,omitempty"`
	InitializedAt time.Time `yaml:"initializedAt"`
	UpdatedAt     time.Time `yaml:"updatedAt"`
}

// StateKey is the single key the grader state is stored under.
const StateKey = "grader"

// Key returns the storage key.
func (s *GraderState) Key() string { return StateKey }

// Validate checks required locations.
func (s *GraderState) Validate() error {
	if s == nil {
		return fmt.Errorf("grader state is nil")
	}
	if s.QueuePath == "" {
		return fmt.Errorf("grader state: queuePath is required")
	}
	if s.WorkPath == "" {
		return fmt.Errorf("grader state: workPath is required")
	}
	if s.Suite == "" {
		return fmt.Errorf("grader state: suite is required")
	}
	if !s.Mode.Valid() {
		return fmt.Errorf("grader state: invalid mode %q", s.Mode)
	}
	return nil
}
