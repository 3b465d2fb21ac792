// Package suite keeps the registry of grading suites. A suite is Go code
// compiled into the grader that turns an extracted submission into an ordered
// list of cases.
package suite

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/viant/kgrader/service/installer"
	"github.com/viant/kgrader/service/testcase"
)

// Env is what a suite gets to build its cases.
type Env struct {
	// SubmissionDir holds the extracted and built submission.
	SubmissionDir string
	// Params are free form suite settings from the plan file.
	Params  map[string]string
	Modules installer.Modules
	Logger  *slog.Logger
}

// Param returns the named parameter or fallback.
func (e *Env) Param(name, fallback string) string {
	if value, ok := e.Params[name]; ok && value != "" {
		return value
	}
	return fallback
}

// Factory builds the cases of a suite.
type Factory func(env *Env) ([]*testcase.Case, error)

var (
	registry   = map[string]Factory{}
	registryMu sync.RWMutex
)

// Register adds a suite; registering a name twice panics.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("suite %q registered twice", name))
	}
	registry[name] = factory
}

// Lookup returns the factory registered under name.
func Lookup(name string) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	factory, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown suite %q", name)
	}
	return factory, nil
}

// Names lists registered suites.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the cases of suite name for env and applies plan, which may
// be nil. The result must be identical on every boot of a run: the run ledger
// addresses cases by position.
func Build(name string, env *Env, plan *Plan) ([]*testcase.Case, error) {
	factory, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if plan != nil && len(plan.Params) > 0 {
		params := map[string]string{}
		for k, v := range plan.Params {
			params[k] = v
		}
		for k, v := range env.Params {
			params[k] = v
		}
		env.Params = params
	}
	cases, err := factory(env)
	if err != nil {
		return nil, fmt.Errorf("failed to build suite %s: %w", name, err)
	}
	if plan == nil {
		return cases, nil
	}
	return plan.Apply(cases)
}
