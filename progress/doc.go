// Package progress keeps aggregated verdict counters (cases total, running,
// passed, failed, ...) for a single test run. The tracker lives in the run
// context so any component receiving the context can update it.
package progress
