// Package tracing records spans for test runs and individual cases. The
// grader installs a stdout exporter when a trace file is configured; without
// one every span is a no-op.
package tracing
