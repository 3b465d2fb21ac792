// Package shell runs installer and module commands through a local gosh
// session.
package shell

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/viant/gosh"
	"github.com/viant/gosh/runner"
	"github.com/viant/gosh/runner/local"
	"github.com/viant/kgrader/internal/clock"
)

// DefaultTimeout bounds a command without an explicit timeout.
const DefaultTimeout = time.Minute

// Shell executes commands in one long lived local shell.
type Shell struct {
	env     map[string]string
	service *gosh.Service
	mux     sync.Mutex
}

// New creates a shell; env is exported to every command.
func New(env map[string]string) *Shell {
	return &Shell{env: env}
}

// Execute runs input.Commands in order, stopping at the first failure unless
// AbortOnError is false. A non zero exit status is reported in output, not as
// an error.
func (s *Shell) Execute(ctx context.Context, input *Input, output *Output) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	service, err := s.session(ctx)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if input.Workdir != "" {
		if _, status, err := service.Run(ctx, "cd "+Quote(input.Workdir)); err != nil || status != 0 {
			if err == nil {
				err = fmt.Errorf("exit status %d", status)
			}
			return fmt.Errorf("failed to change directory to %s: %w", input.Workdir, err)
		}
	}
	for k, v := range input.Env {
		if _, _, err := service.Run(ctx, fmt.Sprintf("export %s=%s", k, Quote(v))); err != nil {
			return fmt.Errorf("failed to export %s: %w", k, err)
		}
	}

	timeout := time.Duration(input.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	var stdout, stderr strings.Builder
	for _, cmd := range input.Commands {
		command := s.executeCommand(ctx, service, cmd, timeout)
		output.Commands = append(output.Commands, command)
		if command.Output != "" {
			stdout.WriteString(command.Output)
			stdout.WriteString("\n")
		}
		if command.Stderr != "" {
			stderr.WriteString(command.Stderr)
			stderr.WriteString("\n")
		}
		output.Status = command.Status
		if input.abortOnError() && command.Status != 0 {
			break
		}
	}
	output.Stdout = strings.TrimSpace(stdout.String())
	output.Stderr = strings.TrimSpace(stderr.String())
	return nil
}

// Run executes one command and returns its output.
func (s *Shell) Run(ctx context.Context, command string, timeout time.Duration) (*Output, error) {
	output := &Output{}
	err := s.Execute(ctx, &Input{Commands: []string{command}, TimeoutMs: int(timeout.Milliseconds())}, output)
	return output, err
}

func (s *Shell) executeCommand(ctx context.Context, service *gosh.Service, command string, timeout time.Duration) *Command {
	started := clock.Now()
	stdout, status, err := service.Run(ctx, command, runner.WithTimeout(int(timeout.Milliseconds())))
	elapsed := clock.Since(started)
	if elapsed > timeout && err == nil {
		err = fmt.Errorf("command %v timed out after: %s", command, elapsed)
	}
	if err != nil && status == 0 {
		status = -1
	}
	result := &Command{Input: command, Status: status}
	if status == 0 {
		result.Output = stdout
		return result
	}
	if stdout == "" && err != nil {
		stdout = err.Error()
	}
	result.Stderr = stdout
	return result
}

func (s *Shell) session(ctx context.Context) (*gosh.Service, error) {
	if s.service != nil {
		return s.service, nil
	}
	var options []runner.Option
	if len(s.env) > 0 {
		options = append(options, runner.WithEnvironment(s.env))
	}
	service, err := gosh.New(ctx, local.New(options...))
	if err != nil {
		return nil, err
	}
	s.service = service
	return service, nil
}

// Close terminates the shell session.
func (s *Shell) Close() error {
	s.mux.Lock()
	defer s.mux.Unlock()
	if s.service == nil {
		return nil
	}
	err := s.service.Close()
	s.service = nil
	return err
}

// Quote single quotes value for the shell.
func Quote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
