package orchestrator

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/dao"
)

// Prompt offers the operator a bounded window to stop the grader.
type Prompt interface {
	// Wait returns true when the operator asked to stop within d.
	Wait(ctx context.Context, d time.Duration) (bool, error)
}

// ConsolePrompt stops the grader on a line typed on a terminal or on SIGINT
// or SIGTERM received during the window.
type ConsolePrompt struct {
	In  io.Reader
	Out io.Writer
	// Interactive forces reading In even when it is not a terminal.
	Interactive bool
}

// NewConsolePrompt prompts on the process terminal.
func NewConsolePrompt() *ConsolePrompt {
	return &ConsolePrompt{In: os.Stdin, Out: os.Stderr, Interactive: isatty.IsTerminal(os.Stdin.Fd())}
}

// Wait blocks for at most d.
func (p *ConsolePrompt) Wait(ctx context.Context, d time.Duration) (bool, error) {
	window, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	signals, stop := signal.NotifyContext(window, os.Interrupt, syscall.SIGTERM)
	defer stop()

	lines := make(chan error, 1)
	if p.Interactive && p.In != nil {
		if p.Out != nil {
			fmt.Fprintf(p.Out, "Press Enter within %s to stop the grader\n", d)
		}
		go func() {
			_, err := bufio.NewReader(p.In).ReadString('\n')
			lines <- err
		}()
	}
	select {
	case err := <-lines:
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return err == nil, nil
	case <-signals.Done():
		if window.Err() != nil {
			return false, ctx.Err()
		}
		return true, nil
	}
}

// PromptFunc adapts a function to Prompt.
type PromptFunc func(ctx context.Context, d time.Duration) (bool, error)

func (f PromptFunc) Wait(ctx context.Context, d time.Duration) (bool, error) { return f(ctx, d) }

// teardown removes the grader state and restores normal boot. The run ledger
// is left for inspection.
func (o *Orchestrator) teardown(ctx context.Context) error {
	if err := o.installer.SwitchBootMode(ctx, model.ModeNormal); err != nil {
		return fmt.Errorf("failed to restore normal boot: %w", err)
	}
	if err := o.stores.States.Delete(ctx, model.StateKey); err != nil && !errors.Is(err, dao.ErrNotFound) {
		return fmt.Errorf("failed to remove grader state: %w", err)
	}
	o.grader = nil
	return nil
}

// Init stores state and reboots into the first grading boot.
func (o *Orchestrator) Init(ctx context.Context, state *model.GraderState) error {
	state.Mode = model.ModeNormal
	if err := state.Validate(); err != nil {
		return err
	}
	if existing, err := dao.LoadOptional(ctx, o.stores.States, model.StateKey); err != nil {
		return model.NewInfrastructureError("load grader state", err)
	} else if existing != nil {
		o.logger.Warn("replacing existing grader state", "initializedAt", existing.InitializedAt)
	}
	now := clock.Now()
	state.InitializedAt, state.UpdatedAt = now, now
	if err := o.stores.States.Save(ctx, state); err != nil {
		return model.NewInfrastructureError("save grader state", err)
	}
	o.grader = state
	o.results.Info("Grader initialized", "submissions", state.SubmissionsPath, "suite", state.Suite)
	if err := o.installer.SwitchBootMode(ctx, model.ModeNormal); err != nil {
		return model.NewInfrastructureError("switch boot mode", err)
	}
	if _, err := o.reboot(ctx, StateNoRun); err != nil {
		return model.NewInfrastructureError("reboot", err)
	}
	return nil
}

// Reset tears the grader down without touching the queue or the ledger.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if err := o.teardown(ctx); err != nil {
		return model.NewInfrastructureError("reset", err)
	}
	o.results.Info("Grader reset")
	o.state = StateHalted
	return nil
}
