package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer"
)

// DiagnosticLimit bounds the build output kept in a build failure.
const DiagnosticLimit = 4096

// Installer runs the configured installer commands.
type Installer struct {
	commands installer.Commands
	shell    *Shell
	fs       afs.Service
	logger   *slog.Logger
}

// Option customises an Installer.
type Option func(i *Installer)

// WithShell sets the shell used to run commands.
func WithShell(shell *Shell) Option {
	return func(i *Installer) { i.shell = shell }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) { i.logger = logger }
}

// NewInstaller creates an installer running commands.
func NewInstaller(commands installer.Commands, opts ...Option) (*Installer, error) {
	if err := commands.Validate(); err != nil {
		return nil, err
	}
	i := &Installer{commands: commands, fs: afs.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(i)
	}
	if i.shell == nil {
		i.shell = New(nil)
	}
	return i, nil
}

// Kind returns the installer kind.
func (i *Installer) Kind() installer.Kind { return i.commands.Kind }

// BuildAndInstall prepares dir and runs the build command in it.
func (i *Installer) BuildAndInstall(ctx context.Context, submissionID, dir string) error {
	if err := i.prepare(ctx, dir); err != nil {
		return model.NewInfrastructureError("prepare build dir", err)
	}
	command := strings.ReplaceAll(i.commands.Build, "{dir}", Quote(dir))
	output := &Output{}
	input := &Input{Workdir: dir, Commands: []string{command}, TimeoutMs: i.commands.TimeoutMs}
	i.logger.Info("building submission", "submission", submissionID, "command", command)
	if err := i.shell.Execute(ctx, input, output); err != nil {
		return model.NewInfrastructureError("run build", err)
	}
	if output.Failed() {
		return model.NewBuildFailure(submissionID, "build", output.Diagnostic(DiagnosticLimit),
			fmt.Errorf("exit status %d", output.Status))
	}
	return nil
}

// prepare applies the Makefile convention of the installer kind: a kernel
// build drops a stray top level Makefile, a module build gets the stock
// Makefile when the submission has none.
func (i *Installer) prepare(ctx context.Context, dir string) error {
	makefile := url.Join(url.Normalize(dir, file.Scheme), "Makefile")
	exists, err := i.fs.Exists(ctx, makefile)
	if err != nil {
		return err
	}
	switch i.commands.Kind {
	case installer.KindKernel:
		if exists {
			i.logger.Debug("removing top level Makefile", "dir", dir)
			return i.fs.Delete(ctx, makefile)
		}
	case installer.KindModule:
		if !exists && i.commands.Makefile != "" {
			i.logger.Debug("supplying stock Makefile", "dir", dir)
			return i.fs.Copy(ctx, url.Normalize(i.commands.Makefile, file.Scheme), makefile)
		}
	}
	return nil
}

// SwitchBootMode runs the boot mode command of mode. Module grading keeps the
// running kernel and has nothing to switch.
func (i *Installer) SwitchBootMode(ctx context.Context, mode model.Mode) error {
	command := i.commands.NormalBoot
	if mode == model.ModeTest {
		command = i.commands.TestBoot
	}
	if command == "" {
		return nil
	}
	return i.run(ctx, "switch boot mode", command)
}

// Reboot issues the reboot command.
func (i *Installer) Reboot(ctx context.Context) error {
	if err := i.shell.Close(); err != nil {
		i.logger.Warn("failed to close shell", "error", err)
	}
	return i.run(ctx, "reboot", i.commands.Reboot)
}

func (i *Installer) run(ctx context.Context, op, command string) error {
	output, err := i.shell.Run(ctx, command, time.Minute)
	if err != nil {
		return model.NewInfrastructureError(op, err)
	}
	if output.Failed() {
		return model.NewInfrastructureError(op, fmt.Errorf("%s: exit status %d: %s", command, output.Status, output.Diagnostic(512)))
	}
	return nil
}
