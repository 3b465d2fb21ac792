package shell

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/viant/kgrader/service/installer"
)

// Modules loads modules and creates device nodes with insmod, rmmod and mknod.
type Modules struct {
	shell   *Shell
	timeout time.Duration
	logger  *slog.Logger
}

// NewModules creates a module helper sharing shell.
func NewModules(shell *Shell, logger *slog.Logger) *Modules {
	if logger == nil {
		logger = slog.Default()
	}
	return &Modules{shell: shell, timeout: 30 * time.Second, logger: logger}
}

// Load inserts the module object with params.
func (m *Modules) Load(ctx context.Context, object string, params ...string) error {
	args := []string{"insmod", Quote(object)}
	for _, param := range params {
		args = append(args, Quote(param))
	}
	return m.run(ctx, strings.Join(args, " "))
}

// Unload removes module name.
func (m *Modules) Unload(ctx context.Context, name string) error {
	return m.run(ctx, "rmmod "+Quote(name))
}

// MakeNode creates a character device node.
func (m *Modules) MakeNode(ctx context.Context, path string, major, minor int) error {
	return m.run(ctx, fmt.Sprintf("mknod %s c %d %d", Quote(path), major, minor))
}

// RemoveNode deletes a device node; a missing node is not an error.
func (m *Modules) RemoveNode(ctx context.Context, path string) error {
	return m.run(ctx, "rm -f "+Quote(path))
}

func (m *Modules) run(ctx context.Context, command string) error {
	output, err := m.shell.Run(ctx, command, m.timeout)
	if err != nil {
		return err
	}
	if output.Failed() {
		return fmt.Errorf("%s: exit status %d: %s", command, output.Status, output.Diagnostic(512))
	}
	m.logger.Debug("module command", "command", command)
	return nil
}

var _ installer.Modules = (*Modules)(nil)
var _ installer.Installer = (*Installer)(nil)
