// Package installer defines the collaborator that turns an extracted
// submission into running kernel code and controls which kernel boots next.
package installer

import (
	"context"
	"fmt"

	"github.com/viant/kgrader/model"
)

// Kind selects how a submission is installed.
type Kind string

const (
	// KindKernel builds a patched kernel; tests run after booting into it.
	KindKernel Kind = "kernel"
	// KindModule builds a loadable module; tests run in the same boot.
	KindModule Kind = "module"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool { return k == KindKernel || k == KindModule }

// RebootsToTest reports whether testing needs a reboot into test mode.
func (k Kind) RebootsToTest() bool { return k == KindKernel }

// Installer builds and installs submissions and drives the boot loader.
type Installer interface {
	Kind() Kind
	// BuildAndInstall builds the submission in dir. A submission problem is
	// returned as *model.BuildFailure carrying the build diagnostic; any other
	// error means the installer itself is unusable.
	BuildAndInstall(ctx context.Context, submissionID, dir string) error
	// SwitchBootMode selects the kernel started by the next boot.
	SwitchBootMode(ctx context.Context, mode model.Mode) error
	// Reboot restarts the machine. It may return before the machine goes down.
	Reboot(ctx context.Context) error
}

// Modules loads kernel modules and manages device nodes for test cases.
type Modules interface {
	Load(ctx context.Context, object string, params ...string) error
	Unload(ctx context.Context, name string) error
	MakeNode(ctx context.Context, path string, major, minor int) error
	RemoveNode(ctx context.Context, path string) error
}

// Commands are the shell commands of an installer. "{dir}" in Build is
// replaced with the quoted submission directory.
type Commands struct {
	Kind Kind `yaml:"kind"`
	// Makefile is copied into module submissions that ship without one.
	Makefile   string `yaml:"makefile,omitempty"`
	Build      string `yaml:"build"`
	TestBoot   string `yaml:"testBoot,omitempty"`
	NormalBoot string `yaml:"normalBoot,omitempty"`
	Reboot     string `yaml:"reboot"`
	TimeoutMs  int    `yaml:"timeoutMs,omitempty"`
}

// DefaultCommands returns the stock commands of kind.
func DefaultCommands(kind Kind) Commands {
	switch kind {
	case KindModule:
		return Commands{
			Kind:      KindModule,
			Build:     "make -C {dir}",
			Reboot:    "reboot",
			TimeoutMs: 10 * 60 * 1000,
		}
	default:
		return Commands{
			Kind:       KindKernel,
			Build:      "/usr/local/lib/kgrader/build_kernel.sh {dir}",
			TestBoot:   "grub-set-default kgrader-test",
			NormalBoot: "grub-set-default 0",
			Reboot:     "reboot",
			TimeoutMs:  2 * 60 * 60 * 1000,
		}
	}
}

// Validate checks that the commands can drive kind.
func (c *Commands) Validate() error {
	if !c.Kind.Valid() {
		return fmt.Errorf("installer: unknown kind %q", c.Kind)
	}
	if c.Build == "" {
		return fmt.Errorf("installer: build command is required")
	}
	if c.Reboot == "" {
		return fmt.Errorf("installer: reboot command is required")
	}
	if c.Kind == KindKernel && (c.TestBoot == "" || c.NormalBoot == "") {
		return fmt.Errorf("installer: kernel grading requires boot mode commands")
	}
	return nil
}
