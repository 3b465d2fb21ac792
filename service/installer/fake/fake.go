// Package fake provides in-memory installer collaborators for tests and dry
// runs.
package fake

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer"
)

// Installer records calls instead of touching the machine.
type Installer struct {
	kind installer.Kind
	mu   sync.Mutex
	// Failures maps submission ids to build diagnostics.
	Failures map[string]string
	// Err, when set, is returned by every call.
	Err      error
	Builds   []string
	Modes    []model.Mode
	Reboots  int
	BootMode model.Mode
}

// New creates a fake installer of kind.
func New(kind installer.Kind) *Installer {
	return &Installer{kind: kind, Failures: map[string]string{}, BootMode: model.ModeNormal}
}

// Kind returns the configured kind.
func (i *Installer) Kind() installer.Kind { return i.kind }

// BuildAndInstall fails for ids listed in Failures.
func (i *Installer) BuildAndInstall(_ context.Context, submissionID, _ string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Err != nil {
		return i.Err
	}
	i.Builds = append(i.Builds, submissionID)
	if diagnostic, ok := i.Failures[submissionID]; ok {
		return model.NewBuildFailure(submissionID, "build", diagnostic, fmt.Errorf("exit status 2"))
	}
	return nil
}

// SwitchBootMode records mode.
func (i *Installer) SwitchBootMode(_ context.Context, mode model.Mode) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Err != nil {
		return i.Err
	}
	i.Modes = append(i.Modes, mode)
	i.BootMode = mode
	return nil
}

// Reboot counts reboots.
func (i *Installer) Reboot(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.Err != nil {
		return i.Err
	}
	i.Reboots++
	return nil
}

// Modules records module and device node operations.
type Modules struct {
	mu     sync.Mutex
	Loaded map[string][]string
	Nodes  map[string][2]int
	// FailLoad makes Load fail.
	FailLoad error
}

// NewModules creates fake module helpers.
func NewModules() *Modules {
	return &Modules{Loaded: map[string][]string{}, Nodes: map[string][2]int{}}
}

func (m *Modules) Load(_ context.Context, object string, params ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailLoad != nil {
		return m.FailLoad
	}
	m.Loaded[object] = params
	return nil
}

func (m *Modules) Unload(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for object := range m.Loaded {
		if moduleName(object) == name {
			delete(m.Loaded, object)
			return nil
		}
	}
	return fmt.Errorf("rmmod: module %s is not loaded", name)
}

func (m *Modules) MakeNode(_ context.Context, path string, major, minor int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Nodes[path]; ok {
		return fmt.Errorf("mknod: %s: file exists", path)
	}
	m.Nodes[path] = [2]int{major, minor}
	return nil
}

func (m *Modules) RemoveNode(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Nodes, path)
	return nil
}

// IsLoaded reports whether a module named name is loaded.
func (m *Modules) IsLoaded(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for object := range m.Loaded {
		if moduleName(object) == name {
			return true
		}
	}
	return false
}

func moduleName(object string) string {
	return strings.TrimSuffix(path.Base(object), ".ko")
}

var (
	_ installer.Installer = (*Installer)(nil)
	_ installer.Modules   = (*Modules)(nil)
)
