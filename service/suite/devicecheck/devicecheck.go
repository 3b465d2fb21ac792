// Package devicecheck is a generic suite for character device modules: the
// module loads and unloads, its device node opens, two processes can hold it
// open at once and an abandoned descriptor does not leak allocations.
//
// Parameters: module (module name, "hw"), object (module file, <dir>/<module>.ko),
// device (node path, /dev/<module>), major, minor, load_params (space
// separated), counter and counter_field (allocation counter file; the leak
// case is omitted without it).
package devicecheck

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/service/suite"
	"github.com/viant/kgrader/service/testcase"
	"github.com/viant/kgrader/service/tracker"
	"golang.org/x/sys/unix"
)

// Name is the registered suite name.
const Name = "devicecheck"

const (
	routineHold = "devicecheck-hold"
	routineLeak = "devicecheck-leak"
)

func init() {
	suite.Register(Name, Cases)
	registerRoutines()
}

type settings struct {
	module     string
	object     string
	device     string
	major      int
	minor      int
	loadParams []string
	counter    string
	field      string
}

func newSettings(env *suite.Env) (*settings, error) {
	s := &settings{module: env.Param("module", "hw")}
	s.object = env.Param("object", filepath.Join(env.SubmissionDir, s.module+".ko"))
	s.device = env.Param("device", "/dev/"+s.module)
	var err error
	if s.major, err = strconv.Atoi(env.Param("major", "250")); err != nil {
		return nil, fmt.Errorf("invalid major: %w", err)
	}
	if s.minor, err = strconv.Atoi(env.Param("minor", "0")); err != nil {
		return nil, fmt.Errorf("invalid minor: %w", err)
	}
	s.loadParams = strings.Fields(env.Param("load_params", ""))
	s.counter = env.Param("counter", "")
	s.field = env.Param("counter_field", "")
	return s, nil
}

// Cases builds the suite.
func Cases(env *suite.Env) ([]*testcase.Case, error) {
	s, err := newSettings(env)
	if err != nil {
		return nil, err
	}
	if env.Modules == nil {
		return nil, fmt.Errorf("devicecheck requires module helpers")
	}
	d := &driver{env: env, settings: s}
	cases := []*testcase.Case{
		{
			Name: "module_load_unload",
			Body: d.loadUnload,
		},
		{
			Name:     "device_open_close",
			Setup:    d.setup,
			Body:     d.openClose,
			Teardown: d.teardown,
		},
		{
			Name:     "concurrent_open",
			Points:   2,
			Setup:    d.setup,
			Body:     d.concurrentOpen,
			Teardown: d.teardown,
		},
	}
	if s.counter != "" {
		cases = append(cases, &testcase.Case{
			Name:     "no_leak_after_child_exit",
			Points:   2,
			Setup:    d.setup,
			Body:     d.noLeak,
			Teardown: d.teardown,
		})
	}
	return cases, nil
}

type driver struct {
	env *suite.Env
	*settings
}

func (d *driver) setup(t *testcase.T) error {
	if err := d.env.Modules.Load(t.Context(), d.object, d.loadParams...); err != nil {
		return fmt.Errorf("failed to load %s: %w", d.object, err)
	}
	if err := d.env.Modules.MakeNode(t.Context(), d.device, d.major, d.minor); err != nil {
		return fmt.Errorf("failed to create %s: %w", d.device, err)
	}
	return nil
}

func (d *driver) teardown(t *testcase.T) error {
	nodeErr := d.env.Modules.RemoveNode(t.Context(), d.device)
	if err := d.env.Modules.Unload(t.Context(), d.module); err != nil {
		return err
	}
	return nodeErr
}

func (d *driver) loadUnload(t *testcase.T) {
	require.NoError(t, d.env.Modules.Load(t.Context(), d.object, d.loadParams...), "insmod")
	require.NoError(t, d.env.Modules.Unload(t.Context(), d.module), "rmmod")
}

func (d *driver) openClose(t *testcase.T) {
	fd, err := unix.Open(d.device, unix.O_RDWR, 0)
	require.NoError(t, err, "open %s", d.device)
	require.NoError(t, unix.Close(fd), "close %s", d.device)
}

// concurrentOpen lets a child open the device first and keep it open while
// the parent opens and closes it.
func (d *driver) concurrentOpen(t *testcase.T) {
	fork, err := t.Fork(routineHold, []byte(d.device))
	require.NoError(t, err)

	require.NoError(t, fork.Sync(), "child did not open the device")
	fd, err := unix.Open(d.device, unix.O_RDWR, 0)
	require.NoError(t, err, "open %s while the child holds it", d.device)
	require.NoError(t, unix.Close(fd))
	require.NoError(t, fork.Release())

	code, err := fork.Finish()
	require.NoError(t, err, "child exited with %d", code)
}

// noLeak checks that the allocation counter returns to its baseline after a
// child exits without closing the device.
func (d *driver) noLeak(t *testcase.T) {
	counter := &tracker.FileCounter{Path: d.counter, Field: d.field}
	track := tracker.New(counter)
	require.NoError(t, track.Start(t.Context()))

	child, err := t.Spawn(routineLeak, []byte(d.device))
	require.NoError(t, err)
	code, err := child.WaitContext(t.Context())
	require.NoError(t, err, "child exited with %d", code)

	require.NoError(t, track.End(t.Context()))
	require.NoError(t, track.Validate(0, 0))
}
