package devicecheck

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/internal/logx"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer/fake"
	"github.com/viant/kgrader/service/rendezvous"
	"github.com/viant/kgrader/service/suite"
	"github.com/viant/kgrader/service/testcase"
)

func TestMain(m *testing.M) {
	rendezvous.Init()
	os.Exit(m.Run())
}

// newEnv points the suite at a regular file standing in for the device node.
func newEnv(t *testing.T, params map[string]string) (*suite.Env, *fake.Modules) {
	dir := t.TempDir()
	device := filepath.Join(dir, "hw1-dev")
	require.NoError(t, os.WriteFile(device, nil, 0o644))
	merged := map[string]string{"module": "hw1", "device": device}
	for k, v := range params {
		merged[k] = v
	}
	modules := fake.NewModules()
	return &suite.Env{SubmissionDir: dir, Params: merged, Modules: modules, Logger: logx.Discard()}, modules
}

func TestCases(t *testing.T) {
	ctx := context.Background()
	counter := filepath.Join(t.TempDir(), "allocs")
	require.NoError(t, os.WriteFile(counter, []byte("live: 3\n"), 0o644))

	testCases := []struct {
		description string
		params      map[string]string
		expect      []string
	}{
		{
			description: "without allocation counter",
			expect:      []string{"module_load_unload", "device_open_close", "concurrent_open"},
		},
		{
			description: "with allocation counter",
			params:      map[string]string{"counter": counter, "counter_field": "live"},
			expect:      []string{"module_load_unload", "device_open_close", "concurrent_open", "no_leak_after_child_exit"},
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			env, modules := newEnv(t, testCase.params)
			cases, err := suite.Build(Name, env, nil)
			require.NoError(t, err)

			runner := testcase.New(testcase.WithLogger(logx.Discard()))
			var names []string
			for _, c := range cases {
				names = append(names, c.Name)
				outcome := runner.Run(ctx, c)
				assert.Equal(t, model.VerdictPass, outcome.Verdict, "%s: %s", c.Name, outcome.Message)
			}
			assert.Equal(t, testCase.expect, names)
			assert.False(t, modules.IsLoaded("hw1"))
			assert.Empty(t, modules.Nodes)
		})
	}
}

func TestCases_MissingDevice(t *testing.T) {
	env, _ := newEnv(t, map[string]string{"device": filepath.Join(t.TempDir(), "missing")})
	cases, err := Cases(env)
	require.NoError(t, err)

	outcome := testcase.New(testcase.WithLogger(logx.Discard())).Run(context.Background(), cases[1])
	assert.Equal(t, model.VerdictFail, outcome.Verdict)
	assert.Contains(t, outcome.Message, "open")
}

func TestCases_LoadFailureIsSetupError(t *testing.T) {
	env, modules := newEnv(t, nil)
	modules.FailLoad = assert.AnError
	cases, err := Cases(env)
	require.NoError(t, err)

	outcome := testcase.New(testcase.WithLogger(logx.Discard())).Run(context.Background(), cases[1])
	assert.Equal(t, model.VerdictError, outcome.Verdict)
}

func TestCases_InvalidParams(t *testing.T) {
	env, _ := newEnv(t, map[string]string{"major": "x"})
	_, err := Cases(env)
	assert.Error(t, err)
}
