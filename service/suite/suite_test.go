package suite

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/kgrader/service/testcase"
)

func init() {
	Register("suite-test", func(env *Env) ([]*testcase.Case, error) {
		var cases []*testcase.Case
		for _, name := range []string{"a", "b", "c"} {
			cases = append(cases, &testcase.Case{Name: env.Param("prefix", "") + name})
		}
		return cases, nil
	})
}

func names(cases []*testcase.Case) []string {
	var result []string
	for _, c := range cases {
		result = append(result, c.Name)
	}
	return result
}

func TestRegistry(t *testing.T) {
	assert.Contains(t, Names(), "suite-test")
	_, err := Lookup("missing")
	assert.Error(t, err)
	assert.Panics(t, func() {
		Register("suite-test", nil)
	})
}

func TestPlan_Apply(t *testing.T) {
	testCases := []struct {
		description string
		plan        string
		expect      []string
		timeouts    map[string]time.Duration
		points      map[string]float64
		expectErr   bool
	}{
		{
			description: "reorder and keep unlisted",
			plan:        "[[case]]\nname = \"c\"\ntimeout_ms = 1500\n",
			expect:      []string{"c", "a", "b"},
			timeouts:    map[string]time.Duration{"c": 1500 * time.Millisecond},
		},
		{
			description: "only listed, with skip and points",
			plan:        "only = true\n[[case]]\nname = \"b\"\npoints = 3\n[[case]]\nname = \"a\"\nskip = true\n",
			expect:      []string{"b"},
			points:      map[string]float64{"b": 3},
		},
		{
			description: "default timeout",
			plan:        "default_timeout_ms = 2000\n[[case]]\nname = \"a\"\ntimeout_ms = 100\n",
			expect:      []string{"a", "b", "c"},
			timeouts:    map[string]time.Duration{"a": 100 * time.Millisecond, "b": 2 * time.Second, "c": 2 * time.Second},
		},
		{
			description: "unknown case",
			plan:        "[[case]]\nname = \"z\"\n",
			expectErr:   true,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.description, func(t *testing.T) {
			plan, err := ParsePlan([]byte(testCase.plan))
			require.NoError(t, err)
			cases, err := Build("suite-test", &Env{}, plan)
			if testCase.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, testCase.expect, names(cases))
			for _, c := range cases {
				if expected, ok := testCase.timeouts[c.Name]; ok {
					assert.Equal(t, expected, c.Timeout, c.Name)
				}
				if expected, ok := testCase.points[c.Name]; ok {
					assert.Equal(t, expected, c.Points, c.Name)
				}
			}
		})
	}
}

func TestPlan_DoesNotMutateSuiteCases(t *testing.T) {
	original := []*testcase.Case{{Name: "a"}}
	plan := &Plan{DefaultTimeoutMs: 10, Cases: []PlanCase{{Name: "a", Points: 4}}}
	_, err := plan.Apply(original)
	require.NoError(t, err)
	assert.Zero(t, original[0].Timeout)
	assert.Zero(t, original[0].Points)
}

func TestLoadPlan(t *testing.T) {
	location := filepath.Join(t.TempDir(), "plan.toml")
	require.NoError(t, os.WriteFile(location, []byte("[params]\nprefix = \"x_\"\n[[case]]\nname = \"x_b\"\n"), 0o644))
	plan, err := LoadPlan(location)
	require.NoError(t, err)

	cases, err := Build("suite-test", &Env{}, plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"x_b", "x_a", "x_c"}, names(cases))

	_, err = ParsePlan([]byte("[[case]]\nname = \"a\"\n[[case]]\nname = \"a\"\n"))
	assert.Error(t, err)
	_, err = LoadPlan(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
