package suite

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/viant/kgrader/service/testcase"
)

// PlanCase selects and tunes one case.
type PlanCase struct {
	Name      string  `toml:"name"`
	TimeoutMs int     `toml:"timeout_ms"`
	Points    float64 `toml:"points"`
	Skip      bool    `toml:"skip"`
}

// Plan orders cases and overrides their limits.
//
//	default_timeout_ms = 5000
//	only = false
//
//	[params]
//	module = "hw1"
//
//	[[case]]
//	name = "open_close"
//	timeout_ms = 3000
//	points = 2
type Plan struct {
	DefaultTimeoutMs int `toml:"default_timeout_ms"`

	// Only drops cases the plan does not list.
	Only   bool              `toml:"only"`
	Params map[string]string `toml:"params"`
	Cases  []PlanCase        `toml:"case"`
}

// LoadPlan reads a TOML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a TOML plan.
func ParsePlan(data []byte) (*Plan, error) {
	var plan Plan
	if err := toml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	seen := map[string]bool{}
	for _, c := range plan.Cases {
		if c.Name == "" {
			return nil, fmt.Errorf("plan case without name")
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("plan lists case %q twice", c.Name)
		}
		seen[c.Name] = true
	}
	return &plan, nil
}

// Apply orders cases as listed by the plan, then appends unlisted cases in
// their original order unless Only is set. Listing an unknown case is an error.
func (p *Plan) Apply(cases []*testcase.Case) ([]*testcase.Case, error) {
	byName := map[string]*testcase.Case{}
	for _, c := range cases {
		byName[c.Name] = c
	}
	listed := map[string]bool{}
	var result []*testcase.Case
	for _, planned := range p.Cases {
		c, ok := byName[planned.Name]
		if !ok {
			return nil, fmt.Errorf("plan lists unknown case %q", planned.Name)
		}
		listed[planned.Name] = true
		if planned.Skip {
			continue
		}
		tuned := *c
		if planned.TimeoutMs > 0 {
			tuned.Timeout = time.Duration(planned.TimeoutMs) * time.Millisecond
		}
		if planned.Points > 0 {
			tuned.Points = planned.Points
		}
		result = append(result, &tuned)
	}
	if !p.Only {
		for _, c := range cases {
			if !listed[c.Name] {
				result = append(result, c)
			}
		}
	}
	if p.DefaultTimeoutMs > 0 {
		for i, c := range result {
			if c.Timeout == 0 {
				tuned := *c
				tuned.Timeout = time.Duration(p.DefaultTimeoutMs) * time.Millisecond
				result[i] = &tuned
			}
		}
	}
	return result, nil
}
