package shell

import "strings"

// Command is the result of one command.
type Command struct {
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
	Stderr string `json:"stderr,omitempty"`
	Status int    `json:"status,omitempty"`
}

// Output is the result of a batch.
type Output struct {
	Commands []*Command `json:"commands,omitempty"`
	Stdout   string     `json:"stdout,omitempty"`
	Stderr   string     `json:"stderr,omitempty"`
	Status   int        `json:"status,omitempty"`
}

// Failed reports whether the last command exited non zero.
func (o *Output) Failed() bool { return o.Status != 0 }

// Diagnostic returns the tail of the combined output, at most limit bytes.
func (o *Output) Diagnostic(limit int) string {
	text := strings.TrimSpace(strings.TrimSpace(o.Stdout + "\n" + o.Stderr))
	if limit > 0 && len(text) > limit {
		text = "..." + text[len(text)-limit:]
	}
	return text
}
