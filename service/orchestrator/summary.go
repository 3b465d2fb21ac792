package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"github.com/viant/kgrader/internal/clock"
	"gopkg.in/yaml.v3"
)

// SummaryFile is written next to the grade records when the queue drains.
const SummaryFile = "summary.yaml"

// Summary is the end of pass report.
type Summary struct {
	FinishedAt    time.Time      `yaml:"finishedAt"`
	BuildFailures int            `yaml:"buildFailures"`
	Entries       []SummaryEntry `yaml:"entries"`
}

// SummaryEntry is the grade of one submission.
type SummaryEntry struct {
	Submission  string  `yaml:"submission"`
	Submitters  string  `yaml:"submitters"`
	Score       float64 `yaml:"score"`
	MaxScore    float64 `yaml:"maxScore"`
	Percent     float64 `yaml:"percent"`
	BuildFailed bool    `yaml:"buildFailed,omitempty"`
	Reboots     int     `yaml:"reboots,omitempty"`
}

func (o *Orchestrator) summarize(ctx context.Context) (*Summary, error) {
	grades, err := o.stores.Grades.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list grades: %w", err)
	}
	stats, err := o.stores.Stats.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stats: %w", err)
	}
	reboots := map[string]int{}
	for _, stat := range stats {
		reboots[stat.SubmissionID] = stat.Reboots
	}
	summary := &Summary{FinishedAt: clock.Now()}
	for _, grade := range grades {
		if grade.BuildFailed {
			summary.BuildFailures++
		}
		summary.Entries = append(summary.Entries, SummaryEntry{
			Submission:  grade.SubmissionID,
			Submitters:  grade.Submitters.Key(),
			Score:       grade.Score,
			MaxScore:    grade.MaxScore,
			Percent:     grade.Percent(),
			BuildFailed: grade.BuildFailed,
			Reboots:     reboots[grade.SubmissionID],
		})
	}
	sort.Slice(summary.Entries, func(i, j int) bool {
		return summary.Entries[i].Submitters < summary.Entries[j].Submitters
	})
	return summary, nil
}

// Print writes a coloured score table to w.
func (s *Summary) Print(w io.Writer) {
	if w == nil {
		return
	}
	header := color.New(color.Bold)
	header.Fprintf(w, "%-32s %10s %8s %8s\n", "submitters", "score", "percent", "reboots")
	for _, entry := range s.Entries {
		line := color.New(color.FgGreen)
		switch {
		case entry.BuildFailed:
			line = color.New(color.FgRed, color.Bold)
		case entry.Percent < 50:
			line = color.New(color.FgRed)
		case entry.Percent < 100:
			line = color.New(color.FgYellow)
		}
		score := fmt.Sprintf("%g/%g", entry.Score, entry.MaxScore)
		if entry.BuildFailed {
			score = "build"
		}
		line.Fprintf(w, "%-32s %10s %7.1f%% %8d\n", entry.Submitters, score, entry.Percent, entry.Reboots)
	}
	fmt.Fprintf(w, "%d submission(s), %d build failure(s)\n", len(s.Entries), s.BuildFailures)
}

func (o *Orchestrator) writeSummaryFile(summary *Summary) error {
	if o.grader == nil || o.grader.GradesPath == "" {
		return nil
	}
	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}
	parent, _ := url.Split(url.Normalize(o.grader.GradesPath, file.Scheme), file.Scheme)
	location := url.Join(parent, SummaryFile)
	return afs.New().Upload(context.Background(), location, file.DefaultFileOsMode, bytes.NewReader(data))
}
