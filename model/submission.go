package model

import (
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Submitters is the identity set of the authors of one submission. It is kept
// sorted and free of duplicates so that it serialises deterministically.
type Submitters []string

// NewSubmitters builds a normalised identity set, dropping blanks and duplicates.
func NewSubmitters(ids ...string) Submitters {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			set.Add(id)
		}
	}
	ret := Submitters(set.ToSlice())
	sort.Strings(ret)
	return ret
}

// Set returns the identities as a set.
func (s Submitters) Set() mapset.Set[string] {
	return mapset.NewThreadUnsafeSet[string](s...)
}

// Equal reports whether both sets hold the same identities.
func (s Submitters) Equal(other Submitters) bool {
	return s.Set().Equal(other.Set())
}

// Key renders the set as a stable single string.
func (s Submitters) Key() string {
	return strings.Join(NewSubmitters(s...), "+")
}

// SubmissionRef identifies one homework submission in the queue.
type SubmissionRef struct {
	ID           string     `json:"id" yaml:"id"`
	Archive      string     `json:"archive" yaml:"archive"`
	Order        string     `json:"order" yaml:"order"`
	DiscoveredAt time.Time  `json:"discoveredAt" yaml:"discoveredAt"`
	Submitters   Submitters `json:"submitters,omitempty" yaml:"submitters,omitempty"`
	// PrepareAttempts counts PREPARE phases started for this submission.
	PrepareAttempts int `json:"prepareAttempts,omitempty" yaml:"prepareAttempts,omitempty"`
}

// MessageID keys the submission inside durable queues.
func (r *SubmissionRef) MessageID() string { return r.ID }

// Identity returns the submitter set, or the submission id when it is unknown.
func (r *SubmissionRef) Identity() Submitters {
	if len(r.Submitters) > 0 {
		return r.Submitters
	}
	return NewSubmitters(r.ID)
}
