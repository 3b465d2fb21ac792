// Package submission discovers homework archives, hands them out one at a
// time through a durable queue and unpacks them for building.
package submission

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/internal/idgen"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/messaging"
)

// Extensions lists the archive suffixes picked up by Discover.
var Extensions = []string{".zip", ".tar"}

const primaryExtension = ".zip"

var (
	unsafeID = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	dotRuns  = regexp.MustCompile(`\.{2,}`)
)

// Queue hands out submissions in discovery order and never repeats one within
// a queue pass: a submission is either pending, selected (in flight) or
// completed, and the state lives on disk.
type Queue struct {
	fs     afs.Service
	queue  messaging.Durable[model.SubmissionRef]
	logger *slog.Logger
}

// QueueOption customises a Queue.
type QueueOption func(q *Queue)

// WithQueueFS sets the storage service used for discovery.
func WithQueueFS(fs afs.Service) QueueOption {
	return func(q *Queue) { q.fs = fs }
}

// WithQueueLogger sets the logger.
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) { q.logger = logger }
}

// NewQueue wraps a durable queue of submission references.
func NewQueue(queue messaging.Durable[model.SubmissionRef], opts ...QueueOption) *Queue {
	q := &Queue{queue: queue, logger: slog.Default()}
	for _, opt := range opts {
		opt(q)
	}
	if q.fs == nil {
		q.fs = afs.New()
	}
	return q
}

// Discover publishes every archive of folder not seen before and returns the
// number of new submissions. Archives are ordered by file name.
func (q *Queue) Discover(ctx context.Context, folder string) (int, error) {
	base := url.Normalize(folder, file.Scheme)
	objects, err := q.fs.List(ctx, base, option.NewRecursive(false))
	if err != nil {
		return 0, fmt.Errorf("failed to list submissions %s: %w", folder, err)
	}
	var names []string
	locations := map[string]string{}
	for _, obj := range objects {
		if obj.IsDir() || !IsArchive(obj.Name()) {
			continue
		}
		names = append(names, obj.Name())
		locations[obj.Name()] = obj.URL()
	}
	sort.Strings(names)

	added := 0
	claimed := map[string]string{}
	for _, name := range names {
		ref := &model.SubmissionRef{
			ID:           ID(name),
			Archive:      locations[name],
			Order:        name,
			DiscoveredAt: clock.Now(),
		}
		if other, ok := claimed[ref.ID]; ok {
			q.logger.Warn("submission id collision, archive skipped", "submission", ref.ID, "archive", name, "claimedBy", other)
			continue
		}
		claimed[ref.ID] = name
		state, err := q.queue.State(ctx, ref.ID)
		if err != nil {
			return added, err
		}
		if state != messaging.StateUnknown {
			continue
		}
		if err := q.queue.Publish(ctx, ref); err != nil {
			return added, fmt.Errorf("failed to enqueue %s: %w", name, err)
		}
		q.logger.Debug("discovered submission", "submission", ref.ID, "archive", ref.Archive)
		added++
	}
	return added, nil
}

// Next selects the next submission, or returns nil when none is left.
func (q *Queue) Next(ctx context.Context) (*model.SubmissionRef, error) {
	message, err := q.queue.Consume(ctx)
	if err != nil {
		return nil, err
	}
	if message == nil {
		return nil, nil
	}
	ref := *message.T()
	return &ref, nil
}

// Current returns the selected but not yet completed submission, if any.
func (q *Queue) Current(ctx context.Context) (*model.SubmissionRef, error) {
	inFlight, err := q.queue.InFlight(ctx)
	if err != nil {
		return nil, err
	}
	switch len(inFlight) {
	case 0:
		return nil, nil
	case 1:
		ref := *inFlight[0].T()
		return &ref, nil
	default:
		return nil, fmt.Errorf("%d submissions in flight, expected at most one", len(inFlight))
	}
}

// Update persists changes of the in-flight ref.
func (q *Queue) Update(ctx context.Context, ref *model.SubmissionRef) error {
	message, err := q.inFlight(ctx, ref.ID)
	if err != nil {
		return err
	}
	*message.T() = *ref
	return q.queue.Update(ctx, message)
}

// Complete marks ref graded. Completing an already completed submission is a
// no-op.
func (q *Queue) Complete(ctx context.Context, ref *model.SubmissionRef) error {
	state, err := q.queue.State(ctx, ref.ID)
	if err != nil {
		return err
	}
	if state == messaging.StateCompleted {
		return nil
	}
	message, err := q.inFlight(ctx, ref.ID)
	if err != nil {
		return err
	}
	return message.Ack()
}

// State reports the queue state of submission id.
func (q *Queue) State(ctx context.Context, id string) (messaging.State, error) {
	return q.queue.State(ctx, id)
}

// Stats counts submissions per queue state.
func (q *Queue) Stats(ctx context.Context) (map[messaging.State]int, error) {
	return q.queue.Stats(ctx)
}

func (q *Queue) inFlight(ctx context.Context, id string) (messaging.Message[model.SubmissionRef], error) {
	inFlight, err := q.queue.InFlight(ctx)
	if err != nil {
		return nil, err
	}
	for _, message := range inFlight {
		if message.ID() == id {
			return message, nil
		}
	}
	return nil, fmt.Errorf("submission %s is not in flight", id)
}

// IsArchive reports whether name has a supported archive suffix.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ID derives a submission id from an archive file name. A ".zip" archive
// whose name is made of letters, digits, '-', '_' and single dots is known by
// its stem; any other name gets a suffix derived from the whole file name, so
// "bob.zip", "bob.tar" and "bob .zip" never share an id.
func ID(name string) string {
	name = path.Base(name)
	stem := Stem(name)
	if name == stem+primaryExtension {
		return stem
	}
	return stem + "-" + idgen.Stable(name)
}

// Stem returns the archive name without extension, reduced to characters that
// are safe in ids and file names.
func Stem(name string) string {
	name = path.Base(name)
	lower := strings.ToLower(name)
	for _, ext := range Extensions {
		if strings.HasSuffix(lower, ext) {
			name = name[:len(name)-len(ext)]
			break
		}
	}
	stem := unsafeID.ReplaceAllString(name, "_")
	stem = dotRuns.ReplaceAllString(stem, ".")
	stem = strings.Trim(stem, "_.")
	if stem == "" {
		stem = "submission"
	}
	return stem
}
