package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/storage"
	"github.com/viant/afs/url"
	"github.com/viant/kgrader/internal/clock"
	"github.com/viant/kgrader/internal/idgen"
	"github.com/viant/kgrader/service/messaging"
)

// Message implements messaging.Message for the filesystem queue
type Message[T any] struct {
	MessageID string          `json:"id"`
	Data      T               `json:"data"`
	State     messaging.State `json:"state"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`

	queue     *Queue[T]
	processed bool
	mu        sync.Mutex
}

// ID returns the message identifier
func (m *Message[T]) ID() string {
	return m.MessageID
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.Data
}

// Ack acknowledges that the message was processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message %s already processed", m.MessageID)
	}
	m.State = messaging.StateCompleted
	m.UpdatedAt = clock.Now()
	if err := m.queue.transition(context.Background(), m, m.queue.processingDir, m.queue.completedDir); err != nil {
		return err
	}
	m.processed = true
	return nil
}

// QueueConfig holds configuration for filesystem queue
type QueueConfig struct {
	BasePath string // Base directory for queue files
}

// DefaultConfig returns a default queue configuration
func DefaultConfig() QueueConfig {
	return QueueConfig{
		BasePath: "/var/lib/kgrader/queue",
	}
}

// Queue implements a filesystem-based messaging.Durable queue. Each message is
// one JSON document; its directory is its state. Messages move between
// directories with afs Move, so a crash leaves each message in exactly one
// state directory. Documents that cannot be decoded are moved aside to the
// invalid directory.
type Queue[T any] struct {
	fs            afs.Service
	config        QueueConfig
	pendingDir    string
	processingDir string
	completedDir  string
	invalidDir    string
	mu            sync.Mutex
}

// NewQueue creates a new filesystem-based queue
func NewQueue[T any](fs afs.Service, config QueueConfig) (*Queue[T], error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	if fs == nil {
		fs = afs.New()
	}
	base := url.Normalize(config.BasePath, file.Scheme)
	q := &Queue[T]{
		fs:            fs,
		config:        config,
		pendingDir:    url.Join(base, string(messaging.StatePending)),
		processingDir: url.Join(base, string(messaging.StateProcessing)),
		completedDir:  url.Join(base, string(messaging.StateCompleted)),
		invalidDir:    url.Join(base, "invalid"),
	}

	ctx := context.Background()
	for _, dir := range q.dirs() {
		exists, _ := fs.Exists(ctx, dir)
		if !exists {
			if err := fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}
	return q, nil
}

func (q *Queue[T]) dirs() []string {
	return []string{q.pendingDir, q.processingDir, q.completedDir, q.invalidDir}
}

func (q *Queue[T]) stateDirs() map[messaging.State]string {
	return map[messaging.State]string{
		messaging.StatePending:    q.pendingDir,
		messaging.StateProcessing: q.processingDir,
		messaging.StateCompleted:  q.completedDir,
	}
}

// Publish adds a new message to the queue. Payloads implementing
// messaging.Identified keep their id; publishing an id that already exists in
// any state is a no-op.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if t == nil {
		return fmt.Errorf("cannot publish nil payload")
	}
	id := idgen.New()
	if identified, ok := any(t).(messaging.Identified); ok && identified.MessageID() != "" {
		id = identified.MessageID()
	}
	if strings.ContainsAny(id, "/\\") {
		return fmt.Errorf("invalid message id %q", id)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	state, err := q.state(ctx, id)
	if err != nil {
		return err
	}
	if state != messaging.StateUnknown {
		return nil
	}
	now := clock.Now()
	message := &Message[T]{
		MessageID: id,
		Data:      *t,
		State:     messaging.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return q.write(ctx, url.Join(q.pendingDir, q.generateFilename(id)), message)
}

// Consume moves the oldest pending message to processing and returns it. It
// returns nil, nil when the queue is drained.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	objects, err := q.listMessages(ctx, q.pendingDir)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	obj := objects[0]
	message, err := q.readMessageFromURL(ctx, obj.URL())
	if err != nil {
		_ = q.fs.Move(ctx, obj.URL(), url.Join(q.invalidDir, obj.Name()))
		return nil, err
	}
	message.State = messaging.StateProcessing
	message.UpdatedAt = clock.Now()
	if err := q.move(ctx, message, q.pendingDir, q.processingDir); err != nil {
		return nil, err
	}
	return message, nil
}

// InFlight returns messages left in the processing directory.
func (q *Queue[T]) InFlight(ctx context.Context) ([]messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	objects, err := q.listMessages(ctx, q.processingDir)
	if err != nil {
		return nil, err
	}
	var result []messaging.Message[T]
	for _, obj := range objects {
		message, err := q.readMessageFromURL(ctx, obj.URL())
		if err != nil {
			return nil, err
		}
		result = append(result, message)
	}
	return result, nil
}

// Update rewrites the processing document of an in-flight message.
func (q *Queue[T]) Update(ctx context.Context, m messaging.Message[T]) error {
	message, ok := m.(*Message[T])
	if !ok || message.queue != q {
		return fmt.Errorf("message %s does not belong to this queue", m.ID())
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	message.UpdatedAt = clock.Now()
	return q.write(ctx, url.Join(q.processingDir, q.generateFilename(message.MessageID)), message)
}

// State reports the state directory holding id.
func (q *Queue[T]) State(ctx context.Context, id string) (messaging.State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state(ctx, id)
}

func (q *Queue[T]) state(ctx context.Context, id string) (messaging.State, error) {
	filename := q.generateFilename(id)
	for state, dir := range q.stateDirs() {
		exists, err := q.fs.Exists(ctx, url.Join(dir, filename))
		if err != nil {
			return messaging.StateUnknown, fmt.Errorf("failed to check message %s: %w", id, err)
		}
		if exists {
			return state, nil
		}
	}
	return messaging.StateUnknown, nil
}

// Stats counts messages per state directory.
func (q *Queue[T]) Stats(ctx context.Context) (map[messaging.State]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := map[messaging.State]int{}
	for state, dir := range q.stateDirs() {
		objects, err := q.listMessages(ctx, dir)
		if err != nil {
			return nil, err
		}
		result[state] = len(objects)
	}
	return result, nil
}

// transition moves a message between state directories under the queue lock.
func (q *Queue[T]) transition(ctx context.Context, m *Message[T], from, to string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.move(ctx, m, from, to)
}

// move renames the document first and rewrites it in place afterwards: a crash
// in between leaves the message in the right directory with a stale body.
func (q *Queue[T]) move(ctx context.Context, m *Message[T], from, to string) error {
	filename := q.generateFilename(m.MessageID)
	source := url.Join(from, filename)
	dest := url.Join(to, filename)
	if err := q.fs.Move(ctx, source, dest); err != nil {
		return fmt.Errorf("failed to move message %s to %s: %w", m.MessageID, to, err)
	}
	m.queue = q
	return q.write(ctx, dest, m)
}

// Helper methods to abstract common operations

// generateFilename generates a consistent filename for a message
func (q *Queue[T]) generateFilename(id string) string {
	return fmt.Sprintf("%s.json", id)
}

// write atomically replaces the document at location.
func (q *Queue[T]) write(ctx context.Context, location string, m *Message[T]) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal message %s: %w", m.MessageID, err)
	}
	temp := location + ".tmp-" + idgen.Short()
	if err := q.fs.Upload(ctx, temp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write message %s: %w", m.MessageID, err)
	}
	if err := q.fs.Move(ctx, temp, location); err != nil {
		_ = q.fs.Delete(ctx, temp)
		return fmt.Errorf("failed to commit message %s: %w", m.MessageID, err)
	}
	return nil
}

// listMessages returns message documents of dir ordered by file name.
func (q *Queue[T]) listMessages(ctx context.Context, dir string) ([]storage.Object, error) {
	objects, err := q.fs.List(ctx, dir, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var result []storage.Object
	for _, obj := range objects {
		if !obj.IsDir() && strings.HasSuffix(obj.Name(), ".json") {
			result = append(result, obj)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result, nil
}

// readMessageFromURL reads and unmarshals a message
func (q *Queue[T]) readMessageFromURL(ctx context.Context, location string) (*Message[T], error) {
	data, err := q.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read message %s: %w", location, err)
	}
	var message Message[T]
	if err := json.Unmarshal(data, &message); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", location, err)
	}
	message.queue = q
	return &message, nil
}

// ensure Queue implements messaging.Durable interface
var _ messaging.Durable[any] = (*Queue[any])(nil)
