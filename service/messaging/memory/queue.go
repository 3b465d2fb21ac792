package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/viant/kgrader/internal/idgen"
	"github.com/viant/kgrader/service/messaging"
)

// Message implements messaging.Message for the in-memory queue
type Message[T any] struct {
	id        string
	payload   T
	queue     *Queue[T]
	mu        sync.Mutex
	processed bool
}

// ID returns the message identifier
func (m *Message[T]) ID() string {
	return m.id
}

// T returns the message payload
func (m *Message[T]) T() *T {
	return &m.payload
}

// Ack acknowledges the message as processed successfully
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.processed {
		return fmt.Errorf("message %s already processed", m.id)
	}
	m.processed = true
	m.queue.settle(m, messaging.StateCompleted)
	return nil
}

type entry[T any] struct {
	payload T
	state   messaging.State
}

// Queue implements an in-memory messaging.Durable queue. "Durable" holds for
// the life of the Queue value only; tests share one instance across
// simulated reboots.
type Queue[T any] struct {
	entries map[string]*entry[T]
	mu      sync.Mutex
}

// NewQueue creates a new in-memory queue
func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{entries: map[string]*entry[T]{}}
}

// Publish adds a new item to the queue; known ids are ignored.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("cannot publish nil payload")
	}
	id := idgen.New()
	if identified, ok := any(t).(messaging.Identified); ok && identified.MessageID() != "" {
		id = identified.MessageID()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[id]; ok {
		return nil
	}
	q.entries[id] = &entry[T]{payload: *t, state: messaging.StatePending}
	return nil
}

// Consume returns the oldest pending message, or nil when drained.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.idsIn(messaging.StatePending)
	if len(ids) == 0 {
		return nil, nil
	}
	e := q.entries[ids[0]]
	e.state = messaging.StateProcessing
	return q.message(ids[0], e), nil
}

// InFlight returns messages in processing.
func (q *Queue[T]) InFlight(ctx context.Context) ([]messaging.Message[T], error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var result []messaging.Message[T]
	for _, id := range q.idsIn(messaging.StateProcessing) {
		result = append(result, q.message(id, q.entries[id]))
	}
	return result, nil
}

// Update stores the payload of an in-flight message.
func (q *Queue[T]) Update(ctx context.Context, m messaging.Message[T]) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[m.ID()]
	if !ok || e.state != messaging.StateProcessing {
		return fmt.Errorf("message %s is not in flight", m.ID())
	}
	e.payload = *m.T()
	return nil
}

// State reports the state of id.
func (q *Queue[T]) State(ctx context.Context, id string) (messaging.State, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[id]; ok {
		return e.state, nil
	}
	return messaging.StateUnknown, nil
}

// Stats counts messages per state.
func (q *Queue[T]) Stats(ctx context.Context) (map[messaging.State]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	result := map[messaging.State]int{}
	for _, e := range q.entries {
		result[e.state]++
	}
	return result, nil
}

func (q *Queue[T]) message(id string, e *entry[T]) *Message[T] {
	return &Message[T]{id: id, payload: e.payload, queue: q}
}

func (q *Queue[T]) settle(m *Message[T], state messaging.State) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.entries[m.id]; ok {
		e.state = state
		e.payload = m.payload
	}
}

func (q *Queue[T]) idsIn(state messaging.State) []string {
	var ids []string
	for id, e := range q.entries {
		if e.state == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

var _ messaging.Durable[any] = (*Queue[any])(nil)
