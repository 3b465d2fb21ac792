package messaging

import (
	"context"
)

// Queue represents an abstract message queue for any payload type
type Queue[T any] interface {
	// Publish adds a new message with payload to the queue
	Publish(ctx context.Context, t *T) error

	// Consume retrieves a single message from the queue, or nil when empty
	Consume(ctx context.Context) (Message[T], error)
}

// Message represents a message retrieved from a queue
type Message[T any] interface {
	// ID returns the message identifier
	ID() string

	// T returns the payload of this message
	T() *T

	// Ack acknowledges successful processing of this message
	Ack() error
}

// State represents the lifecycle position of a message.
type State string

const (
	// StateUnknown is reported for ids never published.
	StateUnknown State = ""
	// StatePending indicates a message is waiting to be processed
	StatePending State = "pending"
	// StateProcessing indicates a message is being processed
	StateProcessing State = "processing"
	// StateCompleted indicates a message was successfully processed
	StateCompleted State = "completed"
)

// Durable is a queue whose messages, including consumed but unacknowledged
// ones, survive a restart of the consuming process.
type Durable[T any] interface {
	Queue[T]

	// InFlight returns consumed messages that were not acknowledged, oldest
	// first. After a restart these are the messages being worked on
	// when the previous process died.
	InFlight(ctx context.Context) ([]Message[T], error)

	// Update persists payload changes of an in-flight message.
	Update(ctx context.Context, m Message[T]) error

	// State reports where the message with id currently is.
	State(ctx context.Context, id string) (State, error)

	// Stats counts messages per state.
	Stats(ctx context.Context) (map[State]int, error)
}

// Identified is implemented by payloads that carry their own message id.
// Durable queues use it so that publishing is idempotent per payload.
type Identified interface {
	MessageID() string
}
