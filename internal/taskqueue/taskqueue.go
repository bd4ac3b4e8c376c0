package taskqueue

import (
	"context"
	"time"
)

// Task is one queued callback-event delivery. The queue is the durable,
// at-least-once transport between the dispatch layer and the process
// manager: a consumed task whose resume fails is re-enqueued with a delay,
// carrying the same message id and an incremented attempt count.
type Task struct {
	// ID is the message id stamped on first enqueue and preserved across
	// redeliveries.
	ID string

	// Callback is the encoded CallbackInfo string.
	Callback string

	// Event is the event name fired against the callback's control.
	Event string

	// Payload is the event payload. It must be gob-encodable.
	Payload any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible for
	// processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time

	// Attempts counts prior deliveries of this task.
	Attempts int
}

// Queue is the durable task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next eligible task, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
