package taskqueue

import (
	"context"
	"sync"
	"time"
)

// InMemoryQueue is a non-durable Queue implementation backed by a slice.
// It is safe for concurrent use and honors NotBefore, which keeps delayed
// redelivery testable without a database.
type InMemoryQueue struct {
	mu           sync.Mutex
	tasks        []Task
	pollInterval time.Duration
}

// NewInMemoryQueue creates a new in-memory queue.
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		pollInterval: 5 * time.Millisecond,
	}
}

// Ensure InMemoryQueue implements Queue.
var _ Queue = (*InMemoryQueue)(nil)

func (q *InMemoryQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now()
	}
	if t.NotBefore.IsZero() {
		t.NotBefore = t.EnqueuedAt
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	return nil
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if t := q.claim(); t != nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// claim removes and returns the eligible task with the earliest NotBefore,
// or nil if none is eligible yet.
func (q *InMemoryQueue) claim() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	best := -1
	for i, t := range q.tasks {
		if t.NotBefore.After(now) {
			continue
		}
		if best == -1 || t.NotBefore.Before(q.tasks[best].NotBefore) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	t := q.tasks[best]
	q.tasks = append(q.tasks[:best], q.tasks[best+1:]...)
	return &t
}

func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}
