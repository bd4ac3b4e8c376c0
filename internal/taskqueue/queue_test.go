package taskqueue

import (
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func init() {
	gob.Register(map[string]int{})
}

type queueFactory func(t *testing.T) Queue

func memoryQueue(t *testing.T) Queue {
	t.Helper()
	return NewInMemoryQueue()
}

func sqliteQueue(t *testing.T) Queue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func queueFactories() map[string]queueFactory {
	return map[string]queueFactory{
		"in-memory": memoryQueue,
		"sqlite":    sqliteQueue,
	}
}

func TestQueue_EnqueueDequeueOrder(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := factory(t)

			for _, id := range []string{"m-1", "m-2", "m-3"} {
				err := q.Enqueue(ctx, Task{
					ID:       id,
					Callback: "strand:p-1:fax",
					Event:    "onSent",
				})
				if err != nil {
					t.Fatalf("Enqueue failed: %v", err)
				}
			}
			if q.Len() != 3 {
				t.Fatalf("expected 3 queued tasks, got %d", q.Len())
			}

			for _, want := range []string{"m-1", "m-2", "m-3"} {
				task, err := q.Dequeue(ctx)
				if err != nil {
					t.Fatalf("Dequeue failed: %v", err)
				}
				if task.ID != want {
					t.Fatalf("expected %s, got %s", want, task.ID)
				}
				if task.Callback != "strand:p-1:fax" || task.Event != "onSent" {
					t.Fatalf("task did not round-trip: %+v", task)
				}
			}
			if q.Len() != 0 {
				t.Fatalf("expected an empty queue, got %d", q.Len())
			}
		})
	}
}

func TestQueue_PayloadRoundTrip(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := factory(t)

			err := q.Enqueue(ctx, Task{
				ID:       "m-1",
				Callback: "strand:p-1:fax",
				Event:    "onSent",
				Payload:  map[string]int{"pages": 3},
			})
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			task, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}
			payload, ok := task.Payload.(map[string]int)
			if !ok || payload["pages"] != 3 {
				t.Fatalf("payload did not round-trip: %#v", task.Payload)
			}
		})
	}
}

func TestQueue_NotBeforeDelaysDelivery(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := factory(t)

			delay := 60 * time.Millisecond
			err := q.Enqueue(ctx, Task{
				ID:        "m-delayed",
				Callback:  "strand:p-1:timer",
				Event:     "onTimeout",
				NotBefore: time.Now().Add(delay),
			})
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}
			err = q.Enqueue(ctx, Task{
				ID:       "m-now",
				Callback: "strand:p-1:fax",
				Event:    "onSent",
			})
			if err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			start := time.Now()
			first, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}
			if first.ID != "m-now" {
				t.Fatalf("delayed task jumped the queue: got %s", first.ID)
			}

			second, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}
			if second.ID != "m-delayed" {
				t.Fatalf("expected m-delayed, got %s", second.ID)
			}
			if elapsed := time.Since(start); elapsed < delay {
				t.Fatalf("delayed task delivered after %v, want at least %v", elapsed, delay)
			}
		})
	}
}

func TestQueue_RedeliveryKeepsIdentity(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			q := factory(t)

			if err := q.Enqueue(ctx, Task{ID: "m-1", Callback: "strand:p-1:fax", Event: "onSent"}); err != nil {
				t.Fatalf("Enqueue failed: %v", err)
			}

			task, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}

			// The consumer failed: re-enqueue with a delay, same id, one
			// more attempt.
			redelivery := *task
			redelivery.Attempts++
			redelivery.NotBefore = time.Now().Add(10 * time.Millisecond)
			if err := q.Enqueue(ctx, redelivery); err != nil {
				t.Fatalf("redelivery Enqueue failed: %v", err)
			}

			again, err := q.Dequeue(ctx)
			if err != nil {
				t.Fatalf("Dequeue failed: %v", err)
			}
			if again.ID != "m-1" {
				t.Fatalf("redelivery changed the message id: %s", again.ID)
			}
			if again.Attempts != 1 {
				t.Fatalf("expected attempts 1, got %d", again.Attempts)
			}
		})
	}
}

func TestQueue_DequeueHonorsContext(t *testing.T) {
	for name, factory := range queueFactories() {
		t.Run(name, func(t *testing.T) {
			q := factory(t)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			_, err := q.Dequeue(ctx)
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected DeadlineExceeded on an empty queue, got %v", err)
			}
		})
	}
}
