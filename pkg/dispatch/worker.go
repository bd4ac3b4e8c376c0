package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/strandkit/strand/internal/engine"
	"github.com/strandkit/strand/internal/persistence"
	"github.com/strandkit/strand/internal/taskqueue"
	"github.com/strandkit/strand/pkg/api"
)

// WorkerConfig configures a consumer Worker.
type WorkerConfig struct {
	Queue   taskqueue.Queue
	Resumer Resumer

	// Consumers is the number of concurrent dequeue loops. Defaults to 1.
	Consumers int

	// RedeliveryDelay is how long a task waits before becoming eligible
	// again after a failed resume or lock contention. Defaults to 100ms.
	RedeliveryDelay time.Duration

	Logger *slog.Logger
}

// Worker consumes tasks from the queue and drives Manager.Resume.
//
// A task whose resume fails retryably is re-enqueued with the redelivery
// delay, the same message id and an incremented attempt count; the manager
// side caps the chain by freezing the message at its retry budget. Lock
// contention follows the same path: it is redelivery, not failure.
type Worker struct {
	queue     taskqueue.Queue
	resumer   Resumer
	consumers int
	delay     time.Duration
	logger    *slog.Logger
}

// NewWorker creates a consumer worker.
func NewWorker(cfg WorkerConfig) *Worker {
	consumers := cfg.Consumers
	if consumers <= 0 {
		consumers = 1
	}
	delay := cfg.RedeliveryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:     cfg.Queue,
		resumer:   cfg.Resumer,
		consumers: consumers,
		delay:     delay,
		logger:    logger,
	}
}

// Run blocks, consuming tasks until ctx is cancelled. It returns ctx's
// error once every consumer has drained.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.consumers; i++ {
		g.Go(func() error {
			for {
				if _, err := w.ProcessOne(ctx); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}

// ProcessOne dequeues and processes a single task. It returns
// processed=false only when the dequeue itself failed (typically context
// cancellation); a task whose resume failed still counts as processed,
// with redelivery handled here.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}

	cb, err := api.ParseCallbackInfo(task.Callback)
	if err != nil {
		// A task that cannot even be addressed will never succeed; drop it
		// rather than loop forever.
		w.logger.ErrorContext(ctx, "undeliverable task dropped",
			slog.String("callback", task.Callback),
			slog.Any("error", err),
		)
		return true, nil
	}

	ev := api.CallbackEvent{
		Callback:  cb,
		Event:     task.Event,
		Payload:   task.Payload,
		MessageID: task.ID,
	}

	rerr := w.resumer.Resume(ctx, ev)
	if rerr == nil {
		return true, nil
	}

	if undeliverable(rerr) {
		w.logger.ErrorContext(ctx, "undeliverable task dropped",
			slog.String("callback", task.Callback),
			slog.String("message_id", task.ID),
			slog.Any("error", rerr),
		)
		return true, nil
	}

	if errors.Is(rerr, engine.ErrLockNotAcquired) {
		w.logger.DebugContext(ctx, "lock contention, task redelivered",
			slog.String("callback", task.Callback),
			slog.String("message_id", task.ID),
		)
	} else {
		w.logger.WarnContext(ctx, "resume failed, task redelivered",
			slog.String("callback", task.Callback),
			slog.String("message_id", task.ID),
			slog.Int("attempts", task.Attempts+1),
			slog.Any("error", rerr),
		)
	}

	redelivery := *task
	redelivery.Attempts++
	redelivery.NotBefore = time.Now().Add(w.delay)
	if qerr := w.queue.Enqueue(ctx, redelivery); qerr != nil {
		return true, qerr
	}
	return true, nil
}

// undeliverable reports whether no amount of redelivery can make the task
// succeed. Retryable failures bump the message's attempt count on the
// manager side and eventually freeze, which bounds their redelivery chain;
// these failures happen before that bookkeeping exists and must be cut
// here instead.
func undeliverable(err error) bool {
	return errors.Is(err, persistence.ErrProcessNotFound) ||
		errors.Is(err, engine.ErrWrongManager) ||
		errors.Is(err, engine.ErrDefinitionNotFound) ||
		errors.Is(err, engine.ErrDefinitionMismatch)
}
