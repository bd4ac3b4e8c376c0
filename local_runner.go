package strand

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/strandkit/strand/internal/persistence"
	"github.com/strandkit/strand/internal/taskqueue"
	"github.com/strandkit/strand/pkg/dispatch"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, a
// dispatch service and a consumer worker into a single process-local
// helper for development and tests.
//
// Typical usage:
//
//	runner := strand.NewLocalRunner()
//	shape.MustRegister(runner.Engine)
//	_ = runner.StartConsumers(ctx)
//
//	id, _ := runner.Engine.Start(ctx, shape.Name(), &state{}, nil)
//	_ = runner.SendEvent(ctx, strand.CallbackEvent{...})
//	...
//	runner.Stop()
//
// LocalRunner is intentionally not crash-durable; use a SQLite Bundle
// when instances must survive a restart.
type LocalRunner struct {
	Engine       Engine
	Queue        *taskqueue.InMemoryQueue
	Dispatch     *dispatch.Service
	Correlations *dispatch.CorrelationService
	Worker       *dispatch.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// LocalRunnerConfig tunes a LocalRunner. The zero value is usable.
type LocalRunnerConfig struct {
	Engine EngineConfig

	// Consumers is the number of concurrent dispatch consumers started by
	// StartConsumers. Defaults to 1.
	Consumers int

	// RedeliveryDelay defaults to 10ms, short enough for tests that
	// exercise the retry path.
	RedeliveryDelay time.Duration
}

// NewLocalRunner constructs a LocalRunner with default config.
func NewLocalRunner() *LocalRunner {
	return NewLocalRunnerWithConfig(LocalRunnerConfig{})
}

// NewLocalRunnerWithConfig constructs a LocalRunner with the given config.
func NewLocalRunnerWithConfig(cfg LocalRunnerConfig) *LocalRunner {
	stores := persistence.NewMemoryStores()
	queue := taskqueue.NewInMemoryQueue()

	delay := cfg.RedeliveryDelay
	if delay <= 0 {
		delay = 10 * time.Millisecond
	}

	logger := cfg.Engine.Logger
	if logger == nil {
		logger = slog.Default()
	}

	eng := newEngine(cfg.Engine, stores)
	svc := dispatch.NewService(queue, logger)
	worker := dispatch.NewWorker(dispatch.WorkerConfig{
		Queue:           queue,
		Resumer:         eng,
		Consumers:       cfg.Consumers,
		RedeliveryDelay: delay,
		Logger:          logger,
	})

	return &LocalRunner{
		Engine:       eng,
		Queue:        queue,
		Dispatch:     svc,
		Correlations: dispatch.NewCorrelationService(stores.Correlations, svc),
		Worker:       worker,
	}
}

// StartConsumers starts the runner's dispatch consumers. They run until
// Stop is called. Calling StartConsumers twice without Stop is an error.
func (r *LocalRunner) StartConsumers(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true

	done := r.done
	go func() {
		defer close(done)
		_ = r.Worker.Run(ctx)
	}()
	return nil
}

// SendEvent dispatches a callback event through the runner's queue.
func (r *LocalRunner) SendEvent(ctx context.Context, ev CallbackEvent) error {
	return r.Dispatch.SendEvent(ctx, ev)
}

// SendEventAt dispatches a callback event that becomes deliverable no
// earlier than at.
func (r *LocalRunner) SendEventAt(ctx context.Context, ev CallbackEvent, at time.Time) error {
	return r.Dispatch.SendEventAt(ctx, ev, at)
}

// Stop cancels the consumers and waits for them to exit. It is safe to
// call Stop without a prior StartConsumers, and to call it twice.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel = nil
	r.done = nil
	r.mu.Unlock()

	cancel()
	<-done
}
