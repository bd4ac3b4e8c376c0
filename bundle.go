package strand

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/multierr"
	_ "modernc.org/sqlite"

	"github.com/strandkit/strand/internal/persistence"
	"github.com/strandkit/strand/internal/taskqueue"
	"github.com/strandkit/strand/pkg/dispatch"
)

var errAlreadyRunning = errors.New("strand: consumers already started")

// BundleConfig configures a durable bundle.
type BundleConfig struct {
	Engine EngineConfig

	// Consumers is the number of concurrent dispatch consumers started by
	// StartConsumers. Defaults to 1.
	Consumers int

	// RedeliveryDelay is how long a failed delivery waits before becoming
	// eligible again. Defaults to 100ms.
	RedeliveryDelay time.Duration
}

// Bundle wires together an Engine, a durable task queue, a dispatch
// service and a consumer worker sharing one SQLite database. Process
// instances, messages, audit log, correlations and queued events all
// survive a restart of the hosting process.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:strand.db?_journal=WAL")
//	bundle, err := strand.NewSQLiteBundle(db, strand.BundleConfig{})
//	// register shapes on bundle.Engine
//	_ = bundle.StartConsumers(ctx)
//	// hand out callbacks, send events via bundle.Dispatch
//	defer bundle.Close()
type Bundle struct {
	Engine       Engine
	Dispatch     *dispatch.Service
	Correlations *dispatch.CorrelationService
	Worker       *dispatch.Worker

	queue taskqueue.Queue
	db    *sql.DB // closed by Close only when the bundle opened it

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewSQLiteBundle constructs a durable Engine + queue + dispatch combo
// over the provided database. The caller keeps ownership of db.
func NewSQLiteBundle(db *sql.DB, cfg BundleConfig) (*Bundle, error) {
	return newSQLiteBundle(db, cfg, false)
}

// OpenSQLiteBundle opens (or creates) the SQLite database at path and
// builds a bundle over it. The database is closed by Bundle.Close.
func OpenSQLiteBundle(path string, cfg BundleConfig) (*Bundle, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_journal=WAL")
	if err != nil {
		return nil, err
	}
	b, err := newSQLiteBundle(db, cfg, true)
	if err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return b, nil
}

func newSQLiteBundle(db *sql.DB, cfg BundleConfig, owned bool) (*Bundle, error) {
	stores, err := persistence.NewSQLiteStores(db)
	if err != nil {
		return nil, err
	}
	queue, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return assembleBundle(stores, queue, cfg, db, owned), nil
}

func assembleBundle(stores persistence.Stores, queue taskqueue.Queue, cfg BundleConfig, db *sql.DB, owned bool) *Bundle {
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
		RedeliveryDelay: cfg.RedeliveryDelay,
		Logger:          logger,
	})

	b := &Bundle{
		Engine:       eng,
		Dispatch:     svc,
		Correlations: dispatch.NewCorrelationService(stores.Correlations, svc),
		Worker:       worker,
		queue:        queue,
	}
	if owned {
		b.db = db
	}
	return b
}

// StartConsumers starts the bundle's dispatch consumers. They run until
// Close (or StopConsumers) is called.
func (b *Bundle) StartConsumers(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return errAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	done := b.done
	go func() {
		defer close(done)
		_ = b.Worker.Run(ctx)
	}()
	return nil
}

// StopConsumers stops the dispatch consumers and waits for them to drain.
// It is idempotent.
func (b *Bundle) StopConsumers() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	cancel, done := b.cancel, b.done
	b.running = false
	b.cancel = nil
	b.done = nil
	b.mu.Unlock()

	cancel()
	<-done
}

// Close stops the consumers and releases any resources the bundle owns.
func (b *Bundle) Close() error {
	b.StopConsumers()

	var err error
	if b.db != nil {
		err = multierr.Append(err, b.db.Close())
	}
	return err
}
