package strand

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/strandkit/strand/internal/engine"
	"github.com/strandkit/strand/internal/persistence"
	"github.com/strandkit/strand/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Status               = api.Status
	MessageStatus        = api.MessageStatus
	ProcessInfo          = api.ProcessInfo
	ProcessMessage       = api.ProcessMessage
	ProcessLogEntry      = api.ProcessLogEntry
	ProcessListOptions   = api.ProcessListOptions
	CallbackInfo         = api.CallbackInfo
	CallbackEvent        = api.CallbackEvent
	CallbackFactory      = api.CallbackFactory
	Node                 = api.Node
	ReceiveSpec          = api.ReceiveSpec
	ParallelSpec         = api.ParallelSpec
	JoinKind             = api.JoinKind
	ShapeDefinition      = api.ShapeDefinition
	ProcessDefinition    = api.ProcessDefinition
	ActionFunc           = api.ActionFunc
	ProcessContext       = api.ProcessContext
	LogKind              = api.LogKind
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	ParseCallbackInfo    = api.ParseCallbackInfo
)

// Re-export status values for convenience.

const (
	StatusActive   = api.StatusActive
	StatusComplete = api.StatusComplete
	StatusFrozen   = api.StatusFrozen

	MessageNew       = api.MessageNew
	MessageProcessed = api.MessageProcessed
	MessageFailed    = api.MessageFailed
	MessageFrozen    = api.MessageFrozen

	JoinAnd = api.JoinAnd
	JoinOr  = api.JoinOr

	LogStart           = api.LogStart
	LogResume          = api.LogResume
	LogComplete        = api.LogComplete
	LogFailure         = api.LogFailure
	LogFreeze          = api.LogFreeze
	LogThaw            = api.LogThaw
	LogBranchCancelled = api.LogBranchCancelled
	LogFrozenConsumed  = api.LogFrozenConsumed
)

// Sentinel errors surfaced by the engine, re-exported so callers can test
// against them without importing internal packages.

var (
	ErrProcessNotFound    = persistence.ErrProcessNotFound
	ErrLockNotAcquired    = engine.ErrLockNotAcquired
	ErrNoFrozenMessage    = engine.ErrNoFrozenMessage
	ErrDefinitionMismatch = engine.ErrDefinitionMismatch
	ErrWrongManager       = engine.ErrWrongManager
)

// Engine is the public surface of the process manager: registration of
// process definitions, the lifecycle operations, and read access to
// instances and their audit trail.
type Engine interface {
	api.CallbackFactory

	// Name returns the manager identity stamped into callbacks.
	Name() string

	RegisterProcess(def ProcessDefinition) error

	// Start creates a new instance of the named shape, runs it until it
	// parks or completes, and returns the process id.
	Start(ctx context.Context, shape string, state, args any) (string, error)

	// Resume routes a callback event to its wait point. It is normally
	// invoked by the dispatch consumer, not by application code.
	Resume(ctx context.Context, ev CallbackEvent) error

	// Thaw replays the most recent frozen message of a process.
	Thaw(ctx context.Context, processID string) error

	GetProcess(ctx context.Context, id string) (*ProcessInfo, error)
	ListProcesses(ctx context.Context, opts ProcessListOptions) ([]*ProcessInfo, error)
	ProcessLog(ctx context.Context, id string) ([]ProcessLogEntry, error)
}

// EngineConfig tunes an engine constructor. The zero value is usable.
type EngineConfig struct {
	// Name is the manager identity. Defaults to "strand".
	Name string

	// MaxRetries bounds delivery attempts per message before it freezes.
	// Defaults to 3.
	MaxRetries int

	// LockTTL is the lease duration of the per-instance row lock.
	// Defaults to 30s.
	LockTTL time.Duration

	Observer Observer
	Logger   *slog.Logger
}

// Engine constructors. These wrap the internal engine package so external
// callers never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return NewInMemoryEngineWithConfig(EngineConfig{})
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given
// Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return NewInMemoryEngineWithConfig(EngineConfig{Observer: obs})
}

// NewInMemoryEngineWithConfig returns an in-memory Engine with the given
// configuration.
func NewInMemoryEngineWithConfig(cfg EngineConfig) Engine {
	return engine.New(engineConfig(cfg, persistence.NewMemoryStores()))
}

// NewSQLiteEngine returns an Engine that persists process instances,
// messages, logs and correlations in a SQLite database. Process
// definitions are kept in-memory and must be registered on startup.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return NewSQLiteEngineWithConfig(db, EngineConfig{})
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the
// given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return NewSQLiteEngineWithConfig(db, EngineConfig{Observer: obs})
}

// NewSQLiteEngineWithConfig returns a SQLite-backed Engine with the given
// configuration.
func NewSQLiteEngineWithConfig(db *sql.DB, cfg EngineConfig) (Engine, error) {
	stores, err := persistence.NewSQLiteStores(db)
	if err != nil {
		return nil, err
	}
	return engine.New(engineConfig(cfg, stores)), nil
}

func newEngine(cfg EngineConfig, stores persistence.Stores) Engine {
	return engine.New(engineConfig(cfg, stores))
}

func engineConfig(cfg EngineConfig, stores persistence.Stores) engine.Config {
	return engine.Config{
		Name:       cfg.Name,
		Stores:     stores,
		MaxRetries: cfg.MaxRetries,
		LockTTL:    cfg.LockTTL,
		Observer:   cfg.Observer,
		Logger:     cfg.Logger,
	}
}
