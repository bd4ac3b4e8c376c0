package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the process engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay process execution.
type Observer interface {
	// OnProcessStart is called once when a process instance is first
	// started, before the initial firing pass.
	OnProcessStart(ctx context.Context, info *ProcessInfo)

	// OnProcessResumed is called when a resume acquired the instance lock
	// and is about to fire the given wait id.
	OnProcessResumed(ctx context.Context, info *ProcessInfo, waitID string)

	// OnProcessCompleted is called when an instance reaches StatusComplete.
	OnProcessCompleted(ctx context.Context, info *ProcessInfo)

	// OnProcessFrozen is called when a message exhausts its retry budget
	// and the instance transitions to StatusFrozen.
	OnProcessFrozen(ctx context.Context, info *ProcessInfo, msg *ProcessMessage)

	// OnActionStart is called before invoking an action handler.
	OnActionStart(ctx context.Context, processID, action string)

	// OnActionCompleted is called after an action handler returns, for both
	// successes and failures (err != nil).
	OnActionCompleted(ctx context.Context, processID, action string, err error, duration time.Duration)

	// OnBranchCancelled is called when an OR join removes the wait ids of
	// its losing sibling branches from the pending set.
	OnBranchCancelled(ctx context.Context, processID string, waitIDs []string)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnProcessStart(ctx context.Context, info *ProcessInfo)                  {}
func (NoopObserver) OnProcessResumed(ctx context.Context, info *ProcessInfo, waitID string) {}
func (NoopObserver) OnProcessCompleted(ctx context.Context, info *ProcessInfo)              {}
func (NoopObserver) OnProcessFrozen(ctx context.Context, info *ProcessInfo, msg *ProcessMessage) {
}
func (NoopObserver) OnActionStart(ctx context.Context, processID, action string) {}
func (NoopObserver) OnActionCompleted(ctx context.Context, processID, action string, err error, d time.Duration) {
}
func (NoopObserver) OnBranchCancelled(ctx context.Context, processID string, waitIDs []string) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnProcessStart(ctx context.Context, info *ProcessInfo) {
	for _, o := range c.observers {
		o.OnProcessStart(ctx, info)
	}
}

func (c *CompositeObserver) OnProcessResumed(ctx context.Context, info *ProcessInfo, waitID string) {
	for _, o := range c.observers {
		o.OnProcessResumed(ctx, info, waitID)
	}
}

func (c *CompositeObserver) OnProcessCompleted(ctx context.Context, info *ProcessInfo) {
	for _, o := range c.observers {
		o.OnProcessCompleted(ctx, info)
	}
}

func (c *CompositeObserver) OnProcessFrozen(ctx context.Context, info *ProcessInfo, msg *ProcessMessage) {
	for _, o := range c.observers {
		o.OnProcessFrozen(ctx, info, msg)
	}
}

func (c *CompositeObserver) OnActionStart(ctx context.Context, processID, action string) {
	for _, o := range c.observers {
		o.OnActionStart(ctx, processID, action)
	}
}

func (c *CompositeObserver) OnActionCompleted(ctx context.Context, processID, action string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActionCompleted(ctx, processID, action, err, d)
	}
}

func (c *CompositeObserver) OnBranchCancelled(ctx context.Context, processID string, waitIDs []string) {
	for _, o := range c.observers {
		o.OnBranchCancelled(ctx, processID, waitIDs)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs process lifecycle events
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnProcessStart(ctx context.Context, info *ProcessInfo) {
	o.Logger.InfoContext(ctx, "process_start",
		slog.String("shape", info.Shape),
		slog.String("process_id", info.ID),
	)
}

func (o *LoggingObserver) OnProcessResumed(ctx context.Context, info *ProcessInfo, waitID string) {
	o.Logger.InfoContext(ctx, "process_resumed",
		slog.String("shape", info.Shape),
		slog.String("process_id", info.ID),
		slog.String("wait_id", waitID),
	)
}

func (o *LoggingObserver) OnProcessCompleted(ctx context.Context, info *ProcessInfo) {
	o.Logger.InfoContext(ctx, "process_completed",
		slog.String("shape", info.Shape),
		slog.String("process_id", info.ID),
	)
}

func (o *LoggingObserver) OnProcessFrozen(ctx context.Context, info *ProcessInfo, msg *ProcessMessage) {
	o.Logger.ErrorContext(ctx, "process_frozen",
		slog.String("shape", info.Shape),
		slog.String("process_id", info.ID),
		slog.String("message_id", msg.ID),
		slog.Int("delivery_attempts", msg.DeliveryAttempts),
		slog.String("last_error", msg.LastError),
	)
}

func (o *LoggingObserver) OnActionStart(ctx context.Context, processID, action string) {
	o.Logger.DebugContext(ctx, "action_start",
		slog.String("process_id", processID),
		slog.String("action", action),
	)
}

func (o *LoggingObserver) OnActionCompleted(ctx context.Context, processID, action string, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "action_completed",
		slog.String("process_id", processID),
		slog.String("action", action),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnBranchCancelled(ctx context.Context, processID string, waitIDs []string) {
	o.Logger.InfoContext(ctx, "branch_cancelled",
		slog.String("process_id", processID),
		slog.Any("wait_ids", waitIDs),
	)
}

// BasicMetrics collects simple counters and aggregate action durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	processesStarted   atomic.Int64
	processesCompleted atomic.Int64
	processesFrozen    atomic.Int64
	resumes            atomic.Int64
	branchesCancelled  atomic.Int64
	actionsCompleted   atomic.Int64
	totalActionTime    atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	ProcessesStarted   int64
	ProcessesCompleted int64
	ProcessesFrozen    int64
	ActiveProcesses    int64

	Resumes           int64
	BranchesCancelled int64

	ActionsCompleted  int64
	AvgActionDuration time.Duration
}

func (m *BasicMetrics) OnProcessStart(ctx context.Context, info *ProcessInfo) {
	m.processesStarted.Add(1)
}

func (m *BasicMetrics) OnProcessResumed(ctx context.Context, info *ProcessInfo, waitID string) {
	m.resumes.Add(1)
}

func (m *BasicMetrics) OnProcessCompleted(ctx context.Context, info *ProcessInfo) {
	m.processesCompleted.Add(1)
}

func (m *BasicMetrics) OnProcessFrozen(ctx context.Context, info *ProcessInfo, msg *ProcessMessage) {
	m.processesFrozen.Add(1)
}

func (m *BasicMetrics) OnBranchCancelled(ctx context.Context, processID string, waitIDs []string) {
	m.branchesCancelled.Add(int64(len(waitIDs)))
}

func (m *BasicMetrics) OnActionCompleted(ctx context.Context, processID, action string, err error, d time.Duration) {
	// Only count successful actions for average duration.
	if err == nil {
		m.actionsCompleted.Add(1)
		m.totalActionTime.Add(d.Nanoseconds())
	}
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.processesStarted.Load()
	completed := m.processesCompleted.Load()
	frozen := m.processesFrozen.Load()
	actions := m.actionsCompleted.Load()
	totalNs := m.totalActionTime.Load()

	var avg time.Duration
	if actions > 0 {
		avg = time.Duration(totalNs / actions)
	}

	return BasicMetricsSnapshot{
		ProcessesStarted:   started,
		ProcessesCompleted: completed,
		ProcessesFrozen:    frozen,
		ActiveProcesses:    started - completed - frozen,
		Resumes:            m.resumes.Load(),
		BranchesCancelled:  m.branchesCancelled.Load(),
		ActionsCompleted:   actions,
		AvgActionDuration:  avg,
	}
}
