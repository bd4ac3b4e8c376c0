package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strandkit/strand/internal/persistence"
	"github.com/strandkit/strand/internal/petri"
	"github.com/strandkit/strand/pkg/api"
)

var (
	// ErrLockNotAcquired is returned by Resume and Thaw when another
	// holder owns the instance's row lock. It is not a failure of the
	// system: the dispatch layer leaves the triggering message for
	// queue-driven redelivery and moves on.
	ErrLockNotAcquired = errors.New("process row lock not acquired")

	// ErrDefinitionMismatch is returned when a persisted instance was
	// started against a different compilation of its shape.
	ErrDefinitionMismatch = errors.New("process definition mismatch")

	// ErrNoFrozenMessage is returned by Thaw when the process has no
	// frozen message to replay.
	ErrNoFrozenMessage = errors.New("no frozen message to thaw")

	// ErrWrongManager is returned by Resume when the callback is addressed
	// to a different manager name. Redelivery cannot fix the address, so
	// the dispatch layer drops such tasks instead of retrying them.
	ErrWrongManager = errors.New("callback addressed to another manager")
)

// Config describes how to construct a Manager. Stores are required;
// everything else has usable defaults.
type Config struct {
	// Name is the manager identity stamped into every CallbackInfo it
	// mints. Defaults to "strand".
	Name string

	Stores persistence.Stores

	// MaxRetries bounds delivery attempts per message before it freezes.
	// Defaults to 3.
	MaxRetries int

	// LockTTL bounds how long a crashed holder keeps an instance locked
	// before the lease may be taken over. Defaults to 30s.
	LockTTL time.Duration

	Observer api.Observer
	Logger   *slog.Logger
}

// Manager owns the process lifecycle: it starts instances, persists them
// when they park on wait states, and resumes them exactly once per event
// under the instance's exclusive row lock.
type Manager struct {
	name       string
	defs       *definitionRegistry
	stores     persistence.Stores
	maxRetries int
	lockTTL    time.Duration
	observer   api.Observer
	logger     *slog.Logger
}

var _ api.CallbackFactory = (*Manager)(nil)

// New creates a Manager from the given configuration.
func New(cfg Config) *Manager {
	name := cfg.Name
	if name == "" {
		name = "strand"
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		name:       name,
		defs:       newDefinitionRegistry(),
		stores:     cfg.Stores,
		maxRetries: maxRetries,
		lockTTL:    lockTTL,
		observer:   obs,
		logger:     logger,
	}
}

// Name returns the manager identity used in callbacks.
func (m *Manager) Name() string { return m.name }

// lockOwner mints the owner identity for one lock acquisition. TryLock is
// re-entrant for the same owner, so the identity must be unique per
// acquisition: concurrent resumes through the same Manager contend like
// resumes from different nodes do.
func (m *Manager) lockOwner() string {
	return m.name + "/" + uuid.NewString()
}

// RegisterProcess compiles and registers a process definition.
func (m *Manager) RegisterProcess(def api.ProcessDefinition) error {
	return m.defs.Register(def)
}

// CreateCallback mints the token an external service needs to route a
// response back to the given control of the given process.
func (m *Manager) CreateCallback(processID, control string) api.CallbackInfo {
	return api.CallbackInfo{
		Manager:   m.name,
		ProcessID: processID,
		Control:   control,
	}
}

// Start creates a new instance of the named shape, fires its net from the
// start place until quiescence, persists the result and returns the
// process id.
//
// Nothing is persisted until the initial firing pass has succeeded, so a
// failed start leaves no trace in the store; the failure propagates to
// the caller uncaught.
func (m *Manager) Start(ctx context.Context, shape string, state, args any) (string, error) {
	rd, err := m.defs.Get(shape)
	if err != nil {
		return "", err
	}

	id := "p-" + uuid.NewString()
	info := &api.ProcessInfo{
		ID:          id,
		Shape:       shape,
		Fingerprint: rd.net.Fingerprint(),
		Status:      api.StatusActive,
		State:       state,
	}

	m.observer.OnProcessStart(ctx, info)

	marking := petri.NewMarking()
	pc := api.NewProcessContext(id, state, args, "", nil, m)
	res, err := rd.net.Fire(ctx, marking, "", m.invoker(id, rd, pc))
	if err != nil {
		return "", fmt.Errorf("start %s: %w", shape, err)
	}

	info.State = pc.State
	info.Marking, err = petri.EncodeMarking(marking)
	if err != nil {
		return "", err
	}
	if res.Completed {
		info.Status = api.StatusComplete
	}

	if err := m.stores.Processes.Insert(ctx, info); err != nil {
		return "", err
	}
	m.appendLog(ctx, api.ProcessLogEntry{
		ProcessID: id,
		Kind:      api.LogStart,
		Detail:    shape,
	})

	if res.Completed {
		m.finishProcess(ctx, info, "")
	}

	m.logger.InfoContext(ctx, "process started",
		slog.String("shape", shape),
		slog.String("process_id", id),
		slog.Bool("completed", res.Completed),
		slog.Any("pending", res.Pending),
	)
	return id, nil
}

// Resume routes an external event back to its wait point.
//
// The sequence is the load-bearing part of the engine:
//
//  1. Non-blocking lock attempt on the instance row; contention returns
//     ErrLockNotAcquired so the queue redelivers later.
//  2. Message bookkeeping in writes independent of the main update, so it
//     survives a rollback.
//  3. A message already FROZEN (or already PROCESSED) is consumed
//     silently.
//  4. The net fires from the event's wait id; success persists state and
//     marks the message PROCESSED.
//  5. Failure increments deliveryAttempts — FAILED below the retry
//     budget, FROZEN at it — and re-raises so the queue redelivers.
func (m *Manager) Resume(ctx context.Context, ev api.CallbackEvent) error {
	if ev.Callback.Manager != m.name {
		return fmt.Errorf("callback %q is for manager %q, this is %q: %w",
			ev.Callback, ev.Callback.Manager, m.name, ErrWrongManager)
	}
	pid := ev.Callback.ProcessID

	owner := m.lockOwner()
	acquired, err := m.stores.Processes.TryLock(ctx, pid, owner, m.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("process %s: %w", pid, ErrLockNotAcquired)
	}
	defer func() {
		_ = m.stores.Processes.Unlock(ctx, pid, owner)
	}()

	msg, err := m.prepareMessage(ctx, pid, ev)
	if err != nil {
		return err
	}
	if msg == nil {
		// Terminal message consumed silently.
		return nil
	}

	return m.fire(ctx, pid, msg)
}

// Thaw manually replays the most recent frozen message of a process,
// following the same path as an ordinary resume.
func (m *Manager) Thaw(ctx context.Context, processID string) error {
	owner := m.lockOwner()
	acquired, err := m.stores.Processes.TryLock(ctx, processID, owner, m.lockTTL)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("process %s: %w", processID, ErrLockNotAcquired)
	}
	defer func() {
		_ = m.stores.Processes.Unlock(ctx, processID, owner)
	}()

	msg, err := m.stores.Messages.LatestFrozen(ctx, processID)
	if err != nil {
		if errors.Is(err, persistence.ErrMessageNotFound) {
			return fmt.Errorf("process %s: %w", processID, ErrNoFrozenMessage)
		}
		return err
	}

	// Re-enter the message state machine at NEW and unfreeze the instance
	// before replaying.
	msg.Status = api.MessageNew
	if err := m.stores.Messages.Update(ctx, msg); err != nil {
		return err
	}
	if err := m.stores.Processes.SetStatus(ctx, processID, api.StatusActive); err != nil {
		return err
	}
	m.appendLog(ctx, api.ProcessLogEntry{
		ProcessID: processID,
		MessageID: msg.ID,
		Kind:      api.LogThaw,
	})

	return m.fire(ctx, processID, msg)
}

// GetProcess looks up a process instance by id.
func (m *Manager) GetProcess(ctx context.Context, id string) (*api.ProcessInfo, error) {
	return m.stores.Processes.Get(ctx, id)
}

// ListProcesses returns process instances matching the given options.
func (m *Manager) ListProcesses(ctx context.Context, opts api.ProcessListOptions) ([]*api.ProcessInfo, error) {
	return m.stores.Processes.List(ctx, persistence.ProcessFilter{
		Shape:  opts.Shape,
		Status: opts.Status,
	})
}

// ProcessLog returns the audit trail of a process.
func (m *Manager) ProcessLog(ctx context.Context, id string) ([]api.ProcessLogEntry, error) {
	return m.stores.Logs.ListByProcess(ctx, id)
}

// prepareMessage performs the independent message bookkeeping of a resume.
// It returns nil, nil when the message is terminal and must be consumed
// without further processing.
func (m *Manager) prepareMessage(ctx context.Context, pid string, ev api.CallbackEvent) (*api.ProcessMessage, error) {
	id := ev.MessageID
	if id == "" {
		id = uuid.NewString()
	}

	msg, err := m.stores.Messages.Get(ctx, id)
	switch {
	case errors.Is(err, persistence.ErrMessageNotFound):
		msg = &api.ProcessMessage{
			ID:        id,
			ProcessID: pid,
			WaitID:    ev.WaitID(),
			Event:     ev.Event,
			Payload:   ev.Payload,
			Status:    api.MessageNew,
		}
	case err != nil:
		return nil, err
	case msg.Status == api.MessageFrozen:
		m.appendLog(ctx, api.ProcessLogEntry{
			ProcessID: pid,
			MessageID: id,
			Kind:      api.LogFrozenConsumed,
		})
		m.logger.WarnContext(ctx, "frozen message consumed without processing",
			slog.String("process_id", pid),
			slog.String("message_id", id),
		)
		return nil, nil
	case msg.Status == api.MessageProcessed:
		// Duplicate redelivery after success: absorb it.
		return nil, nil
	default:
		// Redelivered after FAILED: back to NEW for this attempt.
		msg.Status = api.MessageNew
	}

	if err := m.stores.Messages.Upsert(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// fire executes steps 3-5 of the resume protocol for the given message,
// holding the instance lock. Thaw shares this path.
func (m *Manager) fire(ctx context.Context, pid string, msg *api.ProcessMessage) error {
	info, err := m.stores.Processes.Get(ctx, pid)
	if err != nil {
		return err
	}
	rd, err := m.defs.Get(info.Shape)
	if err != nil {
		return err
	}
	if rd.net.Fingerprint() != info.Fingerprint {
		return fmt.Errorf("process %s: %w: instance has %s, registered shape has %s",
			pid, ErrDefinitionMismatch, info.Fingerprint, rd.net.Fingerprint())
	}

	marking, err := petri.DecodeMarking(info.Marking)
	if err != nil {
		return err
	}

	m.observer.OnProcessResumed(ctx, info, msg.WaitID)
	m.appendLog(ctx, api.ProcessLogEntry{
		ProcessID: pid,
		MessageID: msg.ID,
		Kind:      api.LogResume,
		Detail:    msg.WaitID,
	})

	pc := api.NewProcessContext(pid, info.State, nil, msg.Event, msg.Payload, m)
	res, ferr := rd.net.Fire(ctx, marking, msg.WaitID, m.invoker(pid, rd, pc))
	if ferr != nil {
		return m.recordFailure(ctx, info, msg, ferr)
	}

	if len(res.Cancelled) > 0 {
		m.observer.OnBranchCancelled(ctx, pid, res.Cancelled)
		m.appendLog(ctx, api.ProcessLogEntry{
			ProcessID: pid,
			MessageID: msg.ID,
			Kind:      api.LogBranchCancelled,
			Detail:    fmt.Sprintf("%v", res.Cancelled),
		})
	}

	info.State = pc.State
	info.Marking, err = petri.EncodeMarking(marking)
	if err != nil {
		return err
	}
	switch {
	case res.Completed:
		info.Status = api.StatusComplete
	case info.Status != api.StatusComplete:
		// An orphaned fire on an already-complete instance must not
		// reactivate it; everything else is active again (incl. thaw).
		info.Status = api.StatusActive
	}

	// The main transaction: the only write that advances instance state.
	if err := m.stores.Processes.Update(ctx, info); err != nil {
		return err
	}

	msg.Status = api.MessageProcessed
	msg.LastError = ""
	if err := m.stores.Messages.Update(ctx, msg); err != nil {
		return err
	}

	if res.Completed {
		m.finishProcess(ctx, info, msg.ID)
	}

	m.logger.InfoContext(ctx, "process resumed",
		slog.String("process_id", pid),
		slog.String("wait_id", msg.WaitID),
		slog.Bool("completed", res.Completed),
		slog.Any("pending", res.Pending),
	)
	return nil
}

// recordFailure performs the independent retry bookkeeping of a failed
// pass, then re-raises the failure so the main transaction stays rolled
// back and the queue redelivers the message.
func (m *Manager) recordFailure(ctx context.Context, info *api.ProcessInfo, msg *api.ProcessMessage, ferr error) error {
	msg.DeliveryAttempts++
	msg.LastError = ferr.Error()

	if msg.DeliveryAttempts >= m.maxRetries {
		msg.Status = api.MessageFrozen
		if err := m.stores.Messages.Update(ctx, msg); err != nil {
			return errors.Join(ferr, err)
		}
		if err := m.stores.Processes.SetStatus(ctx, info.ID, api.StatusFrozen); err != nil {
			return errors.Join(ferr, err)
		}
		m.observer.OnProcessFrozen(ctx, info, msg)
		m.appendLog(ctx, api.ProcessLogEntry{
			ProcessID: info.ID,
			MessageID: msg.ID,
			Kind:      api.LogFreeze,
			Detail:    fmt.Sprintf("attempt %d: %v", msg.DeliveryAttempts, ferr),
		})
		m.logger.ErrorContext(ctx, "process frozen after exhausting retries",
			slog.String("process_id", info.ID),
			slog.String("message_id", msg.ID),
			slog.Int("delivery_attempts", msg.DeliveryAttempts),
			slog.Any("error", ferr),
		)
	} else {
		msg.Status = api.MessageFailed
		if err := m.stores.Messages.Update(ctx, msg); err != nil {
			return errors.Join(ferr, err)
		}
		m.appendLog(ctx, api.ProcessLogEntry{
			ProcessID: info.ID,
			MessageID: msg.ID,
			Kind:      api.LogFailure,
			Detail:    fmt.Sprintf("attempt %d: %v", msg.DeliveryAttempts, ferr),
		})
	}

	return fmt.Errorf("resume process %s at %s: %w", info.ID, msg.WaitID, ferr)
}

// finishProcess runs completion side effects: correlation cleanup, audit
// log, observer notification.
func (m *Manager) finishProcess(ctx context.Context, info *api.ProcessInfo, messageID string) {
	if err := m.stores.Correlations.DeleteAllForProcess(ctx, info.ID); err != nil {
		m.logger.WarnContext(ctx, "correlation cleanup failed",
			slog.String("process_id", info.ID),
			slog.Any("error", err),
		)
	}
	m.appendLog(ctx, api.ProcessLogEntry{
		ProcessID: info.ID,
		MessageID: messageID,
		Kind:      api.LogComplete,
	})
	m.observer.OnProcessCompleted(ctx, info)
}

func (m *Manager) invoker(pid string, rd registeredDef, pc *api.ProcessContext) petri.Invoker {
	return petri.InvokerFunc(func(ctx context.Context, action string) error {
		handler := rd.def.Handlers[action]
		m.observer.OnActionStart(ctx, pid, action)
		start := time.Now()
		err := handler(ctx, pc)
		m.observer.OnActionCompleted(ctx, pid, action, err, time.Since(start))
		return err
	})
}

func (m *Manager) appendLog(ctx context.Context, entry api.ProcessLogEntry) {
	// The audit trail is written outside the main transaction; its own
	// failure must not fail the resume.
	if err := m.stores.Logs.Append(ctx, entry); err != nil {
		m.logger.WarnContext(ctx, "process log append failed",
			slog.String("process_id", entry.ProcessID),
			slog.Any("error", err),
		)
	}
}
