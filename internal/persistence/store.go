package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/strandkit/strand/pkg/api"
)

var (
	// ErrProcessNotFound is returned when a process instance is not found.
	ErrProcessNotFound = errors.New("process not found")

	// ErrMessageNotFound is returned when a process message is not found.
	ErrMessageNotFound = errors.New("process message not found")

	// ErrVersionConflict is returned when an update targets a row whose
	// version has moved since it was read.
	ErrVersionConflict = errors.New("process row version conflict")

	// ErrCorrelationNotFound is returned when no correlation exists for an
	// external id.
	ErrCorrelationNotFound = errors.New("correlation not found")

	// ErrDuplicateCorrelation is returned when an external id is already
	// mapped to a callback.
	ErrDuplicateCorrelation = errors.New("correlation already exists")
)

// ProcessFilter is used to select process instances from the store.
// Empty string / zero status mean "no filter" for that field.
type ProcessFilter struct {
	Shape  string
	Status api.Status
}

// ProcessStore persists ProcessInfo rows and provides the single-row
// exclusive lock that serializes concurrent resumes of one instance.
type ProcessStore interface {
	Insert(ctx context.Context, info *api.ProcessInfo) error

	// Update persists a modified row. It checks the row version the caller
	// read and returns ErrVersionConflict if the row has moved; on success
	// the stored version is bumped and reflected on info.
	Update(ctx context.Context, info *api.ProcessInfo) error

	// SetStatus flips only the status column. It is used for freeze/thaw
	// bookkeeping that must survive the rollback of a failed resume.
	SetStatus(ctx context.Context, id string, status api.Status) error

	Get(ctx context.Context, id string) (*api.ProcessInfo, error)
	List(ctx context.Context, filter ProcessFilter) ([]*api.ProcessInfo, error)

	// TryLock attempts to acquire (or re-acquire) the instance's exclusive
	// row lock. It never blocks: if another owner holds an unexpired lock
	// it returns acquired=false, err=nil. A lock held by the same owner is
	// re-entrant, and an expired lock may be taken over.
	TryLock(ctx context.Context, id, owner string, ttl time.Duration) (acquired bool, err error)

	// Unlock releases the lock if it is held by owner. It is idempotent.
	Unlock(ctx context.Context, id, owner string) error
}

// MessageStore persists one ProcessMessage row per inbound delivery chain.
// Writes happen outside the main resume transaction so retry bookkeeping
// survives its rollback.
type MessageStore interface {
	// Upsert inserts the message on first delivery and updates the
	// existing row on redelivery (same message id).
	Upsert(ctx context.Context, msg *api.ProcessMessage) error
	Update(ctx context.Context, msg *api.ProcessMessage) error
	Get(ctx context.Context, id string) (*api.ProcessMessage, error)

	// LatestFrozen returns the most recently updated FROZEN message for
	// the process, or ErrMessageNotFound.
	LatestFrozen(ctx context.Context, processID string) (*api.ProcessMessage, error)
}

// LogStore is the append-only process audit trail.
type LogStore interface {
	Append(ctx context.Context, entry api.ProcessLogEntry) error
	ListByProcess(ctx context.Context, processID string) ([]api.ProcessLogEntry, error)
}

// CorrelationStore maps external-system identifiers to callbacks.
type CorrelationStore interface {
	Insert(ctx context.Context, externalID string, cb api.CallbackInfo) error
	Lookup(ctx context.Context, externalID string) (api.CallbackInfo, error)
	DeleteAllForProcess(ctx context.Context, processID string) error
}

// Stores bundles the collaborator stores the engine depends on.
type Stores struct {
	Processes    ProcessStore
	Messages     MessageStore
	Logs         LogStore
	Correlations CorrelationStore
}
