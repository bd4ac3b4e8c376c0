package api

import "time"

// Status represents the lifecycle state of a process instance.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusComplete Status = "COMPLETE"
	StatusFrozen   Status = "FROZEN"
)

// MessageStatus represents the delivery state of an inbound event message.
//
// State machine:
//
//	NEW -> PROCESSED                    (terminal, success)
//	NEW -> FAILED -> (redelivery) NEW   (retryable)
//	NEW -> FROZEN                       (retries exhausted; terminal until Thaw)
//	FROZEN -> (Thaw) NEW
type MessageStatus string

const (
	MessageNew       MessageStatus = "NEW"
	MessageProcessed MessageStatus = "PROCESSED"
	MessageFailed    MessageStatus = "FAILED"
	MessageFrozen    MessageStatus = "FROZEN"
)

// ProcessInfo is the persisted record of one process instance: the
// caller-supplied business state plus the net's token state.
//
// A ProcessInfo row is created by Start and afterwards mutated only by a
// resume that holds the row's exclusive lock. Version is bumped on every
// update and acts as the row's optimistic version.
type ProcessInfo struct {
	ID    string
	Shape string

	// Fingerprint identifies the compiled shape this instance was started
	// against. A resume against a drifted definition is rejected rather
	// than silently misinterpreting the persisted marking.
	Fingerprint string

	Status Status

	// State is the business-state object supplied by the application.
	// It must be gob-encodable.
	State any

	// Marking is the encoded token state of the instance's net. It is
	// opaque outside the engine.
	Marking []byte

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessMessage records one inbound event-delivery chain. The same row is
// updated across redeliveries of the same message id, so DeliveryAttempts
// is monotonically non-decreasing until the message is PROCESSED or FROZEN.
type ProcessMessage struct {
	ID        string
	ProcessID string
	WaitID    string
	Event     string
	Payload   any

	Status           MessageStatus
	DeliveryAttempts int
	LastError        string
	UpdatedAt        time.Time
}

// LogKind classifies a process log entry.
type LogKind string

const (
	LogStart           LogKind = "start"
	LogResume          LogKind = "resume"
	LogComplete        LogKind = "complete"
	LogFailure         LogKind = "failure"
	LogFreeze          LogKind = "freeze"
	LogThaw            LogKind = "thaw"
	LogBranchCancelled LogKind = "branch-cancelled"
	LogFrozenConsumed  LogKind = "frozen-consumed"
)

// ProcessLogEntry is a minimal append-only audit record. Entries are written
// outside the main resume transaction so they survive its rollback.
//
// Keep Detail low-volume: do NOT dump large payloads here.
type ProcessLogEntry struct {
	ProcessID string
	MessageID string
	Kind      LogKind
	Detail    string
	At        time.Time
}

// ProcessListOptions controls how process instances are listed.
// Zero values mean "no filter" for that field.
type ProcessListOptions struct {
	// Shape, if non-empty, limits results to instances of the given shape.
	Shape string

	// Status, if non-empty, limits results to instances with the given status.
	Status Status
}
