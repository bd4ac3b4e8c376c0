// Package dispatch routes callback events from external services to the
// process manager through a durable, at-least-once task queue.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/strandkit/strand/internal/taskqueue"
	"github.com/strandkit/strand/pkg/api"
)

// Resumer is the slice of the process manager the dispatch layer drives.
type Resumer interface {
	Resume(ctx context.Context, ev api.CallbackEvent) error
}

// Service accepts callback events and hands them to the queue. It never
// touches process state directly: all delivery runs through the queue so
// the at-least-once and redelivery guarantees hold uniformly.
type Service struct {
	queue  taskqueue.Queue
	logger *slog.Logger
}

// NewService creates a dispatch service over the given queue.
func NewService(queue taskqueue.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{queue: queue, logger: logger}
}

// SendEvent enqueues a callback event for delivery. A message id is
// stamped here, on first enqueue, and preserved across redeliveries so
// every attempt lands on the same message row.
func (s *Service) SendEvent(ctx context.Context, ev api.CallbackEvent) error {
	return s.SendEventAt(ctx, ev, time.Time{})
}

// SendEventAt enqueues a callback event that becomes eligible for delivery
// no earlier than at. A zero at means "immediately". This is the primitive
// timer collaborators build on.
func (s *Service) SendEventAt(ctx context.Context, ev api.CallbackEvent, at time.Time) error {
	if ev.MessageID == "" {
		ev.MessageID = uuid.NewString()
	}
	t := taskqueue.Task{
		ID:        ev.MessageID,
		Callback:  ev.Callback.String(),
		Event:     ev.Event,
		Payload:   ev.Payload,
		NotBefore: at,
	}
	if err := s.queue.Enqueue(ctx, t); err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "event enqueued",
		slog.String("callback", t.Callback),
		slog.String("event", ev.Event),
		slog.String("message_id", ev.MessageID),
	)
	return nil
}
