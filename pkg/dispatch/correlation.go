package dispatch

import (
	"context"

	"github.com/strandkit/strand/internal/persistence"
	"github.com/strandkit/strand/pkg/api"
)

// CorrelationService maps an external system's own identifiers to the
// callbacks needed to resume waiting processes. It serves collaborators
// that cannot carry an opaque callback token through their round trip
// (a fax line, a payment network) and can only echo back their own id.
//
// Records are removed by the process manager when their process completes,
// so the table does not grow without bound.
type CorrelationService struct {
	store    persistence.CorrelationStore
	dispatch *Service
}

// NewCorrelationService creates a correlation service over the given store,
// dispatching resolved events through svc.
func NewCorrelationService(store persistence.CorrelationStore, svc *Service) *CorrelationService {
	return &CorrelationService{store: store, dispatch: svc}
}

// Register maps externalID to the given callback. An externalID may map to
// at most one callback; a second Register for the same id fails.
func (c *CorrelationService) Register(ctx context.Context, externalID string, cb api.CallbackInfo) error {
	return c.store.Insert(ctx, externalID, cb)
}

// Resolve returns the callback registered for externalID.
func (c *CorrelationService) Resolve(ctx context.Context, externalID string) (api.CallbackInfo, error) {
	return c.store.Lookup(ctx, externalID)
}

// SendEventFor resolves externalID to its callback and dispatches the
// event through the service. It is the entry point for a collaborator
// response that carries only the external system's identifier.
func (c *CorrelationService) SendEventFor(ctx context.Context, externalID, event string, payload any) error {
	cb, err := c.Resolve(ctx, externalID)
	if err != nil {
		return err
	}
	return c.dispatch.SendEvent(ctx, api.CallbackEvent{
		Callback: cb,
		Event:    event,
		Payload:  payload,
	})
}
