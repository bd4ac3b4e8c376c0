package strand

import (
	"context"
	"time"

	"github.com/strandkit/strand/pkg/dispatch"
)

// Timer is the timeout collaborator. Timeouts are not a primitive of the
// engine: a timer is an ordinary external service that fires an ordinary
// callback event on a wait id, so a timeout branch races its siblings
// through the same OR-join machinery as any other event.
//
//	shape with:  parallel(or) { [receive fax/onSent ...] [receive timer/onTimeout ...] }
//
//	timer := strand.NewTimer(runner.Dispatch)
//	cb := eng.CreateCallback(processID, "timer")
//	_ = timer.FireAfter(ctx, cb, "onTimeout", 30*time.Second, nil)
type Timer struct {
	dispatch *dispatch.Service
}

// NewTimer creates a timer over the given dispatch service.
func NewTimer(svc *dispatch.Service) *Timer {
	return &Timer{dispatch: svc}
}

// FireAt schedules the event to be delivered to the callback no earlier
// than at.
func (t *Timer) FireAt(ctx context.Context, cb CallbackInfo, event string, at time.Time, payload any) error {
	return t.dispatch.SendEventAt(ctx, CallbackEvent{
		Callback: cb,
		Event:    event,
		Payload:  payload,
	}, at)
}

// FireAfter schedules the event to be delivered after the given delay.
func (t *Timer) FireAfter(ctx context.Context, cb CallbackInfo, event string, d time.Duration, payload any) error {
	return t.FireAt(ctx, cb, event, time.Now().Add(d), payload)
}
