package api

import (
	"fmt"
	"strings"
)

// CallbackInfo identifies where an external response must be routed: which
// process manager, which process instance, and which control (wait point)
// within it. It is immutable and round-trips to a human-readable string so
// external systems can store it without understanding its structure.
type CallbackInfo struct {
	Manager   string
	ProcessID string
	Control   string
}

// String encodes the callback as "manager:processID:control".
func (c CallbackInfo) String() string {
	return c.Manager + ":" + c.ProcessID + ":" + c.Control
}

// WaitID returns the wait id this callback resolves to for a given event
// name, formed as "<control>_<event>".
func (c CallbackInfo) WaitID(event string) string {
	return c.Control + "_" + event
}

// ParseCallbackInfo decodes a string produced by CallbackInfo.String.
func ParseCallbackInfo(s string) (CallbackInfo, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return CallbackInfo{}, fmt.Errorf("malformed callback info: %q", s)
	}
	return CallbackInfo{
		Manager:   parts[0],
		ProcessID: parts[1],
		Control:   parts[2],
	}, nil
}

// CallbackEvent is the unit dispatched to resume a process: a callback,
// the event name fired against its control, and an optional payload.
type CallbackEvent struct {
	Callback CallbackInfo
	Event    string
	Payload  any

	// MessageID is assigned by the dispatch layer on first enqueue and is
	// preserved across redeliveries, so every attempt updates the same
	// ProcessMessage row. Empty until the event has been enqueued.
	MessageID string
}

// WaitID returns the wait id this event targets.
func (e CallbackEvent) WaitID() string {
	return e.Callback.WaitID(e.Event)
}
