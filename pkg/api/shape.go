package api

import "context"

// JoinKind selects the join semantics of a parallel block.
type JoinKind string

const (
	// JoinAnd completes the block once every branch has completed.
	JoinAnd JoinKind = "and"

	// JoinOr completes the block as soon as the first branch completes.
	// At that moment the wait ids of all sibling branches are removed from
	// the pending set, so a later event for a cancelled branch is silently
	// absorbed.
	JoinOr JoinKind = "or"
)

// Node is one element of a process shape. Exactly one of the three fields
// is set:
//
//   - Perform names an action handler to invoke; the process does not
//     suspend.
//   - Receive parks the branch until an external event satisfies the wait
//     id "<control>_<event>".
//   - Parallel forks into branches joined with AND or OR semantics.
type Node struct {
	Perform  string        `yaml:"perform,omitempty"`
	Receive  *ReceiveSpec  `yaml:"receive,omitempty"`
	Parallel *ParallelSpec `yaml:"parallel,omitempty"`
}

// ReceiveSpec describes a wait point. Control is chosen by the process
// designer to disambiguate multiple waits on the same external service.
type ReceiveSpec struct {
	Control string `yaml:"control"`
	Event   string `yaml:"event"`
}

// ParallelSpec describes a fork/join block.
type ParallelSpec struct {
	Join     JoinKind `yaml:"join"`
	Branches [][]Node `yaml:"branches"`
}

// ShapeDefinition is the declarative description of a process shape. It is
// parsed and validated once, at load time, into an immutable net that is
// shared by every instance of the process.
type ShapeDefinition struct {
	Name  string `yaml:"name"`
	Nodes []Node `yaml:"nodes"`
}

// ActionFunc is a business-logic handler bound to a perform node. It runs
// synchronously inside the firing pass of a start or resume; any error it
// returns aborts the pass and rolls the instance back to its last
// persisted state.
type ActionFunc func(ctx context.Context, p *ProcessContext) error

// ProcessDefinition binds a shape to the action handlers it names.
type ProcessDefinition struct {
	Shape    ShapeDefinition
	Handlers map[string]ActionFunc
}

// CallbackFactory mints callback tokens for a process instance. It is the
// only way business logic obtains a token to hand to an external service.
type CallbackFactory interface {
	CreateCallback(processID, control string) CallbackInfo
}

// ProcessContext is passed to every action handler during a firing pass.
type ProcessContext struct {
	ProcessID string

	// State is the caller-supplied business-state object. Handlers may
	// mutate it; the engine persists it when the pass succeeds.
	State any

	// Args carries the start arguments. Only set during the initial pass.
	Args any

	// Event and Payload describe the external event that triggered this
	// pass. Both are zero during the initial pass.
	Event   string
	Payload any

	callbacks CallbackFactory
}

// NewProcessContext builds the context handed to action handlers. It is
// exported for engine and test use; application code receives contexts,
// it does not construct them.
func NewProcessContext(processID string, state, args any, event string, payload any, cf CallbackFactory) *ProcessContext {
	return &ProcessContext{
		ProcessID: processID,
		State:     state,
		Args:      args,
		Event:     event,
		Payload:   payload,
		callbacks: cf,
	}
}

// Callback mints a CallbackInfo for the given control of this process.
func (p *ProcessContext) Callback(control string) CallbackInfo {
	return p.callbacks.CreateCallback(p.ProcessID, control)
}
