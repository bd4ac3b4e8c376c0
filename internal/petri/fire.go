package petri

import (
	"context"
	"sort"
)

// Invoker executes a named action on behalf of the process instance being
// fired. The engine supplies an implementation that binds the instance's
// business state and the triggering event's payload.
type Invoker interface {
	Invoke(ctx context.Context, action string) error
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, action string) error

func (f InvokerFunc) Invoke(ctx context.Context, action string) error {
	return f(ctx, action)
}

// Result describes the outcome of one firing pass.
type Result struct {
	// Completed is true when the process token reached the end place.
	Completed bool

	// Pending lists the wait ids the instance is parked on after the pass,
	// in shape order.
	Pending []string

	// Cancelled lists the wait ids removed by OR-join branch cancellation
	// during this pass.
	Cancelled []string
}

// Fire advances tokens through the net until quiescence: it repeatedly
// fires enabled transitions until none can fire without new external input.
//
// With trigger == "", the pass starts from the net's start place. With a
// non-empty trigger, the receive transition for that wait id is satisfied
// first, then firing runs to quiescence.
//
// A trigger that is not currently in the pending set is a no-op: the
// marking is left unchanged, no action is invoked, and the result reports
// completed=false. This is what makes OR-join races safe: the event of an
// already-cancelled sibling branch is silently absorbed.
//
// An action error aborts the pass immediately; the caller is expected to
// discard the marking, which is how a failed resume rolls back.
func (n *Net) Fire(ctx context.Context, m *Marking, trigger string, inv Invoker) (Result, error) {
	var res Result

	if trigger == "" {
		m.add(n.start)
	} else {
		ti, known := n.waits[trigger]
		if !known || !m.has(n.transitions[ti].in[0]) {
			res.Pending = n.PendingWaits(m)
			return res, nil
		}
		t := n.transitions[ti]
		m.remove(t.in[0])
		for _, p := range t.out {
			m.add(p)
		}
	}

	for {
		fired := false
		for _, t := range n.transitions {
			if !n.enabled(m, t) {
				continue
			}
			if err := n.fireOne(ctx, m, t, inv, &res); err != nil {
				return res, err
			}
			// Rescan from the top: an OR-join cancellation may have
			// disabled transitions that preceded it.
			fired = true
			break
		}
		if !fired {
			break
		}
	}

	res.Completed = m.has(n.end)
	res.Pending = n.PendingWaits(m)
	return res, nil
}

func (n *Net) enabled(m *Marking, t transition) bool {
	switch t.kind {
	case transAction, transSplit:
		return m.has(t.in[0])
	case transJoinAnd:
		for _, p := range t.in {
			if !m.has(p) {
				return false
			}
		}
		return true
	case transJoinOr:
		for _, p := range t.in {
			if m.has(p) {
				return true
			}
		}
		return false
	default:
		// Receive transitions only fire via an external trigger.
		return false
	}
}

func (n *Net) fireOne(ctx context.Context, m *Marking, t transition, inv Invoker, res *Result) error {
	switch t.kind {
	case transAction:
		m.remove(t.in[0])
		if err := inv.Invoke(ctx, t.action); err != nil {
			return err
		}
	case transSplit:
		m.remove(t.in[0])
	case transJoinAnd:
		for _, p := range t.in {
			m.remove(p)
		}
	case transJoinOr:
		winner := -1
		for bi, p := range t.in {
			if m.has(p) {
				winner = bi
				m.remove(p)
				break
			}
		}
		n.cancelSiblings(m, t.block, winner, res)
	}

	for _, p := range t.out {
		m.add(p)
	}
	return nil
}

// cancelSiblings removes every token held by a losing branch of the given
// parallel block, including tokens parked at receive transitions. The wait
// ids removed this way are recorded on the result; their events, should
// they still arrive, will hit the orphaned-fire no-op path.
func (n *Net) cancelSiblings(m *Marking, block, winner int, res *Result) {
	for _, p := range n.places {
		if !m.has(p.id) || !inSiblingBranch(p.path, block, winner) {
			continue
		}
		if waitID, ok := n.receiveByPlace[p.id]; ok {
			res.Cancelled = append(res.Cancelled, waitID)
		}
		m.clear(p.id)
	}
	sort.Strings(res.Cancelled)
}

func inSiblingBranch(path []branchSeg, block, winner int) bool {
	for _, seg := range path {
		if seg.Block == block && seg.Branch != winner {
			return true
		}
	}
	return false
}

// PendingWaits returns the wait ids currently armed in the given marking,
// in shape order.
func (n *Net) PendingWaits(m *Marking) []string {
	var pending []string
	for _, t := range n.transitions {
		if t.kind == transReceive && m.has(t.in[0]) {
			pending = append(pending, t.waitID)
		}
	}
	return pending
}
