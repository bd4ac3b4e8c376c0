package petri

import (
	"errors"
	"fmt"

	"github.com/strandkit/strand/pkg/api"
)

// ErrShapeInvalid is wrapped by every shape validation failure reported by
// Build. Malformed shapes are fatal at build time; they are not recoverable
// by retry.
var ErrShapeInvalid = errors.New("invalid shape definition")

type transKind int

const (
	transAction transKind = iota
	transReceive
	transSplit
	transJoinAnd
	transJoinOr
)

// branchSeg identifies one branch of one parallel block. A place carries
// the full chain of segments it is nested under, which is what OR-join
// cancellation uses to find sibling tokens.
type branchSeg struct {
	Block  int
	Branch int
}

type place struct {
	id   int
	path []branchSeg
}

type transition struct {
	id     int
	kind   transKind
	action string // transAction
	waitID string // transReceive
	block  int    // transSplit, transJoinAnd, transJoinOr
	in     []int
	out    []int
}

// Net is the compiled, immutable graph of one process shape. It holds no
// per-instance state: the same Net is interpreted against the Marking of
// every instance of the process.
type Net struct {
	name        string
	fingerprint string

	places      []place
	transitions []transition
	start, end  int

	// waits maps a wait id to its receive transition.
	waits map[string]int

	// receiveByPlace maps a receive transition's input place to its wait id.
	receiveByPlace map[int]string

	actions []string
}

// Name returns the shape name.
func (n *Net) Name() string { return n.name }

// Fingerprint identifies the compiled shape. Two builds of the same
// definition produce the same fingerprint.
func (n *Net) Fingerprint() string { return n.fingerprint }

// Actions returns the distinct action names the shape performs, in first
// appearance order. The manager validates handler bindings against it.
func (n *Net) Actions() []string { return n.actions }

type compiler struct {
	net       *Net
	nextBlock int
	seen      map[string]bool // action name dedupe
}

// Build compiles a declarative shape description into a Net. It is called
// once per definition, at load time, independent of any later per-instance
// state.
func Build(def api.ShapeDefinition) (*Net, error) {
	if def.Name == "" {
		return nil, fmt.Errorf("%w: shape name is required", ErrShapeInvalid)
	}
	if len(def.Nodes) == 0 {
		return nil, fmt.Errorf("%w: shape %q has no nodes", ErrShapeInvalid, def.Name)
	}

	c := &compiler{
		net: &Net{
			name:           def.Name,
			waits:          make(map[string]int),
			receiveByPlace: make(map[int]string),
		},
		seen: make(map[string]bool),
	}

	c.net.start = c.newPlace(nil)
	end, err := c.sequence(def.Nodes, c.net.start, nil)
	if err != nil {
		return nil, err
	}
	c.net.end = end
	c.net.fingerprint = Fingerprint(def)

	return c.net, nil
}

func (c *compiler) newPlace(path []branchSeg) int {
	id := len(c.net.places)
	c.net.places = append(c.net.places, place{id: id, path: path})
	return id
}

func (c *compiler) addTransition(t transition) int {
	t.id = len(c.net.transitions)
	c.net.transitions = append(c.net.transitions, t)
	return t.id
}

// sequence compiles an ordered list of nodes between cur and the returned
// place. path is the branch scope every new place belongs to.
func (c *compiler) sequence(nodes []api.Node, cur int, path []branchSeg) (int, error) {
	for i, node := range nodes {
		var err error
		switch {
		case countSet(node) != 1:
			return 0, fmt.Errorf("%w: shape %q node %d must set exactly one of perform/receive/parallel",
				ErrShapeInvalid, c.net.name, i)
		case node.Perform != "":
			cur = c.perform(node.Perform, cur, path)
		case node.Receive != nil:
			cur, err = c.receive(node.Receive, cur, path)
		case node.Parallel != nil:
			cur, err = c.parallel(node.Parallel, cur, path)
		}
		if err != nil {
			return 0, err
		}
	}
	return cur, nil
}

func countSet(n api.Node) int {
	set := 0
	if n.Perform != "" {
		set++
	}
	if n.Receive != nil {
		set++
	}
	if n.Parallel != nil {
		set++
	}
	return set
}

func (c *compiler) perform(action string, cur int, path []branchSeg) int {
	next := c.newPlace(path)
	c.addTransition(transition{
		kind:   transAction,
		action: action,
		in:     []int{cur},
		out:    []int{next},
	})
	if !c.seen[action] {
		c.seen[action] = true
		c.net.actions = append(c.net.actions, action)
	}
	return next
}

func (c *compiler) receive(spec *api.ReceiveSpec, cur int, path []branchSeg) (int, error) {
	if spec.Control == "" || spec.Event == "" {
		return 0, fmt.Errorf("%w: shape %q has a receive with empty control or event",
			ErrShapeInvalid, c.net.name)
	}
	waitID := spec.Control + "_" + spec.Event
	if _, dup := c.net.waits[waitID]; dup {
		return 0, fmt.Errorf("%w: shape %q declares wait id %q more than once",
			ErrShapeInvalid, c.net.name, waitID)
	}

	next := c.newPlace(path)
	id := c.addTransition(transition{
		kind:   transReceive,
		waitID: waitID,
		in:     []int{cur},
		out:    []int{next},
	})
	c.net.waits[waitID] = id
	c.net.receiveByPlace[cur] = waitID
	return next, nil
}

func (c *compiler) parallel(spec *api.ParallelSpec, cur int, path []branchSeg) (int, error) {
	if spec.Join != api.JoinAnd && spec.Join != api.JoinOr {
		return 0, fmt.Errorf("%w: shape %q parallel block has join %q (want %q or %q)",
			ErrShapeInvalid, c.net.name, spec.Join, api.JoinAnd, api.JoinOr)
	}
	if len(spec.Branches) < 2 {
		return 0, fmt.Errorf("%w: shape %q parallel block needs at least two branches",
			ErrShapeInvalid, c.net.name)
	}

	block := c.nextBlock
	c.nextBlock++

	split := transition{kind: transSplit, block: block, in: []int{cur}}
	starts := make([]int, len(spec.Branches))
	paths := make([][]branchSeg, len(spec.Branches))
	for bi, branch := range spec.Branches {
		if len(branch) == 0 {
			return 0, fmt.Errorf("%w: shape %q parallel block branch %d is empty",
				ErrShapeInvalid, c.net.name, bi)
		}
		bpath := make([]branchSeg, len(path), len(path)+1)
		copy(bpath, path)
		bpath = append(bpath, branchSeg{Block: block, Branch: bi})
		paths[bi] = bpath
		starts[bi] = c.newPlace(bpath)
		split.out = append(split.out, starts[bi])
	}
	c.addTransition(split)

	ends := make([]int, len(spec.Branches))
	for bi, branch := range spec.Branches {
		end, err := c.sequence(branch, starts[bi], paths[bi])
		if err != nil {
			return 0, err
		}
		ends[bi] = end
	}

	kind := transJoinAnd
	if spec.Join == api.JoinOr {
		kind = transJoinOr
	}
	next := c.newPlace(path)
	c.addTransition(transition{kind: kind, block: block, in: ends, out: []int{next}})
	return next, nil
}
