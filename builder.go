package strand

import (
	"fmt"

	"github.com/strandkit/strand/pkg/api"
)

// ShapeBuilder provides a fluent API for defining process shapes together
// with their action handlers:
//
//	shape := strand.NewShape("send-fax").
//	    Perform("prepare", prepare).
//	    Parallel(strand.JoinOr,
//	        strand.NewBranch().
//	            Receive("fax", "onSent").
//	            Perform("recordSent", recordSent),
//	        strand.NewBranch().
//	            Receive("timer", "onTimeout").
//	            Perform("recordTimeout", recordTimeout),
//	    ).
//	    Perform("finish", finish)
//
//	if err := shape.Register(engine); err != nil {
//	    log.Fatal(err)
//	}
type ShapeBuilder struct {
	name     string
	nodes    []api.Node
	handlers map[string]api.ActionFunc
}

// NewShape creates a new shape builder with the given name.
func NewShape(name string) *ShapeBuilder {
	return &ShapeBuilder{
		name:     name,
		handlers: make(map[string]api.ActionFunc),
	}
}

// Name returns the shape name.
func (b *ShapeBuilder) Name() string {
	return b.name
}

// Perform appends an action node and binds its handler.
func (b *ShapeBuilder) Perform(action string, fn ActionFunc) *ShapeBuilder {
	if action == "" {
		panic("strand: action name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("strand: action %q has nil handler", action))
	}
	b.nodes = append(b.nodes, api.Node{Perform: action})
	b.handlers[action] = fn
	return b
}

// Receive appends a wait point for the event on the given control.
func (b *ShapeBuilder) Receive(control, event string) *ShapeBuilder {
	b.nodes = append(b.nodes, api.Node{Receive: &api.ReceiveSpec{
		Control: control,
		Event:   event,
	}})
	return b
}

// Parallel appends a fork/join block over the given branches.
func (b *ShapeBuilder) Parallel(join JoinKind, branches ...*BranchBuilder) *ShapeBuilder {
	spec := &api.ParallelSpec{Join: join}
	for _, br := range branches {
		spec.Branches = append(spec.Branches, br.nodes)
		for name, fn := range br.handlers {
			b.handlers[name] = fn
		}
	}
	b.nodes = append(b.nodes, api.Node{Parallel: spec})
	return b
}

// Definition returns the built process definition. Typically used when
// interacting with lower-level APIs.
func (b *ShapeBuilder) Definition() ProcessDefinition {
	handlers := make(map[string]api.ActionFunc, len(b.handlers))
	for name, fn := range b.handlers {
		handlers[name] = fn
	}
	return ProcessDefinition{
		Shape: api.ShapeDefinition{
			Name:  b.name,
			Nodes: b.nodes,
		},
		Handlers: handlers,
	}
}

// Register registers the built shape with the given engine.
func (b *ShapeBuilder) Register(eng Engine) error {
	return eng.RegisterProcess(b.Definition())
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *ShapeBuilder) MustRegister(eng Engine) {
	if err := b.Register(eng); err != nil {
		panic(err)
	}
}

// BranchBuilder builds one branch of a parallel block. It mirrors the
// node methods of ShapeBuilder.
type BranchBuilder struct {
	nodes    []api.Node
	handlers map[string]api.ActionFunc
}

// NewBranch creates an empty branch builder.
func NewBranch() *BranchBuilder {
	return &BranchBuilder{handlers: make(map[string]api.ActionFunc)}
}

// Perform appends an action node to the branch and binds its handler.
func (b *BranchBuilder) Perform(action string, fn ActionFunc) *BranchBuilder {
	if action == "" {
		panic("strand: action name must not be empty")
	}
	if fn == nil {
		panic(fmt.Sprintf("strand: action %q has nil handler", action))
	}
	b.nodes = append(b.nodes, api.Node{Perform: action})
	b.handlers[action] = fn
	return b
}

// Receive appends a wait point to the branch.
func (b *BranchBuilder) Receive(control, event string) *BranchBuilder {
	b.nodes = append(b.nodes, api.Node{Receive: &api.ReceiveSpec{
		Control: control,
		Event:   event,
	}})
	return b
}

// Parallel appends a nested fork/join block to the branch.
func (b *BranchBuilder) Parallel(join JoinKind, branches ...*BranchBuilder) *BranchBuilder {
	spec := &api.ParallelSpec{Join: join}
	for _, br := range branches {
		spec.Branches = append(spec.Branches, br.nodes)
		for name, fn := range br.handlers {
			b.handlers[name] = fn
		}
	}
	b.nodes = append(b.nodes, api.Node{Parallel: spec})
	return b
}
