package petri

import (
	"errors"
	"testing"

	"github.com/strandkit/strand/pkg/api"
)

func perform(name string) api.Node {
	return api.Node{Perform: name}
}

func receive(control, event string) api.Node {
	return api.Node{Receive: &api.ReceiveSpec{Control: control, Event: event}}
}

func parallel(join api.JoinKind, branches ...[]api.Node) api.Node {
	return api.Node{Parallel: &api.ParallelSpec{Join: join, Branches: branches}}
}

func TestBuild_SimpleSequence(t *testing.T) {
	net, err := Build(api.ShapeDefinition{
		Name:  "seq",
		Nodes: []api.Node{perform("a"), receive("svc", "done"), perform("b")},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if net.Name() != "seq" {
		t.Fatalf("expected name %q, got %q", "seq", net.Name())
	}
	if got := net.Actions(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("expected actions [a b], got %v", got)
	}
	if net.Fingerprint() == "" {
		t.Fatalf("expected a non-empty fingerprint")
	}
}

func TestBuild_Invalid(t *testing.T) {
	cases := map[string]api.ShapeDefinition{
		"empty name": {
			Nodes: []api.Node{perform("a")},
		},
		"no nodes": {
			Name: "x",
		},
		"node with no variant": {
			Name:  "x",
			Nodes: []api.Node{{}},
		},
		"node with two variants": {
			Name: "x",
			Nodes: []api.Node{{
				Perform: "a",
				Receive: &api.ReceiveSpec{Control: "c", Event: "e"},
			}},
		},
		"receive empty control": {
			Name:  "x",
			Nodes: []api.Node{receive("", "e")},
		},
		"receive empty event": {
			Name:  "x",
			Nodes: []api.Node{receive("c", "")},
		},
		"duplicate wait id": {
			Name:  "x",
			Nodes: []api.Node{receive("c", "e"), receive("c", "e")},
		},
		"unknown join kind": {
			Name: "x",
			Nodes: []api.Node{parallel("xor",
				[]api.Node{perform("a")},
				[]api.Node{perform("b")},
			)},
		},
		"single branch": {
			Name: "x",
			Nodes: []api.Node{parallel(api.JoinAnd,
				[]api.Node{perform("a")},
			)},
		},
		"empty branch": {
			Name: "x",
			Nodes: []api.Node{parallel(api.JoinAnd,
				[]api.Node{perform("a")},
				nil,
			)},
		},
	}

	for name, def := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Build(def)
			if !errors.Is(err, ErrShapeInvalid) {
				t.Fatalf("expected ErrShapeInvalid, got %v", err)
			}
		})
	}
}

func TestBuild_DuplicateWaitIDAcrossBranches(t *testing.T) {
	_, err := Build(api.ShapeDefinition{
		Name: "x",
		Nodes: []api.Node{parallel(api.JoinOr,
			[]api.Node{receive("fax", "onSent")},
			[]api.Node{receive("fax", "onSent")},
		)},
	})
	if !errors.Is(err, ErrShapeInvalid) {
		t.Fatalf("expected ErrShapeInvalid, got %v", err)
	}
}

func TestBuild_DeterministicAcrossRebuilds(t *testing.T) {
	def := api.ShapeDefinition{
		Name: "stable",
		Nodes: []api.Node{
			perform("a"),
			parallel(api.JoinAnd,
				[]api.Node{receive("x", "e1")},
				[]api.Node{receive("y", "e2")},
			),
		},
	}

	n1, err := Build(def)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	n2, err := Build(def)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Markings persist across restarts, so place ids must be stable for
	// the same definition.
	if len(n1.places) != len(n2.places) || len(n1.transitions) != len(n2.transitions) {
		t.Fatalf("rebuild produced a different net: %d/%d places, %d/%d transitions",
			len(n1.places), len(n2.places), len(n1.transitions), len(n2.transitions))
	}
	if n1.Fingerprint() != n2.Fingerprint() {
		t.Fatalf("rebuild produced a different fingerprint: %q vs %q",
			n1.Fingerprint(), n2.Fingerprint())
	}
	for wid, ti := range n1.waits {
		if n2.waits[wid] != ti {
			t.Fatalf("wait %q moved between rebuilds: %d vs %d", wid, ti, n2.waits[wid])
		}
	}
}
