package registry

import (
	"errors"
	"testing"
)

type faxLine interface {
	Number() string
}

type line struct{ number string }

func (l line) Number() string { return l.number }

func TestRegistry_TypeDefault(t *testing.T) {
	r := New()
	if err := Register[faxLine](r, line{"default"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	got, err := Resolve[faxLine](r, "")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.Number() != "default" {
		t.Fatalf("expected the default line, got %s", got.Number())
	}
}

func TestRegistry_ResolutionOrder(t *testing.T) {
	r := New()
	if err := Register[faxLine](r, line{"default"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := RegisterNamed[faxLine](r, "billing.outbound", line{"billing"}); err != nil {
		t.Fatalf("RegisterNamed failed: %v", err)
	}
	if err := RegisterNamed[faxLine](r, "line", line{"plain"}); err != nil {
		t.Fatalf("RegisterNamed failed: %v", err)
	}

	// Tier 1: exact type + key.
	got, err := Resolve[faxLine](r, "billing.outbound")
	if err != nil || got.Number() != "billing" {
		t.Fatalf("exact key resolution: got %v, %v", got, err)
	}

	// Tier 2: unknown key falls back to the type default.
	got, err = Resolve[faxLine](r, "shipping.outbound")
	if err != nil || got.Number() != "default" {
		t.Fatalf("default fallback: got %v, %v", got, err)
	}
}

func TestRegistry_HierarchicalFallback(t *testing.T) {
	r := New()
	if err := RegisterNamed[faxLine](r, "outbound", line{"outbound"}); err != nil {
		t.Fatalf("RegisterNamed failed: %v", err)
	}

	// No exact entry and no type default: the dotted key is shortened a
	// leading segment at a time until a suffix matches.
	got, err := Resolve[faxLine](r, "billing.europe.outbound")
	if err != nil {
		t.Fatalf("hierarchical resolution failed: %v", err)
	}
	if got.Number() != "outbound" {
		t.Fatalf("expected the outbound line, got %s", got.Number())
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	r := New()
	if _, err := Resolve[faxLine](r, ""); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
	if _, err := Resolve[faxLine](r, "a.b.c"); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	r := New()
	if err := Register[faxLine](r, line{"one"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := Register[faxLine](r, line{"two"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := RegisterNamed[faxLine](r, "k", line{"one"}); err != nil {
		t.Fatalf("RegisterNamed failed: %v", err)
	}
	if err := RegisterNamed[faxLine](r, "k", line{"two"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegistry_TypesAreIndependent(t *testing.T) {
	type mailer interface{ Send() }

	r := New()
	if err := Register[faxLine](r, line{"fax"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := Resolve[mailer](r, ""); !errors.Is(err, ErrNotRegistered) {
		t.Fatalf("resolution crossed interface types: %v", err)
	}
}

func TestRegistry_MustResolvePanics(t *testing.T) {
	r := New()
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustResolve to panic on a missing entry")
		}
	}()
	MustResolve[faxLine](r, "")
}
