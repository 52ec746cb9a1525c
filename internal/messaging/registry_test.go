package messaging

import (
	"errors"
	"testing"
)

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Schema{Name: "thing"}); err != nil {
		t.Fatalf("first register: %v", err)
	}

	err := r.Register(Schema{Name: "thing"})
	if !errors.Is(err, ErrDuplicateSchema) {
		t.Fatalf("expected ErrDuplicateSchema, got %v", err)
	}
}

func TestRegisterRequiresName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Schema{}); err == nil {
		t.Fatal("expected an error for an unnamed schema")
	}
}

func TestResolveUnknown(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Resolve("ghost"); ok {
		t.Fatal("expected unknown type to not resolve")
	}
}

func TestAncestry(t *testing.T) {
	r := NewRegistry()
	for _, s := range []Schema{
		{Name: "base"},
		{Name: "middle", Extends: "base"},
		{Name: "leaf", Extends: "middle"},
	} {
		if err := r.Register(s); err != nil {
			t.Fatalf("register %s: %v", s.Name, err)
		}
	}

	got := r.Ancestry("leaf")
	want := []string{"leaf", "middle", "base"}
	if len(got) != len(want) {
		t.Fatalf("ancestry = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ancestry = %v, want %v", got, want)
		}
	}

	if got := r.Ancestry("ghost"); len(got) != 0 {
		t.Errorf("ancestry of unknown type = %v, want empty", got)
	}
}

func TestAncestryCycleTerminates(t *testing.T) {
	r := NewRegistry()
	r.Register(Schema{Name: "a", Extends: "b"})
	r.Register(Schema{Name: "b", Extends: "a"})

	got := r.Ancestry("a")
	if len(got) != 2 {
		t.Fatalf("ancestry of cyclic chain = %v, want two entries", got)
	}
}

func TestWellKnownSchemas(t *testing.T) {
	r := NewRegistry()
	if err := RegisterWellKnown(r); err != nil {
		t.Fatalf("register well-known: %v", err)
	}

	ping, ok := r.Resolve(TypePing)
	if !ok {
		t.Fatal("ping schema missing")
	}
	if !ping.DrainOnError {
		t.Error("ping should drain on handler errors")
	}

	chain := r.Ancestry(TypeCycleResponse)
	if len(chain) != 2 || chain[1] != TypeReply {
		t.Errorf("cycle response ancestry = %v, want [%s %s]", chain, TypeCycleResponse, TypeReply)
	}
}
