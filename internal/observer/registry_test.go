package observer

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistry_DuplicateRegisterFails(t *testing.T) {
	r := New()
	h := func(ctx context.Context, f Frame) (json.RawMessage, error) { return nil, nil }

	if err := r.Register("ping", h); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := r.Register("ping", h); err == nil {
		t.Fatal("expected error on duplicate registration")
	}
}

func TestRegistry_DeregisterUnknownFails(t *testing.T) {
	r := New()
	if err := r.Deregister("missing"); err == nil {
		t.Fatal("expected error deregistering unknown type")
	}
}

func TestRegistry_RegisterDeregisterRoundTrip(t *testing.T) {
	r := New()
	h := func(ctx context.Context, f Frame) (json.RawMessage, error) { return nil, nil }

	if err := r.Register("ping", h); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Deregister("ping"); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if _, ok := r.Lookup("ping"); ok {
		t.Fatal("expected no handler after deregister")
	}
	// Registry is back to its prior (empty) state — re-registering succeeds.
	if err := r.Register("ping", h); err != nil {
		t.Fatalf("re-Register after round trip: %v", err)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("ping"); ok {
		t.Fatal("expected no handler in empty registry")
	}

	called := false
	h := func(ctx context.Context, f Frame) (json.RawMessage, error) {
		called = true
		return json.RawMessage(`{"echo":1}`), nil
	}
	r.Register("ping", h)

	got, ok := r.Lookup("ping")
	if !ok {
		t.Fatal("expected handler to be found")
	}
	if _, err := got(context.Background(), Frame{ID: "m1", Type: "ping"}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked")
	}
}
