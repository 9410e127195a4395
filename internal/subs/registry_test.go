package subs

import (
	"errors"
	"testing"
)

func key(ch string) Key {
	return Key{Channel: ch, Source: "messages/public", Kind: KindMessageAdded}
}

func TestAttachRegistersRecord(t *testing.T) {
	r := NewRegistry()

	ok, err := r.Attach(key("C1"), func() (func(), error) {
		return func() {}, nil
	})
	if err != nil || !ok {
		t.Fatalf("Attach = (%v, %v), want (true, nil)", ok, err)
	}
	if !r.Active(key("C1")) {
		t.Error("record should be active after attach")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestAttachDuplicateTripleIsRejected(t *testing.T) {
	r := NewRegistry()

	subscribes := 0
	sub := func() (func(), error) {
		subscribes++
		return func() {}, nil
	}

	if ok, _ := r.Attach(key("C1"), sub); !ok {
		t.Fatal("first attach should succeed")
	}
	if ok, err := r.Attach(key("C1"), sub); ok || err != nil {
		t.Errorf("duplicate attach = (%v, %v), want (false, nil)", ok, err)
	}

	if subscribes != 1 {
		t.Errorf("subscribe ran %d times, want 1", subscribes)
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}
}

func TestAttachDistinctKindsCoexist(t *testing.T) {
	r := NewRegistry()
	sub := func() (func(), error) { return func() {}, nil }

	r.Attach(Key{Channel: "C1", Source: "presence", Kind: KindPresenceAdded}, sub)
	r.Attach(Key{Channel: "C1", Source: "presence", Kind: KindPresenceRemoved}, sub)

	if r.Len() != 2 {
		t.Errorf("Len = %d, want 2", r.Len())
	}
}

func TestAttachSubscribeErrorLeavesNoRecord(t *testing.T) {
	r := NewRegistry()

	ok, err := r.Attach(key("C1"), func() (func(), error) {
		return nil, errors.New("source unavailable")
	})
	if ok || err == nil {
		t.Fatalf("Attach = (%v, %v), want (false, error)", ok, err)
	}
	if r.Active(key("C1")) {
		t.Error("failed attach must not leave a record")
	}
}

func TestDetachAllCancelsEachOnce(t *testing.T) {
	r := NewRegistry()

	cancels := map[string]int{}
	for _, ch := range []string{"C1", "C2", "C3"} {
		ch := ch
		r.Attach(key(ch), func() (func(), error) {
			return func() { cancels[ch]++ }, nil
		})
	}

	r.DetachAll()
	// Detaching again is a no-op.
	r.DetachAll()

	for ch, n := range cancels {
		if n != 1 {
			t.Errorf("cancel for %s ran %d times, want 1", ch, n)
		}
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after DetachAll, want 0", r.Len())
	}
}

func TestDetachAllThenReattachSucceeds(t *testing.T) {
	r := NewRegistry()
	sub := func() (func(), error) { return func() {}, nil }

	r.Attach(key("C1"), sub)
	r.DetachAll()

	ok, err := r.Attach(key("C1"), sub)
	if !ok || err != nil {
		t.Errorf("reattach after DetachAll = (%v, %v), want (true, nil)", ok, err)
	}
}
