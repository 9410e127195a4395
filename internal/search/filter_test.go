package search

import (
	"testing"
	"time"

	"github.com/mizuki-dev/kaiwa/internal/model"
)

func msgs() []model.Message {
	return []model.Message{
		{User: model.User{ID: "U1", Name: "Alice"}, Content: "hi there"},
		{User: model.User{ID: "U2", Name: "Bob"}, Image: "u1"},
		{User: model.User{ID: "U1", Name: "Alice"}, Content: "yo"},
	}
}

func TestEmptyQueryReturnsCanonicalList(t *testing.T) {
	in := msgs()
	got := Filter("", in)
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
}

func TestNoMatchReturnsEmpty(t *testing.T) {
	got := Filter("zzz", msgs())
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestContentMatchCaseInsensitive(t *testing.T) {
	got := Filter("YO", msgs())
	if len(got) != 1 || got[0].Content != "yo" {
		t.Errorf("got %+v", got)
	}
}

func TestAuthorNameMatch(t *testing.T) {
	// "bob" matches the image message through its author even though it has
	// no text content.
	got := Filter("bob", msgs())
	if len(got) != 1 || got[0].Image != "u1" {
		t.Errorf("got %+v", got)
	}
}

func TestFilterIsOrderPreservingSubsequence(t *testing.T) {
	in := msgs()
	got := Filter("alice", in)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "hi there" || got[1].Content != "yo" {
		t.Errorf("order not preserved: %+v", got)
	}
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	in := msgs()
	Filter("yo", in)
	if in[0].Content != "hi there" || len(in) != 3 {
		t.Errorf("input mutated: %+v", in)
	}
}

func TestRegexMetacharactersAreLiteral(t *testing.T) {
	in := []model.Message{{User: model.User{Name: "A"}, Content: "cost (usd)"}}
	got := Filter("(usd)", in)
	if len(got) != 1 {
		t.Errorf("metacharacter query should match literally, got %+v", got)
	}
}

func TestSearcherSettleWindow(t *testing.T) {
	s := NewSearcher(500 * time.Millisecond)
	clock := time.Unix(1700000000, 0)
	s.now = func() time.Time { return clock }

	if s.Searching() {
		t.Error("no query: should not be searching")
	}

	s.SetQuery("yo")
	if !s.Searching() {
		t.Error("inside settle window: should be searching")
	}

	clock = clock.Add(499 * time.Millisecond)
	if !s.Searching() {
		t.Error("still inside settle window")
	}

	clock = clock.Add(2 * time.Millisecond)
	if s.Searching() {
		t.Error("settle window elapsed: should not be searching")
	}
}

func TestSearcherApply(t *testing.T) {
	s := NewSearcher(0)
	s.SetQuery("yo")
	got := s.Apply(msgs())
	if len(got) != 1 || got[0].Content != "yo" {
		t.Errorf("got %+v", got)
	}

	s.SetQuery("")
	if got := s.Apply(msgs()); len(got) != 3 {
		t.Errorf("empty query should fall back to canonical list, got %d", len(got))
	}
}
