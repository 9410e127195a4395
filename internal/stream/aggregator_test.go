package stream

import (
	"errors"
	"testing"

	"github.com/mizuki-dev/kaiwa/internal/model"
	"github.com/mizuki-dev/kaiwa/internal/subs"
)

// fakeSource is an in-memory MessageSource; deliver pushes an event to the
// subscriber as the stream would.
type fakeSource struct {
	id         string
	deliver    func(model.Message)
	appended   []model.Message
	appendErr  error
	subscribes int
	cancels    int
}

func (f *fakeSource) ID() string {
	if f.id == "" {
		return "messages/public"
	}
	return f.id
}

func (f *fakeSource) Subscribe(channelID string, fn func(model.Message)) (func(), error) {
	f.subscribes++
	f.deliver = fn
	return func() { f.cancels++ }, nil
}

func (f *fakeSource) Append(channelID string, m model.Message) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, m)
	return nil
}

var self = model.User{ID: "U0", Name: "me", Avatar: "me.png"}

func activated(t *testing.T, src *fakeSource) *Aggregator {
	t.Helper()
	a := New("C1", self, src, nil)
	if err := a.Activate(subs.NewRegistry()); err != nil {
		t.Fatal(err)
	}
	return a
}

func msg(name, content string) model.Message {
	return model.Message{User: model.User{ID: "U-" + name, Name: name, Avatar: name + ".png"}, Content: content}
}

func TestAppendPreservesOrderAndLength(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	in := []model.Message{msg("A", "one"), msg("B", "two"), msg("A", "three")}
	for _, m := range in {
		src.deliver(m)
	}

	got := a.Messages()
	if len(got) != len(in) {
		t.Fatalf("len = %d, want %d", len(got), len(in))
	}
	for i := range in {
		if got[i].Content != in[i].Content {
			t.Errorf("position %d: got %q, want %q", i, got[i].Content, in[i].Content)
		}
	}
}

func TestUniqueUsersLabelEveryPrefix(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	steps := []struct {
		m    model.Message
		want string
	}{
		{msg("A", "1"), "1 user"},
		{msg("A", "2"), "1 user"},
		{msg("B", "3"), "2 users"},
		{msg("C", "4"), "3 users"},
	}

	if got := a.UniqueUsersLabel(); got != "0 users" {
		t.Errorf("empty prefix: got %q, want %q", got, "0 users")
	}
	for i, s := range steps {
		src.deliver(s.m)
		if got := a.UniqueUsersLabel(); got != s.want {
			t.Errorf("prefix %d: got %q, want %q", i+1, got, s.want)
		}
	}
}

func TestStatsSumToTotal(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	for i, name := range []string{"A", "B", "A", "C", "A", "B"} {
		src.deliver(msg(name, "x"))

		sum := 0
		for _, st := range a.Stats() {
			sum += st.Posts
		}
		if sum != i+1 {
			t.Errorf("after %d events: stats sum = %d, want %d", i+1, sum, i+1)
		}
	}
}

func TestStatsTrackAvatar(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)
	src.deliver(msg("A", "hello"))

	st, ok := a.Stats()["A"]
	if !ok {
		t.Fatal("author A missing from stats")
	}
	if st.Avatar != "A.png" {
		t.Errorf("avatar = %q, want %q", st.Avatar, "A.png")
	}
}

func TestActivateResetsView(t *testing.T) {
	src := &fakeSource{}
	a := New("C1", self, src, nil)
	reg := subs.NewRegistry()

	if err := a.Activate(reg); err != nil {
		t.Fatal(err)
	}
	src.deliver(msg("A", "old"))

	reg.DetachAll()
	if err := a.Activate(reg); err != nil {
		t.Fatal(err)
	}

	if a.Len() != 0 {
		t.Errorf("len after reactivation = %d, want 0", a.Len())
	}
	if got := a.UniqueUsersLabel(); got != "0 users" {
		t.Errorf("label after reactivation = %q, want %q", got, "0 users")
	}
}

func TestActivateDuplicateAttachFails(t *testing.T) {
	src := &fakeSource{}
	a := New("C1", self, src, nil)
	reg := subs.NewRegistry()

	if err := a.Activate(reg); err != nil {
		t.Fatal(err)
	}
	if err := a.Activate(reg); err == nil {
		t.Error("second activation on the same registry should fail")
	}
	if src.subscribes != 1 {
		t.Errorf("source subscribed %d times, want 1", src.subscribes)
	}
}

func TestSubmitEmptyIsRejectedBeforeBackend(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	if err := a.Submit(""); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if len(src.appended) != 0 {
		t.Error("empty submission must not reach the backend")
	}
}

func TestSubmitFailureIsNotOptimistic(t *testing.T) {
	src := &fakeSource{appendErr: errors.New("write rejected")}
	a := activated(t, src)

	if err := a.Submit("hello"); err == nil {
		t.Fatal("expected transport error")
	}
	if a.Len() != 0 {
		t.Error("failed submit must not appear in the local view")
	}
}

func TestSubmitSuccessIsNotOptimisticEither(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	if err := a.Submit("hello"); err != nil {
		t.Fatal(err)
	}
	// The view reflects only deliveries from the stream.
	if a.Len() != 0 {
		t.Error("view updated before the append was delivered back")
	}

	src.deliver(src.appended[0])
	if a.Len() != 1 {
		t.Error("delivered append missing from view")
	}
}

func TestSubmitPayloads(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	if err := a.Submit("hi"); err != nil {
		t.Fatal(err)
	}
	if err := a.SubmitImage("https://cdn/u1.jpg"); err != nil {
		t.Fatal(err)
	}

	for i, m := range src.appended {
		if err := m.Validate(); err != nil {
			t.Errorf("appended message %d invalid: %v", i, err)
		}
		if m.User != self {
			t.Errorf("appended message %d author = %+v, want self", i, m.User)
		}
	}
	if src.appended[0].Content != "hi" || src.appended[1].Image != "https://cdn/u1.jpg" {
		t.Errorf("payloads wrong: %+v", src.appended)
	}
}

func TestEndToEndExample(t *testing.T) {
	src := &fakeSource{}
	a := activated(t, src)

	src.deliver(msg("A", "hi"))
	src.deliver(model.Message{User: model.User{ID: "U-B", Name: "B", Avatar: "B.png"}, Image: "u1"})
	src.deliver(msg("A", "yo"))

	if a.Len() != 3 {
		t.Errorf("len = %d, want 3", a.Len())
	}
	if got := a.UniqueUsersLabel(); got != "2 users" {
		t.Errorf("label = %q, want %q", got, "2 users")
	}
	stats := a.Stats()
	if stats["A"].Posts != 2 {
		t.Errorf("A posts = %d, want 2", stats["A"].Posts)
	}
	if stats["B"].Posts != 1 {
		t.Errorf("B posts = %d, want 1", stats["B"].Posts)
	}
}
