// Package typing maintains a channel's typing presence: the live set of
// remote users currently composing, and the local user's own idle/typing
// state machine with its upstream presence record.
package typing

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mizuki-dev/kaiwa/internal/backend"
	"github.com/mizuki-dev/kaiwa/internal/model"
	"github.com/mizuki-dev/kaiwa/internal/subs"
)

// State is the local user's composition state.
type State int

const (
	Idle State = iota
	Typing
)

func (s State) String() string {
	if s == Typing {
		return "typing"
	}
	return "idle"
}

// Tracker tracks who is typing in one channel. Remote entries arrive as
// add/remove presence events; the local user's entry is written upstream on
// state transitions but never shown in the local set.
// It is safe for concurrent use.
type Tracker struct {
	channelID string
	self      model.User
	src       backend.PresenceSource
	onChange  func()

	mu    sync.Mutex
	users map[string]string // userID → display name, excluding self
	state State
}

// New creates a Tracker for one channel. The onChange callback fires
// whenever the visible typing set changes and may be nil.
func New(channelID string, self model.User, src backend.PresenceSource, onChange func()) *Tracker {
	return &Tracker{
		channelID: channelID,
		self:      self,
		src:       src,
		onChange:  onChange,
		users:     make(map[string]string),
	}
}

// Activate subscribes to the channel's presence additions and removals as
// two independent event kinds.
func (t *Tracker) Activate(reg *subs.Registry) error {
	added := subs.Key{Channel: t.channelID, Source: "presence", Kind: subs.KindPresenceAdded}
	ok, err := reg.Attach(added, func() (func(), error) {
		return t.src.SubscribeAdded(t.channelID, t.add)
	})
	if err != nil {
		return fmt.Errorf("subscribing to presence additions: %w", err)
	}
	if !ok {
		return fmt.Errorf("presence additions for channel %s already attached", t.channelID)
	}

	removed := subs.Key{Channel: t.channelID, Source: "presence", Kind: subs.KindPresenceRemoved}
	ok, err = reg.Attach(removed, func() (func(), error) {
		return t.src.SubscribeRemoved(t.channelID, t.remove)
	})
	if err != nil {
		return fmt.Errorf("subscribing to presence removals: %w", err)
	}
	if !ok {
		return fmt.Errorf("presence removals for channel %s already attached", t.channelID)
	}
	return nil
}

// add applies a remote presence addition. The local user's own record is
// suppressed: it exists upstream for other clients only.
func (t *Tracker) add(u model.User) {
	if u.ID == t.self.ID {
		return
	}

	t.mu.Lock()
	_, known := t.users[u.ID]
	t.users[u.ID] = u.Name
	t.mu.Unlock()

	if !known && t.onChange != nil {
		t.onChange()
	}
}

// remove applies a remote presence removal. Removing a user not in the set
// is a no-op.
func (t *Tracker) remove(userID string) {
	t.mu.Lock()
	_, known := t.users[userID]
	delete(t.users, userID)
	t.mu.Unlock()

	if known && t.onChange != nil {
		t.onChange()
	}
}

// InputChanged drives the local state machine from composition activity:
// non-empty input moves idle→typing and writes the presence record, empty
// input moves typing→idle and clears it. Repeated calls within a state are
// no-ops, so each edge writes upstream exactly once.
func (t *Tracker) InputChanged(text string) error {
	t.mu.Lock()
	var edge State
	switch {
	case text != "" && t.state == Idle:
		t.state = Typing
		edge = Typing
	case text == "" && t.state == Typing:
		t.state = Idle
		edge = Idle
	default:
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if edge == Typing {
		if err := t.src.Set(t.channelID, t.self); err != nil {
			return fmt.Errorf("writing presence: %w", err)
		}
		return nil
	}
	if err := t.src.Clear(t.channelID, t.self.ID); err != nil {
		return fmt.Errorf("clearing presence: %w", err)
	}
	return nil
}

// MessageSent moves the local state back to idle and clears the upstream
// record, as sending empties the input.
func (t *Tracker) MessageSent() error {
	return t.InputChanged("")
}

// ArmDisconnect registers the server-side removal of the local user's
// presence record, fired if the connection drops before an explicit clear.
// Call on every connected transition so presence self-heals after crashes.
func (t *Tracker) ArmDisconnect() error {
	if err := t.src.OnDisconnect(t.channelID, t.self.ID); err != nil {
		return fmt.Errorf("arming disconnect cleanup: %w", err)
	}
	return nil
}

// State returns the local user's composition state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Users returns the visible typing users sorted by name.
func (t *Tracker) Users() []model.User {
	t.mu.Lock()
	out := make([]model.User, 0, len(t.users))
	for id, name := range t.users {
		out = append(out, model.User{ID: id, Name: name})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FormatStatus returns a formatted typing status string for the channel.
// Returns empty string if no one is typing.
//
// Patterns:
//   - "alice is typing..."
//   - "alice and bob are typing..."
//   - "alice, bob, and 2 others are typing..."
func (t *Tracker) FormatStatus() string {
	users := t.Users()
	if len(users) == 0 {
		return ""
	}

	names := make([]string, len(users))
	for i, u := range users {
		names[i] = u.Name
	}

	switch len(names) {
	case 1:
		return fmt.Sprintf("%s is typing...", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing...", names[0], names[1])
	default:
		first := strings.Join(names[:2], ", ")
		others := len(names) - 2
		if others == 1 {
			return fmt.Sprintf("%s, and 1 other are typing...", first)
		}
		return fmt.Sprintf("%s, and %d others are typing...", first, others)
	}
}
