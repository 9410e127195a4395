// Package stream turns a channel's append event stream into the live
// aggregated view: the ordered message list plus per-author statistics.
package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mizuki-dev/kaiwa/internal/backend"
	"github.com/mizuki-dev/kaiwa/internal/model"
	"github.com/mizuki-dev/kaiwa/internal/subs"
)

// ErrEmptyMessage is returned when a submission carries no text.
var ErrEmptyMessage = errors.New("message text is empty")

// AuthorStats holds the derived per-author aggregate.
type AuthorStats struct {
	Avatar string
	Posts  int
}

// Aggregator owns one channel's aggregated view. Appends arrive in stream
// order and are never reordered or deduplicated; a duplicate delivery is a
// caller error upstream, not something the aggregator filters.
type Aggregator struct {
	channelID string
	self      model.User
	src       backend.MessageSource
	onChange  func()

	mu       sync.Mutex
	messages []model.Message
	stats    map[string]AuthorStats // author name → aggregate
}

// New creates an aggregator for one channel bound to a message source.
// The source decides public vs private; callers select it per channel
// visibility. onChange fires after every applied append and may be nil.
func New(channelID string, self model.User, src backend.MessageSource, onChange func()) *Aggregator {
	return &Aggregator{
		channelID: channelID,
		self:      self,
		src:       src,
		onChange:  onChange,
		stats:     make(map[string]AuthorStats),
	}
}

// Activate resets the view and subscribes to the channel's append stream
// from the beginning. The registry rejects a duplicate attach, so the same
// stream can never feed the view twice.
func (a *Aggregator) Activate(reg *subs.Registry) error {
	a.mu.Lock()
	a.messages = nil
	a.stats = make(map[string]AuthorStats)
	a.mu.Unlock()

	key := subs.Key{Channel: a.channelID, Source: a.src.ID(), Kind: subs.KindMessageAdded}
	ok, err := reg.Attach(key, func() (func(), error) {
		return a.src.Subscribe(a.channelID, a.append)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", a.src.ID(), err)
	}
	if !ok {
		return fmt.Errorf("stream for channel %s already attached", a.channelID)
	}
	return nil
}

// append applies one delivered event: one message at the end of the ordered
// sequence, and an O(1) update of the author aggregates.
func (a *Aggregator) append(m model.Message) {
	a.mu.Lock()
	a.messages = append(a.messages, m)
	st := a.stats[m.User.Name]
	st.Posts++
	st.Avatar = m.User.Avatar
	a.stats[m.User.Name] = st
	a.mu.Unlock()

	if a.onChange != nil {
		a.onChange()
	}
}

// Submit appends a text message authored by the local user. The view is not
// updated here; it only reflects acknowledged appends delivered back through
// the stream. The server assigns the timestamp.
func (a *Aggregator) Submit(text string) error {
	if text == "" {
		return ErrEmptyMessage
	}
	m := model.Message{User: a.self, Content: text}
	if err := a.src.Append(a.channelID, m); err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SubmitImage appends an image message authored by the local user.
func (a *Aggregator) SubmitImage(url string) error {
	if url == "" {
		return ErrEmptyMessage
	}
	m := model.Message{User: a.self, Image: url}
	if err := a.src.Append(a.channelID, m); err != nil {
		return fmt.Errorf("sending image message: %w", err)
	}
	return nil
}

// Messages returns a copy of the ordered message list.
func (a *Aggregator) Messages() []model.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.Message, len(a.messages))
	copy(out, a.messages)
	return out
}

// Len returns the number of messages in the view.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.messages)
}

// Stats returns a copy of the per-author aggregates keyed by display name.
func (a *Aggregator) Stats() map[string]AuthorStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]AuthorStats, len(a.stats))
	for k, v := range a.stats {
		out[k] = v
	}
	return out
}

// UniqueUsersLabel returns the distinct-author summary, "<n> user<s>" with
// the plural for every count except exactly one.
func (a *Aggregator) UniqueUsersLabel() string {
	a.mu.Lock()
	n := len(a.stats)
	a.mu.Unlock()

	plural := "s"
	if n == 1 {
		plural = ""
	}
	return fmt.Sprintf("%d user%s", n, plural)
}
