// Package backend defines the surfaces the engine consumes from the chat
// backend service, and a websocket client implementing them.
//
// Event delivery is single-threaded: every subscription callback runs on the
// client's read pump goroutine, in the order the backend emitted the events.
// Events across different subscriptions carry no relative ordering guarantee.
package backend

import (
	"errors"
	"io"

	"github.com/mizuki-dev/kaiwa/internal/model"
)

// ErrClosed is returned for operations on a closed or disconnected client.
var ErrClosed = errors.New("backend: connection closed")

// MessageSource is an ordered, append-only, per-channel event source of
// messages. Subscribe delivers every existing and future message exactly
// once, in arrival order. The returned cancel is idempotent.
type MessageSource interface {
	// ID identifies the source (public vs private namespace).
	ID() string
	Subscribe(channelID string, fn func(model.Message)) (cancel func(), err error)
	// Append stores a message; the server assigns the timestamp. The stored
	// message is delivered back through the subscription, never echoed here.
	Append(channelID string, m model.Message) error
}

// PresenceSource exposes a channel's typing presence records. Added and
// removed entries are two independent event kinds with independent
// subscriptions.
type PresenceSource interface {
	SubscribeAdded(channelID string, fn func(u model.User)) (cancel func(), err error)
	SubscribeRemoved(channelID string, fn func(userID string)) (cancel func(), err error)
	// Set writes the user's presence record for the channel.
	Set(channelID string, u model.User) error
	// Clear removes the user's presence record. Clearing an absent record
	// is a no-op server-side.
	Clear(channelID, userID string) error
	// OnDisconnect registers a server-side removal of the user's presence
	// record, applied if the connection drops before an explicit Clear.
	OnDisconnect(channelID, userID string) error
}

// Connectivity emits boolean connected/disconnected transitions. The current
// state is delivered immediately on subscribe.
type Connectivity interface {
	Subscribe(fn func(connected bool)) (cancel func())
}

// FavoritesStore is the per-user favorites key-value store.
type FavoritesStore interface {
	Get(userID string) (map[string]model.FavoriteSnapshot, error)
	Upsert(userID, channelID string, s model.FavoriteSnapshot) error
	Delete(userID, channelID string) error
}

// ChannelDirectory lists and creates channels and streams newly created ones.
type ChannelDirectory interface {
	List() ([]model.Channel, error)
	Create(ch model.Channel) error
	Subscribe(fn func(model.Channel)) (cancel func(), err error)
}

// TransferCallbacks receive the lifecycle events of one blob upload.
// After the transfer is cancelled, no further callbacks are guaranteed to be
// suppressed at this layer; callers gate stale events themselves.
type TransferCallbacks struct {
	OnProgress func(sent, total int64)
	OnDone     func(url string)
	OnError    func(err error)
}

// Transfer is a handle to an in-flight blob upload.
type Transfer interface {
	Cancel()
}

// BlobStore uploads binary objects with progress reporting and resolves the
// retrieval URL on completion.
type BlobStore interface {
	Put(key, contentType string, r io.Reader, size int64, cb TransferCallbacks) (Transfer, error)
}

// Service bundles every collaborator surface of the chat backend.
type Service interface {
	// Messages selects the public or private message source.
	Messages(private bool) MessageSource
	Presence() PresenceSource
	Connectivity() Connectivity
	Favorites() FavoritesStore
	Channels() ChannelDirectory
	Blobs() BlobStore
}
