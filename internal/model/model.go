// Package model defines the chat domain types shared across the engine.
package model

import "errors"

// ErrPayload is returned when a message does not carry exactly one of
// text content or an image URL.
var ErrPayload = errors.New("message must carry exactly one of content or image")

// User describes a message author or presence participant.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
}

// Channel is a named conversation scope, public or private.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Details   string `json:"details"`
	CreatedBy User   `json:"createdBy"`
	Private   bool   `json:"private"`
}

// Message is one entry of a channel's append stream. The server-assigned
// timestamp is the ordering key and the only identity the model has.
// Exactly one of Content or Image is set.
type Message struct {
	Timestamp int64  `json:"timestamp"`
	User      User   `json:"user"`
	Content   string `json:"content,omitempty"`
	Image     string `json:"image,omitempty"`
}

// IsImage reports whether the message carries an image payload.
func (m Message) IsImage() bool { return m.Image != "" }

// Validate checks the one-of payload invariant.
func (m Message) Validate() error {
	if (m.Content == "") == (m.Image == "") {
		return ErrPayload
	}
	return nil
}

// FavoriteSnapshot is the denormalized channel record stored in a user's
// favorite set, taken at the moment of favoriting.
type FavoriteSnapshot struct {
	Name      string `json:"name"`
	Details   string `json:"details"`
	CreatedBy User   `json:"createdBy"`
}

// SnapshotOf builds the favorite snapshot for a channel.
func SnapshotOf(ch Channel) FavoriteSnapshot {
	return FavoriteSnapshot{
		Name:      ch.Name,
		Details:   ch.Details,
		CreatedBy: ch.CreatedBy,
	}
}
