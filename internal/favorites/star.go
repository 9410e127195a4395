// Package favorites manages a channel's star: one initial read per channel
// activation, then an optimistic local toggle with immediate write-through.
package favorites

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mizuki-dev/kaiwa/internal/backend"
	"github.com/mizuki-dev/kaiwa/internal/model"
)

// Star holds the favorite state of one channel for one user.
type Star struct {
	channel model.Channel
	userID  string
	store   backend.FavoritesStore

	mu      sync.Mutex
	starred bool
}

// New creates a Star for the channel/user pair.
func New(channel model.Channel, userID string, store backend.FavoritesStore) *Star {
	return &Star{channel: channel, userID: userID, store: store}
}

// Load reads the user's favorite set once and initializes local state.
func (s *Star) Load() error {
	favs, err := s.store.Get(s.userID)
	if err != nil {
		return fmt.Errorf("loading favorites: %w", err)
	}
	_, ok := favs[s.channel.ID]

	s.mu.Lock()
	s.starred = ok
	s.mu.Unlock()
	return nil
}

// Toggle flips the local state and writes through: starring upserts a
// denormalized snapshot, unstarring deletes the record. The local boolean is
// authoritative for the UI; write failures are logged, not rolled back.
func (s *Star) Toggle() {
	s.mu.Lock()
	s.starred = !s.starred
	starred := s.starred
	s.mu.Unlock()

	if starred {
		if err := s.store.Upsert(s.userID, s.channel.ID, model.SnapshotOf(s.channel)); err != nil {
			slog.Warn("star write failed", "channel", s.channel.ID, "error", err)
		}
		return
	}
	if err := s.store.Delete(s.userID, s.channel.ID); err != nil {
		slog.Warn("unstar write failed", "channel", s.channel.ID, "error", err)
	}
}

// Starred returns the local favorite state.
func (s *Star) Starred() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starred
}
