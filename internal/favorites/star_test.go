package favorites

import (
	"errors"
	"testing"

	"github.com/mizuki-dev/kaiwa/internal/model"
)

// fakeStore is an in-memory FavoritesStore.
type fakeStore struct {
	favs      map[string]model.FavoriteSnapshot
	getErr    error
	deleteErr error
	upserts   int
	deletes   int
}

func (f *fakeStore) Get(userID string) (map[string]model.FavoriteSnapshot, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.favs, nil
}

func (f *fakeStore) Upsert(userID, channelID string, s model.FavoriteSnapshot) error {
	f.upserts++
	if f.favs == nil {
		f.favs = make(map[string]model.FavoriteSnapshot)
	}
	f.favs[channelID] = s
	return nil
}

func (f *fakeStore) Delete(userID, channelID string) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.favs, channelID)
	return nil
}

var channel = model.Channel{
	ID:        "C1",
	Name:      "general",
	Details:   "everything",
	CreatedBy: model.User{ID: "U9", Name: "carol", Avatar: "c.png"},
}

func TestLoadSetsInitialState(t *testing.T) {
	store := &fakeStore{favs: map[string]model.FavoriteSnapshot{"C1": model.SnapshotOf(channel)}}
	s := New(channel, "U1", store)

	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if !s.Starred() {
		t.Error("channel in favorite set should load as starred")
	}
}

func TestLoadAbsentChannel(t *testing.T) {
	s := New(channel, "U1", &fakeStore{})
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Starred() {
		t.Error("channel absent from favorite set should load unstarred")
	}
}

func TestLoadFailure(t *testing.T) {
	s := New(channel, "U1", &fakeStore{getErr: errors.New("read rejected")})
	if err := s.Load(); err == nil {
		t.Error("expected load error")
	}
}

func TestToggleWritesThroughSnapshot(t *testing.T) {
	store := &fakeStore{}
	s := New(channel, "U1", store)

	s.Toggle()
	if !s.Starred() {
		t.Error("toggle should star")
	}
	if store.upserts != 1 {
		t.Errorf("upserts = %d, want 1", store.upserts)
	}

	snap := store.favs["C1"]
	if snap.Name != "general" || snap.CreatedBy.Name != "carol" {
		t.Errorf("stored snapshot = %+v", snap)
	}

	s.Toggle()
	if s.Starred() {
		t.Error("second toggle should unstar")
	}
	if store.deletes != 1 {
		t.Errorf("deletes = %d, want 1", store.deletes)
	}
	if _, ok := store.favs["C1"]; ok {
		t.Error("record should be deleted")
	}
}

func TestRemovalFailureKeepsLocalState(t *testing.T) {
	store := &fakeStore{deleteErr: errors.New("delete rejected")}
	s := New(channel, "U1", store)

	s.Toggle() // star
	s.Toggle() // unstar; remote delete fails

	// Local state is authoritative: the accepted inconsistency window.
	if s.Starred() {
		t.Error("local state must reflect the toggle despite the failed delete")
	}
}
