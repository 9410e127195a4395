// Package session orchestrates the engine for one authenticated user: it
// owns the active channel's components, switches channels with full
// detach-then-attach, and exposes the derived view to the UI layer.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"

	"github.com/mizuki-dev/kaiwa/internal/backend"
	"github.com/mizuki-dev/kaiwa/internal/config"
	"github.com/mizuki-dev/kaiwa/internal/favorites"
	"github.com/mizuki-dev/kaiwa/internal/model"
	"github.com/mizuki-dev/kaiwa/internal/search"
	"github.com/mizuki-dev/kaiwa/internal/stream"
	"github.com/mizuki-dev/kaiwa/internal/subs"
	"github.com/mizuki-dev/kaiwa/internal/typing"
	"github.com/mizuki-dev/kaiwa/internal/upload"
)

var (
	// ErrNoChannel is returned for operations that need an active channel.
	ErrNoChannel = errors.New("no active channel")
	// ErrMissingChannelFields rejects channel creation without name and details.
	ErrMissingChannelFields = errors.New("channel name and details are required")
)

// Session binds the engine to one user and one backend connection. The
// channel and user context is explicit here, never ambient.
type Session struct {
	cfg      *config.Config
	svc      backend.Service
	self     model.User
	onUpdate func()

	chanSubs *subs.Registry // active channel's subscriptions
	appSubs  *subs.Registry // connectivity + channel directory

	searcher *search.Searcher

	mu       sync.Mutex
	channels []model.Channel
	channel  model.Channel
	active   bool
	agg      *stream.Aggregator
	tracker  *typing.Tracker
	star     *favorites.Star
	uploader *upload.Uploader
	errs     []error
}

// New creates a session and attaches the connection-scoped subscriptions:
// the connectivity signal (to re-arm presence cleanup on every connect) and
// the channel directory stream. onUpdate fires whenever any derived view
// changes and may be nil.
func New(svc backend.Service, self model.User, cfg *config.Config, onUpdate func()) (*Session, error) {
	s := &Session{
		cfg:      cfg,
		svc:      svc,
		self:     self,
		onUpdate: onUpdate,
		chanSubs: subs.NewRegistry(),
		appSubs:  subs.NewRegistry(),
		searcher: search.NewSearcher(time.Duration(cfg.SearchSettleMS) * time.Millisecond),
	}

	connKey := subs.Key{Source: "connectivity", Kind: subs.KindConnectivity}
	if _, err := s.appSubs.Attach(connKey, func() (func(), error) {
		return svc.Connectivity().Subscribe(s.onConnectivity), nil
	}); err != nil {
		return nil, fmt.Errorf("attaching connectivity: %w", err)
	}

	dirKey := subs.Key{Source: "channels", Kind: subs.KindChannelAdded}
	if _, err := s.appSubs.Attach(dirKey, func() (func(), error) {
		return svc.Channels().Subscribe(s.onChannelAdded)
	}); err != nil {
		s.appSubs.DetachAll()
		return nil, fmt.Errorf("attaching channel directory: %w", err)
	}

	return s, nil
}

// Activate switches the engine to the given channel. The previous channel's
// subscriptions are detached and its state discarded before anything new
// attaches, so stale events can never leak into the new view.
func (s *Session) Activate(ch model.Channel) error {
	s.chanSubs.DetachAll()

	s.mu.Lock()
	prevUpload := s.uploader
	s.agg = nil
	s.tracker = nil
	s.star = nil
	s.uploader = nil
	s.active = false
	s.errs = nil
	s.mu.Unlock()

	if prevUpload != nil {
		prevUpload.Teardown()
	}
	s.searcher.SetQuery("")

	agg := stream.New(ch.ID, s.self, s.svc.Messages(ch.Private), s.notify)
	tracker := typing.New(ch.ID, s.self, s.svc.Presence(), s.notify)
	star := favorites.New(ch, s.self.ID, s.svc.Favorites())
	uploader := upload.New(s.svc.Blobs(), s.cfg.Upload.PathPrefix, agg.SubmitImage, s.addError)

	if err := agg.Activate(s.chanSubs); err != nil {
		return fmt.Errorf("activating channel %s: %w", ch.ID, err)
	}
	if s.cfg.TypingIndicator.Enabled {
		if err := tracker.Activate(s.chanSubs); err != nil {
			s.chanSubs.DetachAll()
			return fmt.Errorf("activating channel %s: %w", ch.ID, err)
		}
		if err := tracker.ArmDisconnect(); err != nil {
			slog.Warn("arming presence cleanup failed", "channel", ch.ID, "error", err)
		}
	}
	if err := star.Load(); err != nil {
		// Stale favorite state is recoverable by reactivating the channel.
		slog.Warn("loading favorite state failed", "channel", ch.ID, "error", err)
	}

	s.mu.Lock()
	s.channel = ch
	s.active = true
	s.agg = agg
	s.tracker = tracker
	s.star = star
	s.uploader = uploader
	s.mu.Unlock()

	s.notify()
	return nil
}

// Close detaches everything and cancels any in-flight upload.
func (s *Session) Close() {
	s.chanSubs.DetachAll()
	s.appSubs.DetachAll()

	s.mu.Lock()
	up := s.uploader
	s.active = false
	s.mu.Unlock()
	if up != nil {
		up.Teardown()
	}
}

func (s *Session) onConnectivity(connected bool) {
	if !connected {
		return
	}
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker != nil && s.cfg.TypingIndicator.Enabled {
		if err := tracker.ArmDisconnect(); err != nil {
			slog.Warn("re-arming presence cleanup failed", "error", err)
		}
	}
}

func (s *Session) onChannelAdded(ch model.Channel) {
	s.mu.Lock()
	s.channels = append(s.channels, ch)
	s.mu.Unlock()
	s.notify()
}

// Send submits a text message to the active channel and resets the local
// typing state. Failures are appended to the error list and returned.
func (s *Session) Send(text string) error {
	s.mu.Lock()
	agg, tracker := s.agg, s.tracker
	s.mu.Unlock()
	if agg == nil {
		return ErrNoChannel
	}

	if err := agg.Submit(text); err != nil {
		s.addError(err)
		return err
	}
	if tracker != nil && s.cfg.TypingIndicator.Enabled {
		if err := tracker.MessageSent(); err != nil {
			slog.Warn("clearing typing presence failed", "error", err)
		}
	}
	return nil
}

// InputChanged feeds composition activity to the typing tracker.
func (s *Session) InputChanged(text string) {
	if !s.cfg.TypingIndicator.Enabled {
		return
	}
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker == nil {
		return
	}
	if err := tracker.InputChanged(text); err != nil {
		slog.Warn("updating typing presence failed", "error", err)
	}
}

// Upload starts a media upload for the active channel's form.
func (s *Session) Upload(r io.Reader, size int64, contentType string) error {
	s.mu.Lock()
	up := s.uploader
	s.mu.Unlock()
	if up == nil {
		return ErrNoChannel
	}
	return up.Start(r, size, contentType)
}

// CancelUpload aborts the in-flight upload, if any.
func (s *Session) CancelUpload() {
	s.mu.Lock()
	up := s.uploader
	s.mu.Unlock()
	if up != nil {
		up.Cancel()
	}
}

// ToggleStar flips the active channel's favorite state.
func (s *Session) ToggleStar() {
	s.mu.Lock()
	star := s.star
	s.mu.Unlock()
	if star != nil {
		star.Toggle()
		s.notify()
	}
}

// CreateChannel validates and creates a channel with the local user as
// creator. The new channel arrives through the directory stream.
func (s *Session) CreateChannel(name, details string, private bool) error {
	if name == "" || details == "" {
		return ErrMissingChannelFields
	}
	ch := model.Channel{
		ID:        uuid.NewString(),
		Name:      name,
		Details:   details,
		CreatedBy: s.self,
		Private:   private,
	}
	if err := s.svc.Channels().Create(ch); err != nil {
		return fmt.Errorf("creating channel: %w", err)
	}
	return nil
}

// FindChannel fuzzy-matches the query against the known channel names and
// returns the best match.
func (s *Session) FindChannel(query string) (model.Channel, bool) {
	s.mu.Lock()
	channels := make([]model.Channel, len(s.channels))
	copy(channels, s.channels)
	s.mu.Unlock()

	targets := make([]string, len(channels))
	for i, ch := range channels {
		targets[i] = strings.ToLower(ch.Name)
	}

	matches := fuzzy.Find(strings.ToLower(query), targets)
	if len(matches) == 0 {
		return model.Channel{}, false
	}
	return channels[matches[0].Index], true
}

// SetQuery updates the live search query.
func (s *Session) SetQuery(q string) {
	s.searcher.SetQuery(q)
	s.notify()
}

// Searching reports whether the search settle window is open.
func (s *Session) Searching() bool { return s.searcher.Searching() }

// Messages returns the active channel's ordered message list, filtered by
// the live query when one is set.
func (s *Session) Messages() []model.Message {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	if agg == nil {
		return nil
	}
	return s.searcher.Apply(agg.Messages())
}

// UniqueUsersLabel returns the distinct-author summary for the active channel.
func (s *Session) UniqueUsersLabel() string {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	if agg == nil {
		return "0 users"
	}
	return agg.UniqueUsersLabel()
}

// Stats returns the per-author post counts for the active channel.
func (s *Session) Stats() map[string]stream.AuthorStats {
	s.mu.Lock()
	agg := s.agg
	s.mu.Unlock()
	if agg == nil {
		return nil
	}
	return agg.Stats()
}

// TypingStatus returns the formatted typing indicator line.
func (s *Session) TypingStatus() string {
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker == nil {
		return ""
	}
	return tracker.FormatStatus()
}

// TypingUsers returns the visible typing users.
func (s *Session) TypingUsers() []model.User {
	s.mu.Lock()
	tracker := s.tracker
	s.mu.Unlock()
	if tracker == nil {
		return nil
	}
	return tracker.Users()
}

// Starred returns the active channel's favorite state.
func (s *Session) Starred() bool {
	s.mu.Lock()
	star := s.star
	s.mu.Unlock()
	return star != nil && star.Starred()
}

// UploadPhase returns the upload state machine phase.
func (s *Session) UploadPhase() upload.Phase {
	s.mu.Lock()
	up := s.uploader
	s.mu.Unlock()
	if up == nil {
		return upload.Idle
	}
	return up.Phase()
}

// UploadPercent returns the upload progress percentage.
func (s *Session) UploadPercent() int {
	s.mu.Lock()
	up := s.uploader
	s.mu.Unlock()
	if up == nil {
		return 0
	}
	return up.Percent()
}

// Channel returns the active channel.
func (s *Session) Channel() (model.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel, s.active
}

// Channels returns the known channel list.
func (s *Session) Channels() []model.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// Errors returns the accumulated user-facing errors for the active form.
func (s *Session) Errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]error, len(s.errs))
	copy(out, s.errs)
	return out
}

func (s *Session) addError(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	if s.onUpdate != nil {
		s.onUpdate()
	}
}
