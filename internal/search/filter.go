// Package search derives a filtered view of the aggregated message list
// from a live query string.
package search

import (
	"regexp"
	"sync"
	"time"

	"github.com/mizuki-dev/kaiwa/internal/model"
)

// Filter returns the subsequence of msgs whose text content or author name
// matches query as a case-insensitive substring, preserving order. An empty
// query means no active filter: the canonical list is returned as-is.
// Filter is a pure function and never mutates its input.
func Filter(query string, msgs []model.Message) []model.Message {
	if query == "" {
		return msgs
	}

	re := regexp.MustCompile("(?i)" + regexp.QuoteMeta(query))

	out := make([]model.Message, 0)
	for _, m := range msgs {
		if (m.Content != "" && re.MatchString(m.Content)) || re.MatchString(m.User.Name) {
			out = append(out, m)
		}
	}
	return out
}

// Searcher holds the live query and the settle indicator. A search counts
// as pending for a fixed delay after the query changes; this drives a
// loading indicator only and carries no correctness weight.
type Searcher struct {
	mu        sync.Mutex
	query     string
	changedAt time.Time
	settle    time.Duration
	now       func() time.Time
}

// NewSearcher creates a Searcher with the given settle delay.
func NewSearcher(settle time.Duration) *Searcher {
	return &Searcher{settle: settle, now: time.Now}
}

// SetQuery replaces the live query and restarts the settle window.
func (s *Searcher) SetQuery(q string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.query = q
	s.changedAt = s.now()
}

// Query returns the live query.
func (s *Searcher) Query() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query
}

// Searching reports whether the settle window since the last non-empty
// query change is still open.
func (s *Searcher) Searching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.query == "" {
		return false
	}
	return s.now().Sub(s.changedAt) < s.settle
}

// Apply recomputes the filtered view from the current query and the given
// canonical snapshot.
func (s *Searcher) Apply(msgs []model.Message) []model.Message {
	return Filter(s.Query(), msgs)
}
