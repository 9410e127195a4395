// Package upload governs one media upload at a time: idle → uploading →
// done/error, with synchronous cancellation back to idle.
package upload

import (
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"sync"

	"github.com/google/uuid"

	"github.com/mizuki-dev/kaiwa/internal/backend"
)

// ErrBusy is returned when a transfer is already in flight.
var ErrBusy = errors.New("an upload is already in progress")

// Phase is the upload state machine phase.
type Phase int

const (
	Idle Phase = iota
	Uploading
	Done
	Error
)

func (p Phase) String() string {
	switch p {
	case Uploading:
		return "uploading"
	case Done:
		return "done"
	case Error:
		return "error"
	default:
		return "idle"
	}
}

// Uploader runs at most one transfer. Completion resolves the object URL and
// hands it to onImage (the image-message submission); failures go to onError
// (the owning form's error list). Events from a cancelled transfer are
// ignored via a generation counter.
type Uploader struct {
	store   backend.BlobStore
	prefix  string
	onImage func(url string) error
	onError func(err error)

	mu       sync.Mutex
	phase    Phase
	percent  int
	transfer backend.Transfer
	gen      uint64
}

// New creates an Uploader. onImage must not be nil; onError may be.
func New(store backend.BlobStore, prefix string, onImage func(string) error, onError func(error)) *Uploader {
	return &Uploader{store: store, prefix: prefix, onImage: onImage, onError: onError}
}

// Start begins uploading the file under a fresh object key. Returns ErrBusy
// while a transfer is in flight.
func (u *Uploader) Start(r io.Reader, size int64, contentType string) error {
	u.mu.Lock()
	if u.phase == Uploading {
		u.mu.Unlock()
		return ErrBusy
	}
	u.gen++
	gen := u.gen
	u.phase = Uploading
	u.percent = 0
	u.mu.Unlock()

	key := path.Join(u.prefix, uuid.NewString()+".jpg")
	t, err := u.store.Put(key, contentType, r, size, backend.TransferCallbacks{
		OnProgress: func(sent, total int64) { u.progress(gen, sent, total) },
		OnDone:     func(url string) { u.complete(gen, url) },
		OnError:    func(err error) { u.fail(gen, err) },
	})
	if err != nil {
		u.mu.Lock()
		if u.gen == gen {
			u.phase = Error
		}
		u.mu.Unlock()
		u.surface(err)
		return fmt.Errorf("starting upload: %w", err)
	}

	u.mu.Lock()
	if u.gen == gen {
		u.transfer = t
	} else {
		// Cancelled between Put and here.
		t.Cancel()
	}
	u.mu.Unlock()
	return nil
}

// progress applies a transfer progress event. Percent is rounded and never
// decreases; regressions and stale-generation events are dropped.
func (u *Uploader) progress(gen uint64, sent, total int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if gen != u.gen || u.phase != Uploading || total <= 0 {
		return
	}
	pct := int(math.Round(float64(sent) / float64(total) * 100))
	if pct > u.percent {
		u.percent = pct
	}
}

// complete resolves the upload: the object URL is handed to the image sink
// and the machine moves to done, or to error if the submission fails.
func (u *Uploader) complete(gen uint64, url string) {
	u.mu.Lock()
	if gen != u.gen || u.phase != Uploading {
		u.mu.Unlock()
		return
	}
	u.transfer = nil
	u.mu.Unlock()

	if err := u.onImage(url); err != nil {
		u.mu.Lock()
		if u.gen == gen {
			u.phase = Error
		}
		u.mu.Unlock()
		u.surface(err)
		return
	}

	u.mu.Lock()
	if u.gen == gen {
		u.phase = Done
	}
	u.mu.Unlock()
}

func (u *Uploader) fail(gen uint64, err error) {
	u.mu.Lock()
	if gen != u.gen || u.phase != Uploading {
		u.mu.Unlock()
		return
	}
	u.phase = Error
	u.transfer = nil
	u.mu.Unlock()

	u.surface(err)
}

func (u *Uploader) surface(err error) {
	if u.onError != nil {
		u.onError(err)
	}
}

// Cancel aborts an in-flight transfer and returns to idle. Synchronous from
// the caller's perspective: the generation bump makes every later event of
// the cancelled transfer a no-op. Not uploading: no-op.
func (u *Uploader) Cancel() {
	u.mu.Lock()
	if u.phase != Uploading {
		u.mu.Unlock()
		return
	}
	u.gen++
	t := u.transfer
	u.transfer = nil
	u.phase = Idle
	u.percent = 0
	u.mu.Unlock()

	if t != nil {
		t.Cancel()
	}
}

// Teardown cancels the transfer if one is in flight. Call when the owning
// view goes away so no background operation outlives it.
func (u *Uploader) Teardown() {
	u.Cancel()
}

// Phase returns the current phase.
func (u *Uploader) Phase() Phase {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.phase
}

// Percent returns the current progress percentage.
func (u *Uploader) Percent() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.percent
}
