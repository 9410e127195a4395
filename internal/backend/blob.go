package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

type blobStore struct {
	c *Client
}

// Put uploads the object under key and reports progress through cb. The
// returned Transfer cancels the in-flight HTTP request; after cancellation
// no completion callback fires (stray progress reads may still occur and are
// gated by the caller).
func (b blobStore) Put(key, contentType string, r io.Reader, size int64, cb TransferCallbacks) (Transfer, error) {
	ctx, cancel := context.WithCancel(context.Background())

	body := &progressReader{r: r, total: size, onProgress: cb.OnProgress}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.c.httpBase+"/blobs/"+key, body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("backend: blob request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+b.c.token)
	req.ContentLength = size

	t := &httpTransfer{cancel: cancel}
	go func() {
		resp, err := b.c.httpc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled: emit nothing.
				return
			}
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("backend: blob upload: %w", err))
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("backend: blob upload: unexpected status %s", resp.Status))
			}
			return
		}

		var out struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			if cb.OnError != nil {
				cb.OnError(fmt.Errorf("backend: blob upload: decoding response: %w", err))
			}
			return
		}
		if cb.OnDone != nil {
			cb.OnDone(out.URL)
		}
	}()

	return t, nil
}

type httpTransfer struct {
	cancel context.CancelFunc
}

func (t *httpTransfer) Cancel() { t.cancel() }

// progressReader counts bytes as the HTTP client consumes them.
type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress func(sent, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.onProgress != nil {
			p.onProgress(p.sent, p.total)
		}
	}
	return n, err
}
