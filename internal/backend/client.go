package backend

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mizuki-dev/kaiwa/internal/model"
)

const requestTimeout = 10 * time.Second

// Client is the websocket implementation of Service. One read pump
// goroutine dispatches all subscription events, so per-subscription
// ordering follows the wire order.
type Client struct {
	url   string
	token string
	conn  *websocket.Conn

	writeMu sync.Mutex // serializes writes to conn

	mu        sync.Mutex
	subs      map[string]func(json.RawMessage) // subID → handler
	acks      map[string]chan ackPayload       // reqID → waiter
	connSubs  map[string]func(bool)
	connected bool
	closed    bool

	self     model.User
	httpBase string
	httpc    *http.Client
}

// Dial connects to the backend, authenticates with the session token, and
// populates the client identity. The read pump starts before the auth
// handshake so the handshake ack can be received.
func Dial(rawURL, token string) (*Client, error) {
	base, err := httpBaseFor(rawURL)
	if err != nil {
		return nil, fmt.Errorf("backend: bad server url: %w", err)
	}

	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.Dial(rawURL, hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("backend: dial %s: %w (http status %s)", rawURL, err, resp.Status)
		}
		return nil, fmt.Errorf("backend: dial %s: %w", rawURL, err)
	}

	c := &Client{
		url:       rawURL,
		token:     token,
		conn:      conn,
		subs:      make(map[string]func(json.RawMessage)),
		acks:      make(map[string]chan ackPayload),
		connSubs:  make(map[string]func(bool)),
		connected: true,
		httpBase:  base,
		httpc:     &http.Client{},
	}
	go c.readPump()

	data, err := c.request(frameHello, uuid.NewString(), func(reqID string) any {
		return helloPayload{ReqID: reqID, Token: token}
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("backend: auth handshake: %w", err)
	}
	if err := json.Unmarshal(data, &c.self); err != nil {
		c.Close()
		return nil, fmt.Errorf("backend: auth handshake: %w", err)
	}

	slog.Info("backend connected", "url", rawURL, "user", c.self.ID)
	return c, nil
}

// Self returns the authenticated user's descriptor.
func (c *Client) Self() model.User { return c.self }

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// readPump reads frames until the connection dies, dispatching events to
// subscription handlers and acks to request waiters.
func (c *Client) readPump() {
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.markDisconnected(err)
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			slog.Warn("backend: dropping malformed frame", "error", err)
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f Frame) {
	switch f.Type {
	case frameEvent:
		var ev eventPayload
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			slog.Warn("backend: malformed event payload", "error", err)
			return
		}
		c.mu.Lock()
		fn := c.subs[ev.SubID]
		c.mu.Unlock()
		// Unknown sub id: already unsubscribed, drop silently.
		if fn != nil {
			fn(ev.Data)
		}

	case frameAck:
		var ack ackPayload
		if err := json.Unmarshal(f.Payload, &ack); err != nil {
			slog.Warn("backend: malformed ack payload", "error", err)
			return
		}
		c.mu.Lock()
		ch := c.acks[ack.ReqID]
		delete(c.acks, ack.ReqID)
		c.mu.Unlock()
		if ch != nil {
			ch <- ack
		}

	default:
		slog.Warn("backend: unknown frame type", "type", f.Type)
	}
}

func (c *Client) markDisconnected(err error) {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	closed := c.closed
	fns := make([]func(bool), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	if closed {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		slog.Info("backend connection closed")
	} else {
		slog.Warn("backend connection lost", "error", err)
	}
	if wasConnected {
		for _, fn := range fns {
			fn(false)
		}
	}
}

func (c *Client) send(typ string, payload any) error {
	c.mu.Lock()
	if c.closed || !c.connected {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	raw, err := encodeFrame(typ, payload)
	if err != nil {
		return fmt.Errorf("backend: encoding %s: %w", typ, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("backend: writing %s: %w", typ, err)
	}
	return nil
}

// request sends a frame and waits for its ack. build receives the request id
// and returns the payload carrying it.
func (c *Client) request(typ, reqID string, build func(reqID string) any) (json.RawMessage, error) {
	ch := make(chan ackPayload, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.acks[reqID] = ch
	c.mu.Unlock()

	drop := func() {
		c.mu.Lock()
		delete(c.acks, reqID)
		c.mu.Unlock()
	}

	if err := c.send(typ, build(reqID)); err != nil {
		drop()
		return nil, err
	}

	select {
	case ack := <-ch:
		if ack.Error != "" {
			return nil, fmt.Errorf("backend: %s rejected: %s", typ, ack.Error)
		}
		return ack.Data, nil
	case <-time.After(requestTimeout):
		drop()
		return nil, fmt.Errorf("backend: %s timed out", typ)
	}
}

// subscribe registers a raw handler under a fresh sub id and asks the server
// to start the topic. The returned cancel is idempotent and tolerates a dead
// connection.
func (c *Client) subscribe(topic string, fn func(json.RawMessage)) (func(), error) {
	subID := uuid.NewString()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[subID] = fn
	c.mu.Unlock()

	if err := c.send(frameSubscribe, subscribePayload{SubID: subID, Topic: topic}); err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, subID)
			c.mu.Unlock()
			// Best effort: the server drops the sub with the connection anyway.
			if err := c.send(frameUnsubscribe, unsubscribePayload{SubID: subID}); err != nil {
				slog.Debug("backend: unsubscribe skipped", "topic", topic, "error", err)
			}
		})
	}
	return cancel, nil
}

// Messages selects the public or private message source.
func (c *Client) Messages(private bool) MessageSource {
	ns := "public"
	if private {
		ns = "private"
	}
	return messageSource{c: c, namespace: ns}
}

// Presence returns the typing presence source.
func (c *Client) Presence() PresenceSource { return presenceSource{c: c} }

// Connectivity returns the connection state signal source.
func (c *Client) Connectivity() Connectivity { return connectivitySource{c: c} }

// Favorites returns the per-user favorites store.
func (c *Client) Favorites() FavoritesStore { return favoritesStore{c: c} }

// Channels returns the channel directory.
func (c *Client) Channels() ChannelDirectory { return channelDirectory{c: c} }

// Blobs returns the blob store.
func (c *Client) Blobs() BlobStore { return blobStore{c: c} }

type messageSource struct {
	c         *Client
	namespace string
}

func (s messageSource) ID() string { return "messages/" + s.namespace }

func (s messageSource) topic(channelID string) string { return s.ID() + "/" + channelID }

func (s messageSource) Subscribe(channelID string, fn func(model.Message)) (func(), error) {
	return s.c.subscribe(s.topic(channelID), func(data json.RawMessage) {
		var m model.Message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("backend: malformed message event", "channel", channelID, "error", err)
			return
		}
		fn(m)
	})
}

func (s messageSource) Append(channelID string, m model.Message) error {
	_, err := s.c.request(frameAppend, uuid.NewString(), func(reqID string) any {
		return appendPayload{ReqID: reqID, Topic: s.topic(channelID), Message: m}
	})
	return err
}

type presenceSource struct {
	c *Client
}

func (p presenceSource) SubscribeAdded(channelID string, fn func(model.User)) (func(), error) {
	return p.c.subscribe("presence/"+channelID+"/added", func(data json.RawMessage) {
		var u model.User
		if err := json.Unmarshal(data, &u); err != nil {
			slog.Warn("backend: malformed presence event", "channel", channelID, "error", err)
			return
		}
		fn(u)
	})
}

func (p presenceSource) SubscribeRemoved(channelID string, fn func(string)) (func(), error) {
	return p.c.subscribe("presence/"+channelID+"/removed", func(data json.RawMessage) {
		var rm presenceRemovalData
		if err := json.Unmarshal(data, &rm); err != nil {
			slog.Warn("backend: malformed presence removal", "channel", channelID, "error", err)
			return
		}
		fn(rm.UserID)
	})
}

func (p presenceSource) Set(channelID string, u model.User) error {
	_, err := p.c.request(framePresenceSet, uuid.NewString(), func(reqID string) any {
		return presenceSetPayload{ReqID: reqID, Channel: channelID, User: u}
	})
	return err
}

func (p presenceSource) Clear(channelID, userID string) error {
	_, err := p.c.request(framePresenceClear, uuid.NewString(), func(reqID string) any {
		return presenceClearPayload{ReqID: reqID, Channel: channelID, UserID: userID}
	})
	return err
}

func (p presenceSource) OnDisconnect(channelID, userID string) error {
	_, err := p.c.request(framePresenceArm, uuid.NewString(), func(reqID string) any {
		return presenceClearPayload{ReqID: reqID, Channel: channelID, UserID: userID}
	})
	return err
}

type connectivitySource struct {
	c *Client
}

func (s connectivitySource) Subscribe(fn func(bool)) func() {
	id := uuid.NewString()
	s.c.mu.Lock()
	s.c.connSubs[id] = fn
	current := s.c.connected
	s.c.mu.Unlock()

	// Deliver the current state so subscribers can arm immediately.
	fn(current)

	return func() {
		s.c.mu.Lock()
		delete(s.c.connSubs, id)
		s.c.mu.Unlock()
	}
}

type favoritesStore struct {
	c *Client
}

func (f favoritesStore) Get(userID string) (map[string]model.FavoriteSnapshot, error) {
	data, err := f.c.request(frameFavoritesGet, uuid.NewString(), func(reqID string) any {
		return favoritesGetPayload{ReqID: reqID, UserID: userID}
	})
	if err != nil {
		return nil, err
	}
	favs := make(map[string]model.FavoriteSnapshot)
	if len(data) == 0 {
		return favs, nil
	}
	if err := json.Unmarshal(data, &favs); err != nil {
		return nil, fmt.Errorf("backend: decoding favorites: %w", err)
	}
	return favs, nil
}

func (f favoritesStore) Upsert(userID, channelID string, s model.FavoriteSnapshot) error {
	_, err := f.c.request(frameFavoritesUpsert, uuid.NewString(), func(reqID string) any {
		return favoritesWritePayload{ReqID: reqID, UserID: userID, Channel: channelID, Snapshot: &s}
	})
	return err
}

func (f favoritesStore) Delete(userID, channelID string) error {
	_, err := f.c.request(frameFavoritesDelete, uuid.NewString(), func(reqID string) any {
		return favoritesWritePayload{ReqID: reqID, UserID: userID, Channel: channelID}
	})
	return err
}

type channelDirectory struct {
	c *Client
}

func (d channelDirectory) List() ([]model.Channel, error) {
	data, err := d.c.request(frameChannelList, uuid.NewString(), func(reqID string) any {
		return channelListPayload{ReqID: reqID}
	})
	if err != nil {
		return nil, err
	}
	var channels []model.Channel
	if len(data) > 0 {
		if err := json.Unmarshal(data, &channels); err != nil {
			return nil, fmt.Errorf("backend: decoding channel list: %w", err)
		}
	}
	return channels, nil
}

func (d channelDirectory) Create(ch model.Channel) error {
	_, err := d.c.request(frameChannelCreate, uuid.NewString(), func(reqID string) any {
		return channelCreatePayload{ReqID: reqID, Channel: ch}
	})
	return err
}

func (d channelDirectory) Subscribe(fn func(model.Channel)) (func(), error) {
	return d.c.subscribe("channels", func(data json.RawMessage) {
		var ch model.Channel
		if err := json.Unmarshal(data, &ch); err != nil {
			slog.Warn("backend: malformed channel event", "error", err)
			return
		}
		fn(ch)
	})
}

// httpBaseFor derives the HTTP origin for blob uploads from the websocket
// URL: ws→http, wss→https, path stripped.
func httpBaseFor(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String(), nil
}
