package backend

import (
	"encoding/json"

	"github.com/mizuki-dev/kaiwa/internal/model"
)

// Frame is the wire envelope: a type tag plus a type-specific payload.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	frameHello           = "HELLO"
	frameSubscribe       = "SUBSCRIBE"
	frameUnsubscribe     = "UNSUBSCRIBE"
	frameEvent           = "EVENT"
	frameAck             = "ACK"
	frameAppend          = "APPEND"
	framePresenceSet     = "PRESENCE_SET"
	framePresenceClear   = "PRESENCE_CLEAR"
	framePresenceArm     = "PRESENCE_ARM_DISCONNECT"
	frameFavoritesGet    = "FAVORITES_GET"
	frameFavoritesUpsert = "FAVORITES_UPSERT"
	frameFavoritesDelete = "FAVORITES_DELETE"
	frameChannelList     = "CHANNEL_LIST"
	frameChannelCreate   = "CHANNEL_CREATE"
)

// Topic layout:
//
//	messages/public/<channel>   append stream, replayed from the beginning
//	messages/private/<channel>
//	presence/<channel>/added    presence child additions
//	presence/<channel>/removed  presence child removals
//	channels                    channel directory additions, replayed

type helloPayload struct {
	ReqID string `json:"req_id"`
	Token string `json:"token"`
}

type subscribePayload struct {
	SubID string `json:"sub_id"`
	Topic string `json:"topic"`
}

type unsubscribePayload struct {
	SubID string `json:"sub_id"`
}

// eventPayload carries one delivery for one subscription. Data is the
// topic-specific entry: a message, a user, a removal, or a channel.
type eventPayload struct {
	SubID string          `json:"sub_id"`
	Data  json.RawMessage `json:"data"`
}

type ackPayload struct {
	ReqID string          `json:"req_id"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type appendPayload struct {
	ReqID   string        `json:"req_id"`
	Topic   string        `json:"topic"`
	Message model.Message `json:"message"`
}

type presenceSetPayload struct {
	ReqID   string     `json:"req_id"`
	Channel string     `json:"channel"`
	User    model.User `json:"user"`
}

type presenceClearPayload struct {
	ReqID   string `json:"req_id"`
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
}

type favoritesGetPayload struct {
	ReqID  string `json:"req_id"`
	UserID string `json:"user_id"`
}

type favoritesWritePayload struct {
	ReqID    string                  `json:"req_id"`
	UserID   string                  `json:"user_id"`
	Channel  string                  `json:"channel"`
	Snapshot *model.FavoriteSnapshot `json:"snapshot,omitempty"`
}

type channelListPayload struct {
	ReqID string `json:"req_id"`
}

type channelCreatePayload struct {
	ReqID   string        `json:"req_id"`
	Channel model.Channel `json:"channel"`
}

// presenceRemovalData is the Data shape on presence/<ch>/removed topics.
type presenceRemovalData struct {
	UserID string `json:"user_id"`
}

func encodeFrame(typ string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Type: typ, Payload: raw})
}
