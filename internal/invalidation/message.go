// Package invalidation delivers "data changed" signals from whatever push
// path is available to the views that show the affected collection.
//
// A signal only says that a channel's data changed. It carries no payload,
// so receivers refetch. Delivery is at-least-once: the same signal may
// arrive more than once and every copy triggers a refresh.
package invalidation

import (
	"encoding/json"
	"errors"
)

// TypeDataChanged is the only message type listeners react to.
const TypeDataChanged = "DATA_CHANGED"

// ErrUnavailable is returned by a Transport that can't deliver messages in
// this environment (no relay running, no URL configured).
var ErrUnavailable = errors.New("invalidation transport unavailable")

// Message is an invalidation signal as it travels over the wire.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// DataChanged builds the signal for channel.
func DataChanged(channel string) Message {
	return Message{Type: TypeDataChanged, Channel: channel}
}

// Matches reports whether m is a data-changed signal for channel.
func (m Message) Matches(channel string) bool {
	return m.Type == TypeDataChanged && m.Channel == channel
}

// Encode returns the JSON form of m.
func (m Message) Encode() []byte {
	data, _ := json.Marshal(m)
	return data
}

// Decode parses a wire payload. Anything that isn't a JSON object yields
// ok=false. Fields of the wrong type are treated as missing, so such a
// message decodes but matches no channel.
func Decode(data []byte) (Message, bool) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return Message{}, false
	}
	var m Message
	m.Type, _ = raw["type"].(string)
	m.Channel, _ = raw["channel"].(string)
	return m, true
}

// Transport is a source of invalidation messages.
type Transport interface {
	// Subscribe registers fn for every message the transport receives.
	// fn may run on any goroutine. It returns ErrUnavailable when the
	// transport can't work here.
	Subscribe(fn func(Message)) (cancel func(), err error)
}
