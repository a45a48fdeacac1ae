// README: Realtime channel kinds, group keys, bus envelopes and chat messages.
package realtime

import (
	"encoding/json"
	"time"

	"quickassist/internal/types"
)

type Kind string

const (
	KindChat     Kind = "chat"
	KindLocation Kind = "location"
)

// Key names one logical group: every session watching one booking on one channel.
type Key struct {
	Kind      Kind
	BookingID types.ID
}

// Envelope is what travels over the Bus. An empty Recipient means every
// session in the group.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	BookingID types.ID        `json:"booking_id"`
	Recipient types.ID        `json:"recipient,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (e Envelope) Key() Key {
	return Key{Kind: e.Kind, BookingID: e.BookingID}
}

type ChatMessage struct {
	ID         int64     `json:"id"`
	BookingID  types.ID  `json:"booking_id"`
	SenderID   types.ID  `json:"sender_id"`
	SenderName string    `json:"sender"`
	Message    string    `json:"message"`
	Seq        int64     `json:"seq"`
	CreatedAt  time.Time `json:"timestamp"`
}

// LocationUpdate is relayed to the requester; it is never stored.
type LocationUpdate struct {
	BookingID  types.ID  `json:"booking_id"`
	ProviderID types.ID  `json:"provider_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Timestamp  time.Time `json:"timestamp"`
}
