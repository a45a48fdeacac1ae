// README: Realtime service: connect checks, chat persist-and-broadcast, provider location relay.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

var (
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrMessageTooLong = errors.New("message is too long")
	ErrUnknownChannel = errors.New("unknown realtime channel")
)

const (
	MaxMessageRunes    = 2000
	defaultHistorySize = 200
)

type BookingReader interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

type Service struct {
	chats    ChatRepository
	bookings BookingReader
	hub      *Hub
	bus      Bus
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewService wires the realtime layer. A nil bus delivers in-process only.
func NewService(chats ChatRepository, bookings BookingReader, hub *Hub, bus Bus, log logrus.FieldLogger) *Service {
	if bus == nil {
		bus = LocalBus{Hub: hub}
	}
	return &Service{
		chats:    chats,
		bookings: bookings,
		hub:      hub,
		bus:      bus,
		log:      logging.Component(log, "realtime"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Hub() *Hub { return s.hub }

// Admit checks, against the current booking row, that p may open a channel
// of the given kind. It is called on every connect and never cached.
func (s *Service) Admit(ctx context.Context, kind Kind, bookingID types.ID, p types.Principal) (*booking.Booking, error) {
	if kind != KindChat && kind != KindLocation {
		return nil, ErrUnknownChannel
	}
	b, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := b.Authorize(p, booking.ActionChat); err != nil {
		return nil, err
	}
	return b, nil
}

// PostChat stores the message and broadcasts it to every chat session of the
// booking. Store and publish happen under the group's publish lock.
func (s *Service) PostChat(ctx context.Context, b *booking.Booking, sender types.ID, text string) (*ChatMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		return nil, ErrMessageTooLong
	}
	msg := &ChatMessage{
		BookingID: b.ID,
		SenderID:  sender,
		Message:   text,
		CreatedAt: s.now(),
	}
	key := Key{Kind: KindChat, BookingID: b.ID}
	err := s.hub.Serialize(key, func() error {
		if err := s.chats.Append(ctx, msg); err != nil {
			return err
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, Envelope{Kind: KindChat, BookingID: b.ID, Payload: payload})
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "sender_id": sender, "seq": msg.Seq}).Debug("chat message posted")
	return msg, nil
}

// HandleChatFrame decodes an inbound {"message": "..."} frame. Frames that
// cannot be decoded or carry no text are dropped.
func (s *Service) HandleChatFrame(ctx context.Context, b *booking.Booking, sender types.ID, raw []byte) {
	var in struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return
	}
	if _, err := s.PostChat(ctx, b, sender, in.Message); err != nil {
		if errors.Is(err, ErrEmptyMessage) || errors.Is(err, ErrMessageTooLong) {
			return
		}
		s.log.WithError(err).WithField("booking_id", b.ID).Error("chat message not delivered")
	}
}

// HandleLocationFrame relays a provider's position to the requester's
// location sessions. Frames from anyone else, or without both coordinates,
// are dropped silently. It reports whether the frame was relayed.
func (s *Service) HandleLocationFrame(ctx context.Context, b *booking.Booking, sender types.ID, raw []byte) bool {
	if sender != b.ProviderID {
		return false
	}
	var in struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.Latitude == nil || in.Longitude == nil {
		return false
	}
	pos := types.Point{Lat: *in.Latitude, Lng: *in.Longitude}
	if !pos.Valid() {
		return false
	}
	payload, err := json.Marshal(LocationUpdate{
		BookingID:  b.ID,
		ProviderID: sender,
		Latitude:   pos.Lat,
		Longitude:  pos.Lng,
		Timestamp:  s.now(),
	})
	if err != nil {
		return false
	}
	env := Envelope{Kind: KindLocation, BookingID: b.ID, Recipient: b.CustomerID, Payload: payload}
	if err := s.bus.Publish(ctx, env); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("location relay failed")
		return false
	}
	return true
}

// History returns stored chat messages in sequence order for booking members.
func (s *Service) History(ctx context.Context, bookingID types.ID, p types.Principal, afterSeq int64, limit int) ([]ChatMessage, error) {
	b, err := s.Admit(ctx, KindChat, bookingID, p)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > defaultHistorySize {
		limit = defaultHistorySize
	}
	msgs, err := s.chats.History(ctx, b.ID, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []ChatMessage{}
	}
	return msgs, nil
}
