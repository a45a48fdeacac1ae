// README: Rating service: requester rates a completed booking once; provider reputation follows.
package rating

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"quickassist/internal/events"
	"quickassist/internal/logging"
	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

var (
	ErrInvalidScore = errors.New("score must be between 1 and 5")
	ErrAlreadyRated = errors.New("booking already rated")
)

const listLimit = 50

type BookingReader interface {
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
}

type Service struct {
	store    Repository
	bookings BookingReader
	events   events.Publisher
	log      logrus.FieldLogger
}

func NewService(store Repository, bookings BookingReader, publisher events.Publisher, log logrus.FieldLogger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, bookings: bookings, events: publisher, log: logging.Component(log, "rating")}
}

type RateCommand struct {
	BookingID types.ID
	Score     int
	Comment   string
}

type Result struct {
	Rating             *Rating `json:"rating"`
	ProviderReputation float64 `json:"provider_average_rating"`
	ProviderRatings    int     `json:"provider_rating_count"`
}

func (s *Service) Rate(ctx context.Context, p types.Principal, cmd RateCommand) (*Result, error) {
	if cmd.Score < MinScore || cmd.Score > MaxScore {
		return nil, ErrInvalidScore
	}
	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if err := b.Authorize(p, booking.ActionRate); err != nil {
		return nil, err
	}
	if err := booking.RequireStatus(b, booking.StatusCompleted); err != nil {
		return nil, err
	}

	r := &Rating{
		BookingID: b.ID,
		RaterID:   p.ID,
		RateeID:   b.ProviderID,
		Score:     cmd.Score,
		Comment:   strings.TrimSpace(cmd.Comment),
	}
	avg, count, err := s.store.Create(ctx, r)
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"provider_id": b.ProviderID,
		"score":       r.Score,
		"reputation":  avg,
	}).Info("booking rated")
	if err := s.events.Publish(ctx, events.New(events.TypeRatingSubmitted, string(b.ID), r)); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("publish rating event failed")
	}
	return &Result{Rating: r, ProviderReputation: avg, ProviderRatings: count}, nil
}

func (s *Service) ListForProvider(ctx context.Context, providerID types.ID) ([]Rating, error) {
	return s.store.ListByRatee(ctx, providerID, listLimit)
}
