// README: Booking service implements creation, guarded state transitions and participant reads.
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"quickassist/internal/events"
	"quickassist/internal/logging"
	"quickassist/internal/types"
)

// Notifier pushes a new-booking alert to the assigned provider.
type Notifier interface {
	NotifyNewBooking(ctx context.Context, b *Booking) error
}

type Service struct {
	store    Repository
	notifier Notifier
	events   events.Publisher
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewService(store Repository, notifier Notifier, publisher events.Publisher, log logrus.FieldLogger) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		events:   publisher,
		log:      logging.Component(log, "booking"),
		now:      time.Now,
	}
}

const defaultListLimit = 50

type CreateCommand struct {
	CustomerID types.ID
	ProviderID types.ID
	ServiceID  int64
	Location   types.Point
	DistanceKm float64
}

// Create inserts a PENDING booking with its provider already assigned.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if cmd.CustomerID == "" || cmd.ProviderID == "" || cmd.ServiceID <= 0 || !cmd.Location.Valid() {
		return nil, ErrBadRequest
	}
	if cmd.CustomerID == cmd.ProviderID {
		return nil, fmt.Errorf("%w: customer cannot book themselves", ErrBadRequest)
	}

	now := s.now().UTC()
	b := &Booking{
		ID:         types.ID(uuid.NewString()),
		CustomerID: cmd.CustomerID,
		ProviderID: cmd.ProviderID,
		ServiceID:  cmd.ServiceID,
		Status:     StatusPending,
		Location:   cmd.Location,
		DistanceKm: cmd.DistanceKm,
		CreatedAt:  now,
	}
	actor := cmd.CustomerID
	if err := s.store.Create(ctx, b, &Event{
		BookingID: b.ID,
		ToStatus:  StatusPending,
		ActorID:   &actor,
		CreatedAt: now,
	}); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeBookingCreated, b)
	if s.notifier != nil {
		if err := s.notifier.NotifyNewBooking(ctx, b); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"booking_id":  b.ID,
				"provider_id": b.ProviderID,
			}).Warn("new booking push failed")
		}
	}
	return b, nil
}

func (s *Service) Accept(ctx context.Context, id types.ID, p types.Principal) (*Booking, error) {
	return s.transition(ctx, id, p, ActionAccept, StatusAccepted)
}

func (s *Service) Decline(ctx context.Context, id types.ID, p types.Principal) (*Booking, error) {
	return s.transition(ctx, id, p, ActionDecline, StatusRejected)
}

func (s *Service) Start(ctx context.Context, id types.ID, p types.Principal) (*Booking, error) {
	return s.transition(ctx, id, p, ActionStart, StatusInProgress)
}

func (s *Service) Complete(ctx context.Context, id types.ID, p types.Principal) (*Booking, error) {
	return s.transition(ctx, id, p, ActionComplete, StatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, id types.ID, p types.Principal) (*Booking, error) {
	return s.transition(ctx, id, p, ActionCancel, StatusCancelled)
}

func (s *Service) transition(ctx context.Context, id types.ID, p types.Principal, a Action, to Status) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.Authorize(p, a); err != nil {
		return nil, err
	}
	if !CanTransition(b.Status, to) {
		return nil, &TransitionError{BookingID: b.ID, Current: b.Status, Required: requiredFor(to), Target: to}
	}

	ok, err := s.store.Transition(ctx, StatusUpdate{
		ID:      b.ID,
		From:    b.Status,
		To:      to,
		Version: b.StatusVersion,
		ActorID: p.ID,
		At:      s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	fresh, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost the race: report against whatever the winner left behind.
		return nil, &TransitionError{BookingID: id, Current: fresh.Status, Required: requiredFor(to), Target: to}
	}

	s.log.WithFields(logrus.Fields{
		"booking_id": id,
		"from":       b.Status,
		"to":         to,
		"actor_id":   p.ID,
	}).Info("booking transitioned")
	s.publish(ctx, events.TypeBookingTransition, fresh)
	return fresh, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// GetFor returns the booking only if p may view it.
func (s *Service) GetFor(ctx context.Context, id types.ID, p types.Principal) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := b.Authorize(p, ActionView); err != nil {
		return nil, err
	}
	return b, nil
}

// ListFor returns requests made by a customer or jobs assigned to a provider, newest first.
func (s *Service) ListFor(ctx context.Context, p types.Principal) ([]Booking, error) {
	switch p.Role {
	case types.RoleCustomer:
		return s.store.ListByCustomer(ctx, p.ID, defaultListLimit)
	case types.RoleProvider:
		return s.store.ListByProvider(ctx, p.ID, defaultListLimit)
	default:
		return nil, ErrUnauthorized
	}
}

// IsMember reads the booking fresh and reports whether uid is a participant.
func (s *Service) IsMember(ctx context.Context, id, uid types.ID) (bool, error) {
	b, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return b.IsParticipant(uid), nil
}

func (s *Service) History(ctx context.Context, id types.ID, p types.Principal) ([]Event, error) {
	if _, err := s.GetFor(ctx, id, p); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, id)
}

func (s *Service) publish(ctx context.Context, eventType string, b *Booking) {
	if err := s.events.Publish(ctx, events.New(eventType, string(b.ID), b)); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("publish booking event failed")
	}
}
