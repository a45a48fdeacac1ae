// README: Matching service picks the nearest eligible provider and opens a PENDING booking for it.
package matching

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
	"quickassist/internal/modules/booking"
	"quickassist/internal/modules/location"
	"quickassist/internal/types"
)

var (
	ErrNoAvailableProvider = errors.New("no available provider for this service")
	ErrUnknownService      = errors.New("unknown service")
	ErrNotCustomer         = errors.New("only customers can request a service")
	ErrBadLocation         = errors.New("latitude must be within [-90,90] and longitude within [-180,180]")
)

type ServiceCatalog interface {
	ServiceExists(ctx context.Context, id int64) (bool, error)
}

type BookingCreator interface {
	Create(ctx context.Context, cmd booking.CreateCommand) (*booking.Booking, error)
}

type Service struct {
	candidates CandidateSource
	catalog    ServiceCatalog
	bookings   BookingCreator
	log        logrus.FieldLogger
}

func NewService(candidates CandidateSource, catalog ServiceCatalog, bookings BookingCreator, log logrus.FieldLogger) *Service {
	return &Service{
		candidates: candidates,
		catalog:    catalog,
		bookings:   bookings,
		log:        logging.Component(log, "matching"),
	}
}

// Request matches the customer's request to the nearest eligible provider and
// creates the booking in PENDING. The provider still has to accept it.
func (s *Service) Request(ctx context.Context, p types.Principal, cmd RequestCommand) (*Match, error) {
	if p.Role != types.RoleCustomer {
		return nil, ErrNotCustomer
	}
	if !cmd.Location.Valid() {
		return nil, ErrBadLocation
	}
	ok, err := s.catalog.ServiceExists(ctx, cmd.ServiceID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownService
	}

	pool, err := s.candidates.ListEligible(ctx, cmd.ServiceID)
	if err != nil {
		return nil, err
	}
	eligible := pool[:0:0]
	for _, c := range pool {
		if c.Eligible(cmd.ServiceID) && c.UserID != p.ID {
			eligible = append(eligible, c)
		}
	}

	chosen, dist, found := SelectNearest(eligible, cmd.Location)
	if !found {
		s.log.WithFields(logrus.Fields{
			"customer_id": p.ID,
			"service_id":  cmd.ServiceID,
			"pool":        len(pool),
		}).Info("no provider available")
		return nil, ErrNoAvailableProvider
	}

	b, err := s.bookings.Create(ctx, booking.CreateCommand{
		CustomerID: p.ID,
		ProviderID: chosen.UserID,
		ServiceID:  cmd.ServiceID,
		Location:   cmd.Location,
		DistanceKm: dist,
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"booking_id":  b.ID,
		"provider_id": chosen.UserID,
		"distance_km": dist,
	}).Info("provider matched")
	return &Match{Booking: b, ProviderID: chosen.UserID, DistanceKm: dist}, nil
}

// SelectNearest returns the candidate closest to origin. Equal distances go to
// the lexicographically lower provider id, so the result never depends on input order.
func SelectNearest(cands []Candidate, origin types.Point) (Candidate, float64, bool) {
	var best Candidate
	bestDist := -1.0
	for _, c := range cands {
		if c.Location == nil {
			continue
		}
		d := location.DistanceKm(origin, *c.Location)
		if bestDist < 0 || d < bestDist || (d == bestDist && c.UserID < best.UserID) {
			best, bestDist = c, d
		}
	}
	if bestDist < 0 {
		return Candidate{}, 0, false
	}
	return best, bestDist, true
}
