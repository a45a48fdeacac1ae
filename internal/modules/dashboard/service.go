// README: Dashboard service: admin-only operational stats and recent bookings.
package dashboard

import (
	"context"
	"errors"
	"time"

	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

var ErrForbidden = errors.New("admin role required")

const (
	defaultRecent = 20
	maxRecent     = 100
)

var (
	allRoles    = []types.Role{types.RoleCustomer, types.RoleProvider, types.RoleAdmin}
	allStatuses = []booking.Status{
		booking.StatusPending, booking.StatusAccepted, booking.StatusRejected,
		booking.StatusInProgress, booking.StatusCompleted, booking.StatusCancelled,
	}
)

type Service struct {
	store Repository
	now   func() time.Time
}

func NewService(store Repository) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Stats(ctx context.Context, p types.Principal) (*Stats, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	users, err := s.store.UsersByRole(ctx)
	if err != nil {
		return nil, err
	}
	bookings, err := s.store.BookingsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	onDuty, unverified, err := s.store.ProviderCounts(ctx)
	if err != nil {
		return nil, err
	}
	revenue, pending, err := s.store.Revenue(ctx, types.DefaultCurrency)
	if err != nil {
		return nil, err
	}

	// Every role and status appears, zero or not, so clients can chart them directly.
	for _, r := range allRoles {
		if _, ok := users[r]; !ok {
			users[r] = 0
		}
	}
	for _, st := range allStatuses {
		if _, ok := bookings[st]; !ok {
			bookings[st] = 0
		}
	}
	return &Stats{
		UsersByRole:      users,
		BookingsByStatus: bookings,
		ProvidersOnDuty:  onDuty,
		ProvidersPending: unverified,
		Revenue:          types.Money{Amount: revenue, Currency: types.DefaultCurrency},
		PaymentsPending:  pending,
		GeneratedAt:      s.now(),
	}, nil
}

func (s *Service) RecentBookings(ctx context.Context, p types.Principal, limit int) ([]RecentBooking, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = defaultRecent
	}
	if limit > maxRecent {
		limit = maxRecent
	}
	out, err := s.store.RecentBookings(ctx, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []RecentBooking{}
	}
	return out, nil
}
