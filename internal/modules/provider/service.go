// README: Provider service: duty toggling, location updates, profile edits and admin verification.
package provider

import (
	"context"
	"errors"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
	"quickassist/internal/modules/location"
	"quickassist/internal/types"
)

var (
	ErrNotFound       = errors.New("provider profile not found")
	ErrNotVerified    = errors.New("provider must be verified before going on duty")
	ErrNotProvider    = errors.New("only providers can do this")
	ErrForbidden      = errors.New("admin only")
	ErrBadLocation    = errors.New("latitude must be within [-90,90] and longitude within [-180,180]")
	ErrUnknownService = errors.New("unknown service")
)

const directoryLimit = 100

// ServiceCatalog is the read-only catalog lookup used to validate offered services.
type ServiceCatalog interface {
	ServiceExists(ctx context.Context, id int64) (bool, error)
}

type Service struct {
	store   Repository
	catalog ServiceCatalog
	log     logrus.FieldLogger
}

func NewService(store Repository, catalog ServiceCatalog, log logrus.FieldLogger) *Service {
	return &Service{store: store, catalog: catalog, log: logging.Component(log, "provider")}
}

func (s *Service) Get(ctx context.Context, uid types.ID) (*Profile, error) {
	return s.store.Get(ctx, uid)
}

// Directory lists verified providers for public browsing, without live positions.
func (s *Service) Directory(ctx context.Context, serviceID int64) ([]Profile, error) {
	list, err := s.store.ListVerified(ctx, serviceID, directoryLimit)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = list[i].PublicView()
	}
	return list, nil
}

// DirectoryNear lists verified providers nearest to origin first. Providers
// without a known position go last, in id order.
func (s *Service) DirectoryNear(ctx context.Context, serviceID int64, origin types.Point) ([]Listing, error) {
	if !origin.Valid() {
		return nil, ErrBadLocation
	}
	list, err := s.store.ListVerified(ctx, serviceID, directoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, len(list))
	for i, p := range list {
		out[i] = Listing{Profile: p}
		if p.Location != nil {
			d := math.Round(location.DistanceKm(origin, *p.Location)*100) / 100
			out[i].DistanceKm = &d
		}
	}
	location.SortByDistance(out, func(l Listing) float64 {
		if l.DistanceKm == nil {
			return math.Inf(1)
		}
		return *l.DistanceKm
	})
	for i := range out {
		out[i].Profile = out[i].Profile.PublicView()
	}
	return out, nil
}

func (s *Service) SetOnDuty(ctx context.Context, p types.Principal, onDuty bool) (*Profile, error) {
	if p.Role != types.RoleProvider {
		return nil, ErrNotProvider
	}
	ok, err := s.store.SetOnDuty(ctx, p.ID, onDuty)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotVerified
	}
	s.log.WithFields(logrus.Fields{"provider_id": p.ID, "on_duty": onDuty}).Info("duty state changed")
	return s.store.Get(ctx, p.ID)
}

func (s *Service) UpdateLocation(ctx context.Context, p types.Principal, pos types.Point) error {
	if p.Role != types.RoleProvider {
		return ErrNotProvider
	}
	if !pos.Valid() {
		return ErrBadLocation
	}
	return s.store.UpdateLocation(ctx, p.ID, pos)
}

type ProfileUpdate struct {
	Bio       string
	ServiceID *int64
}

func (s *Service) UpdateProfile(ctx context.Context, p types.Principal, u ProfileUpdate) (*Profile, error) {
	if p.Role != types.RoleProvider {
		return nil, ErrNotProvider
	}
	if u.ServiceID != nil {
		ok, err := s.catalog.ServiceExists(ctx, *u.ServiceID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrUnknownService
		}
	}
	if err := s.store.UpdateProfile(ctx, p.ID, strings.TrimSpace(u.Bio), u.ServiceID); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, p.ID)
}

// SetVerified is the admin verification switch. Withdrawing verification also
// takes the provider off duty.
func (s *Service) SetVerified(ctx context.Context, admin types.Principal, uid types.ID, verified bool) (*Profile, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := s.store.SetVerified(ctx, uid, verified); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"provider_id": uid,
		"verified":    verified,
		"admin_id":    admin.ID,
	}).Info("provider verification changed")
	return s.store.Get(ctx, uid)
}
