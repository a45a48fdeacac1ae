// README: User service: self-registration, contact updates, principal lookup and admin account management.
package user

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"quickassist/internal/logging"
	"quickassist/internal/types"
)

var (
	ErrNotFound          = errors.New("user not registered")
	ErrAlreadyRegistered = errors.New("user already registered")
	ErrInactive          = errors.New("account suspended")
	ErrForbidden         = errors.New("admin only")
	ErrBadRequest        = errors.New("bad request")
)

const listLimit = 200

type Service struct {
	store Repository
	log   logrus.FieldLogger
}

func NewService(store Repository, log logrus.FieldLogger) *Service {
	return &Service{store: store, log: logging.Component(log, "user")}
}

type RegisterCommand struct {
	UID         types.ID
	Name        string
	Email       string
	PhoneNumber string
	Role        types.Role
	DeviceToken string
}

// Register binds an authenticated subject to a new account. Self-registration may
// pick CUSTOMER or PROVIDER; ADMIN is only granted through SetRole.
func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*User, error) {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.UID == "" || cmd.Name == "" {
		return nil, ErrBadRequest
	}
	if cmd.Role == "" {
		cmd.Role = types.RoleCustomer
	}
	if cmd.Role != types.RoleCustomer && cmd.Role != types.RoleProvider {
		return nil, ErrBadRequest
	}
	u := &User{
		ID:          cmd.UID,
		Name:        cmd.Name,
		Email:       strings.TrimSpace(cmd.Email),
		PhoneNumber: strings.TrimSpace(cmd.PhoneNumber),
		Role:        cmd.Role,
		DeviceToken: cmd.DeviceToken,
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": u.ID, "role": u.Role}).Info("user registered")
	return u, nil
}

func (s *Service) Me(ctx context.Context, uid types.ID) (*User, error) {
	return s.store.Get(ctx, uid)
}

// Principal resolves the caller's role from the database. Suspended accounts are rejected.
func (s *Service) Principal(ctx context.Context, uid types.ID) (types.Principal, error) {
	u, err := s.store.Get(ctx, uid)
	if err != nil {
		return types.Principal{}, err
	}
	if !u.IsActive {
		return types.Principal{}, ErrInactive
	}
	return u.Principal(), nil
}

func (s *Service) UpdateContact(ctx context.Context, uid types.ID, phone, deviceToken *string) (*User, error) {
	if phone != nil {
		v := strings.TrimSpace(*phone)
		phone = &v
	}
	if err := s.store.UpdateContact(ctx, uid, phone, deviceToken); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, uid)
}

// PhoneNumber is the payer lookup used by mobile-money payments.
func (s *Service) PhoneNumber(ctx context.Context, uid types.ID) (string, error) {
	u, err := s.store.Get(ctx, uid)
	if err != nil {
		return "", err
	}
	return u.PhoneNumber, nil
}

// DeviceToken is the push-target lookup used by notifications.
func (s *Service) DeviceToken(ctx context.Context, uid types.ID) (string, error) {
	u, err := s.store.Get(ctx, uid)
	if err != nil {
		return "", err
	}
	return u.DeviceToken, nil
}

func (s *Service) List(ctx context.Context, admin types.Principal, role types.Role) ([]User, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	return s.store.List(ctx, role, listLimit)
}

func (s *Service) SetRole(ctx context.Context, admin types.Principal, uid types.ID, role types.Role) (*User, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	if _, ok := types.ParseRole(string(role)); !ok {
		return nil, ErrBadRequest
	}
	if err := s.store.SetRole(ctx, uid, role); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": uid, "role": role, "admin_id": admin.ID}).Info("role changed")
	return s.store.Get(ctx, uid)
}

func (s *Service) SetActive(ctx context.Context, admin types.Principal, uid types.ID, active bool) (*User, error) {
	if !admin.IsAdmin() {
		return nil, ErrForbidden
	}
	if admin.ID == uid && !active {
		return nil, ErrBadRequest
	}
	if err := s.store.SetActive(ctx, uid, active); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"user_id": uid, "active": active, "admin_id": admin.ID}).Info("account status changed")
	return s.store.Get(ctx, uid)
}
