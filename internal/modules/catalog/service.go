// README: Catalog service: public browsing and admin-only creation.
package catalog

import (
	"context"
	"errors"
	"strings"

	"quickassist/internal/types"
)

var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrDuplicate        = errors.New("name already exists")
	ErrBadRequest       = errors.New("bad request")
	ErrForbidden        = errors.New("admin only")
)

type Service struct {
	store Repository
}

func NewService(store Repository) *Service {
	return &Service{store: store}
}

// Categories returns each category with its services nested.
func (s *Service) Categories(ctx context.Context) ([]Category, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	services, err := s.store.ListServices(ctx, 0)
	if err != nil {
		return nil, err
	}
	byCat := make(map[int64][]Offering, len(cats))
	for _, svc := range services {
		byCat[svc.CategoryID] = append(byCat[svc.CategoryID], svc)
	}
	for i := range cats {
		cats[i].Services = byCat[cats[i].ID]
		if cats[i].Services == nil {
			cats[i].Services = []Offering{}
		}
	}
	return cats, nil
}

func (s *Service) Services(ctx context.Context, categoryID int64) ([]Offering, error) {
	return s.store.ListServices(ctx, categoryID)
}

func (s *Service) GetService(ctx context.Context, id int64) (*Offering, error) {
	return s.store.GetService(ctx, id)
}

// ServiceExists is the read-only lookup used by provider profiles and matching.
func (s *Service) ServiceExists(ctx context.Context, id int64) (bool, error) {
	_, err := s.store.GetService(ctx, id)
	if errors.Is(err, ErrServiceNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Service) CreateCategory(ctx context.Context, p types.Principal, name, description string) (*Category, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrBadRequest
	}
	c := &Category{Name: name, Description: description}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	c.Services = []Offering{}
	return c, nil
}

type CreateServiceCommand struct {
	CategoryID  int64
	Name        string
	Description string
	BasePrice   int64
}

func (s *Service) CreateService(ctx context.Context, p types.Principal, cmd CreateServiceCommand) (*Offering, error) {
	if !p.IsAdmin() {
		return nil, ErrForbidden
	}
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.Name == "" || cmd.CategoryID <= 0 || cmd.BasePrice < 0 {
		return nil, ErrBadRequest
	}
	svc := &Offering{
		CategoryID:  cmd.CategoryID,
		Name:        cmd.Name,
		Description: cmd.Description,
		BasePrice:   types.Money{Amount: cmd.BasePrice, Currency: types.DefaultCurrency},
	}
	if err := s.store.CreateService(ctx, svc); err != nil {
		return nil, err
	}
	return svc, nil
}
