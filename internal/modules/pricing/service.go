// README: Pricing service turns a catalog offering into the amount charged for a booking.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"quickassist/internal/modules/catalog"
	"quickassist/internal/types"
)

var ErrNoPrice = errors.New("service has no price")

type OfferingSource interface {
	GetService(ctx context.Context, id int64) (*catalog.Offering, error)
}

type Service struct {
	catalog OfferingSource
}

func NewService(catalog OfferingSource) *Service {
	return &Service{catalog: catalog}
}

// Quote prices a booking of serviceID. The booked amount is the service base price.
func (s *Service) Quote(ctx context.Context, serviceID int64) (Quote, error) {
	off, err := s.catalog.GetService(ctx, serviceID)
	if err != nil {
		return Quote{}, fmt.Errorf("price service %d: %w", serviceID, err)
	}
	if off.BasePrice.Amount <= 0 {
		return Quote{}, ErrNoPrice
	}
	total := off.BasePrice
	if total.Currency == "" {
		total.Currency = types.DefaultCurrency
	}
	return Quote{
		ServiceID: serviceID,
		Total:     total,
		Breakdown: map[string]int64{"base": total.Amount},
	}, nil
}

func (s *Service) Estimate(ctx context.Context, serviceID int64) (types.Money, error) {
	q, err := s.Quote(ctx, serviceID)
	if err != nil {
		return types.Money{}, err
	}
	return q.Total, nil
}
