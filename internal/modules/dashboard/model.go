// README: Admin dashboard aggregates.
package dashboard

import (
	"time"

	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

type Stats struct {
	UsersByRole      map[types.Role]int     `json:"users_by_role"`
	BookingsByStatus map[booking.Status]int `json:"bookings_by_status"`
	ProvidersOnDuty  int                    `json:"providers_on_duty"`
	ProvidersPending int                    `json:"providers_pending_verification"`
	Revenue          types.Money            `json:"revenue"`
	PaymentsPending  int                    `json:"payments_pending"`
	GeneratedAt      time.Time              `json:"generated_at"`
}

// RecentBooking is a booking row joined with the names an operator needs.
type RecentBooking struct {
	ID           types.ID       `json:"id"`
	Status       booking.Status `json:"status"`
	CustomerID   types.ID       `json:"customer_id"`
	CustomerName string         `json:"customer_name"`
	ProviderID   types.ID       `json:"provider_id"`
	ProviderName string         `json:"provider_name"`
	ServiceName  string         `json:"service_name"`
	FinalPrice   *types.Money   `json:"final_price,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
