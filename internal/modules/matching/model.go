// README: Matching candidates and the outcome of a match.
package matching

import (
	"quickassist/internal/modules/booking"
	"quickassist/internal/modules/provider"
	"quickassist/internal/types"
)

// Candidate is a provider profile considered for a request.
type Candidate = provider.Profile

type RequestCommand struct {
	ServiceID int64
	Location  types.Point
}

type Match struct {
	Booking    *booking.Booking `json:"booking"`
	ProviderID types.ID         `json:"provider_id"`
	DistanceKm float64          `json:"distance_km"`
}
