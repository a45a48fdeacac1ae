// README: Provider profile: verification, duty state, offered service and last known position.
package provider

import (
	"time"

	"quickassist/internal/types"
)

type Profile struct {
	UserID            types.ID     `json:"user_id"`
	Name              string       `json:"name"`
	Bio               string       `json:"bio"`
	Verified          bool         `json:"is_verified"`
	OnDuty            bool         `json:"on_duty"`
	ServiceID         *int64       `json:"service_id,omitempty"`
	Location          *types.Point `json:"location,omitempty"`
	LocationUpdatedAt *time.Time   `json:"location_updated_at,omitempty"`
	AverageRating     *float64     `json:"average_rating,omitempty"`
	RatingCount       int          `json:"rating_count"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

// Eligible reports whether the profile can be matched for serviceID.
func (p Profile) Eligible(serviceID int64) bool {
	return p.Verified && p.OnDuty && p.Location != nil &&
		p.ServiceID != nil && *p.ServiceID == serviceID
}

// Listing is a directory entry with its distance from the caller.
type Listing struct {
	Profile
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// PublicView hides the live position from anonymous directory readers.
func (p Profile) PublicView() Profile {
	p.Location = nil
	p.LocationUpdatedAt = nil
	return p
}
