// README: Price quote for a booked service.
package pricing

import "quickassist/internal/types"

// Quote is the amount owed for one booking and how it was built.
type Quote struct {
	ServiceID int64            `json:"service_id"`
	Total     types.Money      `json:"total"`
	Breakdown map[string]int64 `json:"breakdown"`
}
