// README: Service catalog: categories and the offerings (bookable services) under them.
package catalog

import (
	"time"

	"quickassist/internal/types"
)

type Category struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Services    []Offering `json:"services"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Offering is one bookable service, priced in minor currency units.
type Offering struct {
	ID          int64       `json:"id"`
	CategoryID  int64       `json:"category_id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	BasePrice   types.Money `json:"base_price"`
	CreatedAt   time.Time   `json:"created_at"`
}
