// README: User account with role, contact details and suspension flag.
package user

import (
	"time"

	"quickassist/internal/types"
)

type User struct {
	ID          types.ID   `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	Role        types.Role `json:"role"`
	DeviceToken string     `json:"-"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (u User) Principal() types.Principal {
	return types.Principal{ID: u.ID, Role: u.Role}
}
