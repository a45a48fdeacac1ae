// README: Booking aggregate, status definitions, transition table and participant checks.
package booking

import (
	"time"

	"quickassist/internal/types"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusAccepted   Status = "ACCEPTED"
	StatusRejected   Status = "REJECTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

type Booking struct {
	ID            types.ID     `json:"id"`
	CustomerID    types.ID     `json:"customer_id"`
	ProviderID    types.ID     `json:"provider_id"`
	ServiceID     int64        `json:"service_id"`
	Status        Status       `json:"status"`
	StatusVersion int          `json:"-"`
	Location      types.Point  `json:"location"`
	DistanceKm    float64      `json:"distance_km"`
	FinalPrice    *types.Money `json:"final_price,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	AcceptedAt    *time.Time   `json:"accepted_at,omitempty"`
	StartedAt     *time.Time   `json:"started_at,omitempty"`
	CompletedAt   *time.Time   `json:"completed_at,omitempty"`
	CancelledAt   *time.Time   `json:"cancelled_at,omitempty"`
	CancelledBy   *types.ID    `json:"cancelled_by,omitempty"`
}

type Event struct {
	ID         int64     `json:"id"`
	BookingID  types.ID  `json:"booking_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ActorID    *types.ID `json:"actor_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return len(AllowedTransitions[s]) == 0
}

// requiredFor lists the statuses from which to is reachable, in a stable order.
func requiredFor(to Status) []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusAccepted, StatusInProgress} {
		if CanTransition(from, to) {
			out = append(out, from)
		}
	}
	return out
}

// Action names something a principal wants to do with a booking.
type Action string

const (
	ActionView     Action = "view"
	ActionAccept   Action = "accept"
	ActionDecline  Action = "decline"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionPay      Action = "pay"
	ActionRate     Action = "rate"
	ActionChat     Action = "chat"
)

// Authorize checks that p may perform a on b. It looks only at identity and role,
// never at status.
func (b *Booking) Authorize(p types.Principal, a Action) error {
	requester := p.ID == b.CustomerID
	provider := p.ID == b.ProviderID

	var ok bool
	switch a {
	case ActionAccept, ActionDecline, ActionStart, ActionComplete:
		ok = provider
	case ActionPay, ActionRate:
		ok = requester
	case ActionChat:
		ok = requester || provider
	case ActionCancel, ActionView:
		ok = requester || provider || p.IsAdmin()
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// IsParticipant reports whether uid is the requester or the assigned provider.
func (b *Booking) IsParticipant(uid types.ID) bool {
	return uid == b.CustomerID || uid == b.ProviderID
}
