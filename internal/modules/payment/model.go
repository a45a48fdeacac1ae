// README: Payment record, methods, statuses and the callback settlement rules.
package payment

import (
	"time"

	"quickassist/internal/types"
)

type Method string

const (
	MethodCash        Method = "CASH"
	MethodMobileMoney Method = "MOBILE_MONEY"
)

func (m Method) Valid() bool {
	return m == MethodCash || m == MethodMobileMoney
}

type Status string

const (
	StatusPending Status = "PENDING"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

type Payment struct {
	ID            types.ID    `json:"id"`
	BookingID     types.ID    `json:"booking_id"`
	PayerID       types.ID    `json:"payer_id"`
	Method        Method      `json:"method"`
	Amount        types.Money `json:"amount"`
	Status        Status      `json:"status"`
	Reference     *string     `json:"reference,omitempty"`
	FailureReason string      `json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// CallbackResult is the gateway's asynchronous verdict on a pushed payment.
type CallbackResult struct {
	Reference   string
	Success     bool
	ResultCode  int
	Description string
}

// settle decides what a callback does to a payment currently in status cur.
// A late success overrides an earlier failure; SUCCESS never changes; repeated
// failures are no-ops. otherSuccess means the booking already has a different
// successful payment, in which case a success is recorded as FAILED instead.
func settle(cur Status, success, otherSuccess bool) (next Status, changed bool, duplicate bool) {
	switch cur {
	case StatusSuccess:
		return cur, false, false
	case StatusPending:
		if !success {
			return StatusFailed, true, false
		}
	case StatusFailed:
		if !success {
			return cur, false, false
		}
	default:
		return cur, false, false
	}
	if otherSuccess {
		return StatusFailed, cur != StatusFailed, true
	}
	return StatusSuccess, true, false
}
