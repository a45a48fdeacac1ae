package booking

import (
	"errors"
	"fmt"
	"strings"

	"quickassist/internal/types"
)

var (
	ErrNotFound     = errors.New("booking not found")
	ErrUnauthorized = errors.New("not allowed to act on this booking")
	ErrInvalidState = errors.New("invalid state transition")
	ErrBadRequest   = errors.New("bad request")
)

// TransitionError reports a status precondition failure with the status found
// and the status(es) the operation needed.
type TransitionError struct {
	BookingID types.ID
	Current   Status
	Required  []Status
	Target    Status
}

func (e *TransitionError) Error() string {
	req := make([]string, len(e.Required))
	for i, s := range e.Required {
		req[i] = string(s)
	}
	if e.Target == "" {
		return fmt.Sprintf("booking %s is %s, required %s", e.BookingID, e.Current, strings.Join(req, " or "))
	}
	return fmt.Sprintf("booking %s is %s, moving to %s requires %s",
		e.BookingID, e.Current, e.Target, strings.Join(req, " or "))
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidState
}

// RequireStatus returns a *TransitionError unless b is in status want.
func RequireStatus(b *Booking, want Status) error {
	if b.Status == want {
		return nil
	}
	return &TransitionError{BookingID: b.ID, Current: b.Status, Required: []Status{want}}
}
