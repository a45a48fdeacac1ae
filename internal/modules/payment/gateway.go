package payment

import (
	"context"
	"errors"
	"fmt"

	"quickassist/internal/types"
)

var ErrGateway = errors.New("payment gateway error")

// GatewayError wraps a failure talking to the mobile-money provider.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

type PushRequest struct {
	Phone            string
	Amount           types.Money
	AccountReference string
	Description      string
}

type PushResult struct {
	Reference       string
	CustomerMessage string
}

// Gateway initiates a customer-approved push payment. The outcome arrives later
// through the callback endpoint, keyed by PushResult.Reference.
type Gateway interface {
	Push(ctx context.Context, req PushRequest) (PushResult, error)
}
