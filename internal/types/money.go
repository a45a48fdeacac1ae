// README: Common money value object used across modules.
package types

import "fmt"

const DefaultCurrency = "KES"

// Money holds an amount in minor units (cents).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// Major returns the whole-unit part, which is what mobile-money gateways accept.
func (m Money) Major() int64 {
	return m.Amount / 100
}

func (m Money) String() string {
	return fmt.Sprintf("%d.%02d %s", m.Amount/100, m.Amount%100, m.Currency)
}
