package query

import (
	"github.com/google/uuid"
)

// BalanceResponse lists the projected wallet balances of one owner. Amounts
// are decimal strings in whole units.
type BalanceResponse struct {
	Owner    uuid.UUID         `json:"owner"`
	Balances map[string]string `json:"balances"` // asset symbol -> amount

	// Last projected sequence; the projection may lag the core
	AsOfSequence int64 `json:"as_of_sequence"`
}

// AccountBalance is one projected account row.
type AccountBalance struct {
	AccountPath  string `json:"account_path"`
	Asset        string `json:"asset"`
	Balance      string `json:"balance"`
	LastSequence int64  `json:"last_sequence"`
}
