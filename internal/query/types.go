package query

import (
	"time"

	"github.com/google/uuid"
)

// LiquidationResponse is one liquidated Trove from the history projection.
// Amounts are decimal strings in whole units.
type LiquidationResponse struct {
	Sequence          int64     `json:"sequence"`
	Owner             uuid.UUID `json:"owner"`
	Liquidator        uuid.UUID `json:"liquidator"`
	Mode              string    `json:"mode"`
	Coll              string    `json:"coll"`
	Debt              string    `json:"debt"`
	DebtOffset        string    `json:"debt_offset"`
	CollToSP          string    `json:"coll_to_sp"`
	DebtRedistributed string    `json:"debt_redistributed"`
	CollRedistributed string    `json:"coll_redistributed"`
	CollSurplus       string    `json:"coll_surplus"`
	Timestamp         time.Time `json:"timestamp"`
}

// LiquidationFilter narrows a liquidation history query.
type LiquidationFilter struct {
	Owner          *uuid.UUID
	BeforeSequence *int64 // cursor: only entries strictly older
	Limit          int
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	AssetID       uint16 `json:"asset_id"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset whose projected balances do not sum
// to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
