package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is a posted accounting movement attributed to an analytical account.
// Expense spend is positive; reversals are negative.
type LedgerEntry struct {
	PostingDate time.Time
	Amount      decimal.Decimal
	Type        LineType
	Reference   string
	ID          int64
	AccountID   int64
}
