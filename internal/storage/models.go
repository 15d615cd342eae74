package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Trade lifecycle states. A trade is terminal once closed.
const (
	StatusOpen   = "OPEN"
	StatusClosed = "CLOSED"
)

// Close reasons for settled trades.
const (
	CloseTP      = "TP"
	CloseSL      = "SL"
	CloseExpired = "EXPIRED"
)

// PaperTrade is a persisted simulated position, keyed by the deterministic
// uid that deduplicates re-runs of the same scan minute.
type PaperTrade struct {
	UID      string
	ScanID   string
	Symbol   string
	Side     string
	Status   string
	OpenedAt time.Time
	ClosedAt *time.Time

	Entry      decimal.Decimal
	TP         decimal.Decimal
	SL         decimal.Decimal
	OCOTrigger decimal.Decimal
	OCOLimit   decimal.Decimal

	CloseReason *string
	// MaxFavorablePct / MaxAdversePct track the best and worst excursion
	// seen since open, in percent of entry.
	MaxFavorablePct decimal.Decimal
	MaxAdversePct   decimal.Decimal
	Notes           string
	CreatedAt       time.Time
}

// RejectionRow is a write-once diagnostic record of a filtered candidate.
type RejectionRow struct {
	ScanID    string
	Symbol    string
	Reason    string
	Details   json.RawMessage
	CreatedAt time.Time
}
