package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeRate is one historical rate for a (base, quote) currency pair,
// effective from Date onward until a newer rate appears. Custom marks a
// user-provided rate that overrides live data.
type ExchangeRate struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	BaseCode  string          `json:"base_code"`
	QuoteCode string          `json:"quote_code"`
	Rate      decimal.Decimal `json:"rate"`
	Date      time.Time       `json:"date"`
	Custom    bool            `json:"custom"`
}
