package models

import (
	"strings"
	"time"

	"github.com/montrack/montrack-api/internal/money"
)

// Account is a tracked money container. CurrentBalance and RefCurrentBalance
// are denormalized and mutated together with every ledger write touching the
// account.
type Account struct {
	ID                int64                  `json:"id"`
	UserID            int64                  `json:"user_id"`
	Name              string                 `json:"name"`
	CurrencyCode      string                 `json:"currency_code"`
	CurrentBalance    money.Money            `json:"current_balance"`
	RefCurrentBalance money.Money            `json:"ref_current_balance"`
	ExternalID        *string                `json:"external_id,omitempty"`
	ExternalData      map[string]interface{} `json:"external_data,omitempty"`
	BankConnectionID  *int64                 `json:"bank_connection_id,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// BankIdentifier returns the account's IBAN (or equivalent bank identifier)
// from provider metadata, normalized for matching: whitespace stripped,
// uppercased. Empty string when the account has none.
func (a *Account) BankIdentifier() string {
	if a.ExternalData == nil {
		return ""
	}
	raw, _ := a.ExternalData["iban"].(string)
	return NormalizeBankIdentifier(raw)
}

// NormalizeBankIdentifier strips all whitespace and uppercases an IBAN-like
// identifier so that differently formatted copies of the same identifier
// compare equal.
func NormalizeBankIdentifier(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// AccountBankID pairs an account id with its normalized bank identifier, as
// returned by the auto-linker's account index source.
type AccountBankID struct {
	AccountID  int64  `json:"account_id"`
	Identifier string `json:"identifier"`
}
