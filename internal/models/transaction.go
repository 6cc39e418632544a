package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/montrack/montrack-api/internal/money"
)

// TransactionType determines the direction of a transaction's balance effect.
type TransactionType string

const (
	TransactionTypeIncome  TransactionType = "income"
	TransactionTypeExpense TransactionType = "expense"
)

// Opposite returns the other direction.
func (t TransactionType) Opposite() TransactionType {
	if t == TransactionTypeIncome {
		return TransactionTypeExpense
	}
	return TransactionTypeIncome
}

func (t TransactionType) Valid() bool {
	return t == TransactionTypeIncome || t == TransactionTypeExpense
}

// TransferNature describes how a transaction relates to money leaving or
// entering the tracked account set.
type TransferNature string

const (
	// NotTransfer is a plain income/expense.
	NotTransfer TransferNature = "not_transfer"
	// CommonTransfer is one leg of a linked two-leg transfer between two
	// tracked accounts. Both legs share a TransferID.
	CommonTransfer TransferNature = "common_transfer"
	// TransferOutWallet is a single-leg transfer whose counterpart lives
	// outside the tracked system.
	TransferOutWallet TransferNature = "transfer_out_wallet"
	// TransferToPortfolio is a single-leg transfer into an investment
	// portfolio's cash ledger.
	TransferToPortfolio TransferNature = "transfer_to_portfolio"
)

func (n TransferNature) Valid() bool {
	switch n {
	case NotTransfer, CommonTransfer, TransferOutWallet, TransferToPortfolio:
		return true
	}
	return false
}

// Transaction is the central ledger entity. Amount is always a positive
// magnitude; TransactionType carries the direction.
type Transaction struct {
	ID           int64                  `json:"id"`
	UserID       int64                  `json:"user_id"`
	AccountID    int64                  `json:"account_id"`
	CategoryID   *int64                 `json:"category_id,omitempty"`
	Amount       money.Money            `json:"amount"`
	RefAmount    money.Money            `json:"ref_amount"`
	CurrencyCode string                 `json:"currency_code"`
	Type         TransactionType        `json:"transaction_type"`
	Time         time.Time              `json:"time"`
	Note         string                 `json:"note,omitempty"`
	Nature       TransferNature         `json:"transfer_nature"`
	TransferID   *uuid.UUID             `json:"transfer_id,omitempty"`
	PortfolioID  *int64                 `json:"portfolio_id,omitempty"`
	OriginalID   *string                `json:"original_id,omitempty"`
	RefundLinked bool                   `json:"refund_linked"`
	ExternalData map[string]interface{} `json:"external_data,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
}

// IsTransferLeg reports whether the transaction is one side of a linked pair.
func (t *Transaction) IsTransferLeg() bool {
	return t.Nature == CommonTransfer && t.TransferID != nil
}

// Split is a line item of a non-transfer transaction. Split amounts must sum
// to exactly the parent transaction's amount.
type Split struct {
	ID            int64       `json:"id"`
	TransactionID int64       `json:"transaction_id"`
	UserID        int64       `json:"user_id"`
	CategoryID    int64       `json:"category_id"`
	Amount        money.Money `json:"amount"`
	RefAmount     money.Money `json:"ref_amount"`
	Note          string      `json:"note,omitempty"`
}

// SplitInput is the caller-supplied shape of a split before persistence.
type SplitInput struct {
	CategoryID int64       `json:"category_id"`
	Amount     money.Money `json:"amount"`
	Note       string      `json:"note,omitempty"`
}

// RefundLink is a directed edge from a refund transaction to the original it
// refunds, optionally narrowed to a single split of the original.
type RefundLink struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	OriginalTxID int64     `json:"original_tx_id"`
	RefundTxID   int64     `json:"refund_tx_id"`
	SplitID      *int64    `json:"split_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ExternalTransaction is a raw movement delivered by a bank-sync component,
// not yet persisted to the ledger. OriginalID is the provider-derived dedup
// key, unique per account.
type ExternalTransaction struct {
	UserID       int64                  `json:"user_id"`
	AccountID    int64                  `json:"account_id"`
	OriginalID   string                 `json:"original_id"`
	Amount       money.Money            `json:"amount"`
	CurrencyCode string                 `json:"currency_code"`
	Type         TransactionType        `json:"transaction_type"`
	Time         time.Time              `json:"time"`
	Note         string                 `json:"note,omitempty"`
	ExternalData map[string]interface{} `json:"external_data,omitempty"`
}
