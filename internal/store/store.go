package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateOriginalID is returned when a transaction with the same
	// (account_id, original_id) pair already exists.
	ErrDuplicateOriginalID = errors.New("duplicate original id for account")
)

// TransactionFilter narrows a transaction scan. Zero-valued fields are
// ignored. ExternalField matches against the transaction's opaque provider
// payload (used by the auto-linker for provider/operation tags).
type TransactionFilter struct {
	UserID        int64
	AccountIDs    []int64
	Type          models.TransactionType
	Nature        *models.TransferNature
	CurrencyCode  string
	Amount        *money.Money
	TimeFrom      *time.Time
	TimeTo        *time.Time
	ExternalField *ExternalFieldMatch
}

// ExternalFieldMatch selects transactions whose external payload key holds
// one of the given string values.
type ExternalFieldMatch struct {
	Key    string
	Values []string
}

// Tx is one atomic unit of work. Every method observes and mutates state
// inside the surrounding transaction; a returned error from the WithTx
// callback rolls the whole unit back.
type Tx interface {
	// Accounts
	GetAccount(ctx context.Context, userID, id int64) (*models.Account, error)
	// GetAccountForUpdate acquires a row-level lock on the account so that
	// concurrent balance read-modify-writes serialize.
	GetAccountForUpdate(ctx context.Context, userID, id int64) (*models.Account, error)
	ApplyBalanceDelta(ctx context.Context, accountID int64, delta, refDelta money.Money) error

	// Transactions
	CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error)
	GetTransaction(ctx context.Context, userID, id int64) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, tx *models.Transaction) error
	DeleteTransaction(ctx context.Context, userID, id int64) error
	GetTransactionsByTransferID(ctx context.Context, userID int64, transferID uuid.UUID) ([]*models.Transaction, error)
	FindTransactionByOriginalID(ctx context.Context, accountID int64, originalID string) (*models.Transaction, error)
	FindTransactions(ctx context.Context, filter TransactionFilter) ([]*models.Transaction, error)

	// Splits
	ReplaceSplits(ctx context.Context, transactionID int64, splits []*models.Split) ([]*models.Split, error)
	ListSplits(ctx context.Context, userID, transactionID int64) ([]*models.Split, error)

	// Refund links
	CreateRefundLink(ctx context.Context, link *models.RefundLink) (*models.RefundLink, error)
	FindRefundLinksForTransaction(ctx context.Context, userID, txID int64) ([]*models.RefundLink, error)
	ListRefundLinksForSplit(ctx context.Context, userID, splitID int64) ([]*models.RefundLink, error)
	DeleteRefundLink(ctx context.Context, userID, refundTxID int64) error

	// Exchange rates: most recent rate at or before asOf for the exact pair.
	FindRateAtOrBefore(ctx context.Context, userID int64, baseCode, quoteCode string, asOf time.Time) (*models.ExchangeRate, error)

	// GetBaseCurrency returns the user's reference currency code.
	GetBaseCurrency(ctx context.Context, userID int64) (string, error)

	// Auto-linker account index source.
	ListAccountsWithBankIdentifier(ctx context.Context, userID int64) ([]models.AccountBankID, error)
}

// Store opens atomic units of work.
type Store interface {
	// WithTx runs fn inside one transaction. Any error from fn (or from the
	// commit) rolls back every mutation performed through the Tx.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
