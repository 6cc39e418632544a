package models

import "github.com/montrack/montrack-api/internal/money"

// TransferSpec is the tagged description of how a new transaction relates to
// transfers. Exactly one variant applies per creation; the variants make
// illegal field combinations unrepresentable instead of validated after the
// fact.
type TransferSpec interface {
	Nature() TransferNature
}

// NotTransferSpec creates a plain income/expense. CategoryID is required;
// Splits, if present, must partition the transaction amount exactly.
type NotTransferSpec struct {
	CategoryID int64
	Splits     []SplitInput
	// RefundOf marks the new transaction as a refund of an existing one.
	RefundOf *RefundTarget
}

func (NotTransferSpec) Nature() TransferNature { return NotTransfer }

// RefundTarget points a refund at an original transaction, optionally at one
// of its splits.
type RefundTarget struct {
	OriginalTxID int64
	SplitID      *int64
}

// CommonTransferSpec creates one leg of a linked transfer. The destination is
// either a new leg on another account or an already existing transaction;
// the two options are mutually exclusive by construction.
type CommonTransferSpec struct {
	Destination TransferDestination
}

func (CommonTransferSpec) Nature() TransferNature { return CommonTransfer }

// TransferDestination is the destination variant of a CommonTransferSpec.
type TransferDestination interface {
	isTransferDestination()
}

// NewLeg asks the ledger to create the opposite leg on AccountID. Amount is
// the destination-side amount, which may differ from the source amount when
// currencies differ.
type NewLeg struct {
	AccountID int64
	Amount    money.Money
}

func (NewLeg) isTransferDestination() {}

// ExistingTx links the new transaction to a pre-existing one instead of
// creating a second row (used when the destination leg already exists from a
// separate bank sync).
type ExistingTx struct {
	TransactionID int64
}

func (ExistingTx) isTransferDestination() {}

// OutOfWalletSpec creates a single-leg transfer whose counterpart is outside
// the tracked system. No destination fields exist to supply.
type OutOfWalletSpec struct{}

func (OutOfWalletSpec) Nature() TransferNature { return TransferOutWallet }

// ToPortfolioSpec creates a single-leg transfer into a portfolio cash ledger.
type ToPortfolioSpec struct {
	PortfolioID int64
}

func (ToPortfolioSpec) Nature() TransferNature { return TransferToPortfolio }
