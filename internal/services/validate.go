package services

import (
	"time"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
)

const (
	maxSplitsPerTransaction = 10
	maxSplitNoteLength      = 255
)

// validateCreateParams checks the cross-field invariants of a creation
// request before any mutation. The ledger never trusts the caller for
// business rules, however well validated the request layer claims to be.
func validateCreateParams(p *CreateParams) error {
	if p.UserID <= 0 {
		return newValidationError("userId", "must be a positive id")
	}
	if p.AccountID <= 0 {
		return newValidationError("accountId", "must be a positive id")
	}
	if !p.Type.Valid() {
		return newValidationError("transactionType", "must be income or expense")
	}
	if !p.Amount.IsPositive() {
		return newValidationError("amount", "must be a positive magnitude")
	}
	if p.Transfer == nil {
		return newValidationError("transfer", "transfer shape is required")
	}
	if p.Time.IsZero() {
		p.Time = time.Now()
	}

	switch spec := p.Transfer.(type) {
	case models.NotTransferSpec:
		if spec.CategoryID <= 0 {
			return newValidationError("categoryId", "required for non-transfer transactions")
		}
		if spec.RefundOf != nil && len(spec.Splits) > 0 {
			return newValidationError("splits", "cannot be combined with a refund linkage")
		}
		if len(spec.Splits) > 0 {
			if err := validateSplitInputs(spec.Splits, p.Amount); err != nil {
				return err
			}
		}
		if spec.RefundOf != nil && spec.RefundOf.OriginalTxID <= 0 {
			return newValidationError("refundOf.originalTxId", "must be a positive id")
		}
	case models.CommonTransferSpec:
		switch dest := spec.Destination.(type) {
		case models.NewLeg:
			if dest.AccountID <= 0 {
				return newValidationError("destinationAccountId", "must be a positive id")
			}
			if dest.AccountID == p.AccountID {
				return newValidationError("destinationAccountId", "transfer destination must differ from the source account")
			}
			if !dest.Amount.IsPositive() {
				return newValidationError("destinationAmount", "must be a positive magnitude")
			}
		case models.ExistingTx:
			if dest.TransactionID <= 0 {
				return newValidationError("destinationTransactionId", "must be a positive id")
			}
		default:
			return newValidationError("transfer", "a transfer destination is required")
		}
	case models.OutOfWalletSpec:
		// Single leg, money leaves the tracked system; nothing else to check.
	case models.ToPortfolioSpec:
		if spec.PortfolioID <= 0 {
			return newValidationError("portfolioId", "must be a positive id")
		}
	default:
		return newValidationError("transfer", "unsupported transfer nature")
	}

	return nil
}

// validateSplitInputs enforces the split invariants: positive amounts, known
// category, bounded count and note length, and an exact partition of the
// transaction amount (sum equality, not just <=).
func validateSplitInputs(splits []models.SplitInput, transactionAmount money.Money) error {
	if len(splits) > maxSplitsPerTransaction {
		return newValidationError("splits", "at most %d splits allowed per transaction", maxSplitsPerTransaction)
	}

	total := money.Zero
	for i, split := range splits {
		if split.CategoryID <= 0 {
			return newValidationError("splits", "split %d: category is required", i)
		}
		if !split.Amount.IsPositive() {
			return newValidationError("splits", "split %d: amount must be a positive magnitude", i)
		}
		if len(split.Note) > maxSplitNoteLength {
			return newValidationError("splits", "split %d: note cannot exceed %d characters", i, maxSplitNoteLength)
		}
		total = total.Add(split.Amount)
	}

	if total != transactionAmount {
		return newValidationError("splits",
			"split amounts (%d) must sum to exactly the transaction amount (%d)",
			total.Cents(), transactionAmount.Cents())
	}
	return nil
}
