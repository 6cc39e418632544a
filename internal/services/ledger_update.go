package services

import (
	"context"
	"errors"
	"time"

	"github.com/montrack/montrack-api/internal/metrics"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/store"
)

// UpdateParams is a partial patch; nil fields keep the existing value.
// DestinationAmount applies to the partner leg of a common transfer and is
// rejected for any other nature.
type UpdateParams struct {
	Amount            *money.Money
	AccountID         *int64
	Type              *models.TransactionType
	Time              *time.Time
	Note              *string
	CategoryID        *int64
	Splits            *[]models.SplitInput
	DestinationAmount *money.Money
}

// Update re-validates the merged state, then reverses the old balance delta
// and applies the new one whenever amount, account or type changed. For a
// common transfer the partner leg is adjusted in the same unit of work.
func (l *Ledger) Update(ctx context.Context, userID, id int64, p UpdateParams) ([]*models.Transaction, error) {
	var updated []*models.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		updated, err = l.updateInTx(ctx, tx, userID, id, p)
		return err
	})
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("update", "error").Inc()
		return nil, mapStoreError(err)
	}
	metrics.TransactionsTotal.WithLabelValues("update", "ok").Inc()

	l.publish(EventTransactionUpdated, userID, updated)
	return updated, nil
}

func (l *Ledger) updateInTx(ctx context.Context, tx store.Tx, userID, id int64, p UpdateParams) ([]*models.Transaction, error) {
	existing, err := tx.GetTransaction(ctx, userID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "transaction"}
		}
		return nil, err
	}

	if err := validateUpdateParams(existing, &p); err != nil {
		return nil, err
	}
	if err := validateSplitPartition(ctx, tx, existing, p); err != nil {
		return nil, err
	}

	var partner *models.Transaction
	if existing.IsTransferLeg() {
		partner, err = l.transferPartner(ctx, tx, existing)
		if err != nil {
			return nil, err
		}
	}

	lockIDs := []int64{existing.AccountID}
	if p.AccountID != nil {
		lockIDs = append(lockIDs, *p.AccountID)
	}
	if partner != nil {
		lockIDs = append(lockIDs, partner.AccountID)
	}
	accounts, err := l.lockAccounts(ctx, tx, userID, lockIDs)
	if err != nil {
		return nil, err
	}

	updated := *existing
	if p.Amount != nil {
		updated.Amount = *p.Amount
	}
	if p.AccountID != nil {
		if partner != nil && *p.AccountID == partner.AccountID {
			return nil, newValidationError("accountId", "both transfer legs cannot live on the same account")
		}
		updated.AccountID = *p.AccountID
		updated.CurrencyCode = accounts[*p.AccountID].CurrencyCode
	}
	if p.Type != nil {
		updated.Type = *p.Type
	}
	if p.Time != nil {
		updated.Time = *p.Time
	}
	if p.Note != nil {
		updated.Note = *p.Note
	}
	if p.CategoryID != nil {
		updated.CategoryID = p.CategoryID
	}

	baseCurrency, err := tx.GetBaseCurrency(ctx, userID)
	if err != nil {
		return nil, err
	}

	moneyChanged := p.Amount != nil || p.AccountID != nil || p.Time != nil
	if moneyChanged {
		refAmount, err := l.converter.Convert(ctx, tx, ConvertParams{
			Amount:       updated.Amount,
			FromCurrency: updated.CurrencyCode,
			ToCurrency:   baseCurrency,
			AsOf:         updated.Time,
			UserID:       userID,
		})
		if err != nil {
			return nil, err
		}
		updated.RefAmount = refAmount
	}

	// A destination-amount change can shift this leg's refAmount through the
	// transfer matrix, so it re-applies the balance as well.
	balanceChanged := moneyChanged || p.Type != nil || p.DestinationAmount != nil
	if balanceChanged {
		if err := applyBalance(ctx, tx, existing, -1); err != nil {
			return nil, err
		}
	}

	out := []*models.Transaction{&updated}
	if partner != nil {
		adjusted, err := l.adjustPartnerLeg(ctx, tx, &updated, partner, p, accounts[partner.AccountID], baseCurrency)
		if err != nil {
			return nil, err
		}
		if adjusted != nil {
			out = append(out, adjusted)
		}
	}

	if err := tx.UpdateTransaction(ctx, &updated); err != nil {
		return nil, err
	}
	if balanceChanged {
		if err := applyBalance(ctx, tx, &updated, 1); err != nil {
			return nil, err
		}
	}

	if p.Splits != nil {
		if _, err := l.manageSplits(ctx, tx, &updated, *p.Splits, baseCurrency); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// adjustPartnerLeg propagates time changes and the destination amount to the
// other leg, re-resolving both reference amounts through the transfer matrix.
// Returns nil when nothing about the partner changed.
func (l *Ledger) adjustPartnerLeg(ctx context.Context, tx store.Tx, base, partner *models.Transaction, p UpdateParams, partnerAccount *models.Account, baseCurrency string) (*models.Transaction, error) {
	changed := p.DestinationAmount != nil || p.Time != nil || p.Amount != nil || p.AccountID != nil
	if !changed {
		return nil, nil
	}

	adjusted := *partner
	if p.DestinationAmount != nil {
		adjusted.Amount = *p.DestinationAmount
	}
	if p.Time != nil {
		adjusted.Time = *p.Time
	}

	baseRef, partnerRef, err := l.transferRefAmounts(ctx, tx, base, partnerAccount, adjusted.Amount, baseCurrency)
	if err != nil {
		return nil, err
	}
	base.RefAmount = baseRef

	if err := applyBalance(ctx, tx, partner, -1); err != nil {
		return nil, err
	}
	adjusted.RefAmount = partnerRef
	if err := tx.UpdateTransaction(ctx, &adjusted); err != nil {
		return nil, err
	}
	if err := applyBalance(ctx, tx, &adjusted, 1); err != nil {
		return nil, err
	}
	return &adjusted, nil
}

func (l *Ledger) transferPartner(ctx context.Context, tx store.Tx, leg *models.Transaction) (*models.Transaction, error) {
	legs, err := tx.GetTransactionsByTransferID(ctx, leg.UserID, *leg.TransferID)
	if err != nil {
		return nil, err
	}
	for _, candidate := range legs {
		if candidate.ID != leg.ID {
			return candidate, nil
		}
	}
	return nil, &NotFoundError{Resource: "transfer partner leg"}
}

// validateSplitPartition keeps the split partition intact across amount
// changes: when the transaction already has splits and the patch does not
// replace them, the new amount must still equal their sum.
func validateSplitPartition(ctx context.Context, tx store.Tx, existing *models.Transaction, p UpdateParams) error {
	if p.Amount == nil || p.Splits != nil {
		return nil
	}
	splits, err := tx.ListSplits(ctx, existing.UserID, existing.ID)
	if err != nil {
		return err
	}
	if len(splits) == 0 {
		return nil
	}
	total := money.Zero
	for _, s := range splits {
		total = total.Add(s.Amount)
	}
	if total != *p.Amount {
		return newValidationError("amount",
			"existing split amounts (%d) no longer sum to the new amount (%d); patch splits in the same update",
			total.Cents(), p.Amount.Cents())
	}
	return nil
}

func validateUpdateParams(existing *models.Transaction, p *UpdateParams) error {
	if p.Amount != nil && !p.Amount.IsPositive() {
		return newValidationError("amount", "amount must be positive")
	}
	if p.Type != nil && !p.Type.Valid() {
		return newValidationError("transactionType", "unknown transaction type %q", *p.Type)
	}
	if p.DestinationAmount != nil {
		if existing.Nature != models.CommonTransfer {
			return newValidationError("destinationAmount", "only a common transfer has a destination amount")
		}
		if !p.DestinationAmount.IsPositive() {
			return newValidationError("destinationAmount", "destination amount must be positive")
		}
	}

	if existing.Nature != models.NotTransfer {
		if p.Splits != nil {
			return newValidationError("splits", "splits cannot be added to transfer transactions")
		}
		if p.CategoryID != nil {
			return newValidationError("categoryId", "transfer transactions do not carry a category")
		}
	}
	if existing.Nature == models.CommonTransfer && p.Type != nil && *p.Type != existing.Type {
		// Flipping one leg's type would leave the pair with two incomes or
		// two expenses.
		return newValidationError("transactionType", "cannot change the type of a transfer leg")
	}
	return nil
}
