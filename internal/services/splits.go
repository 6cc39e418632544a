package services

import (
	"context"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/store"
)

// manageSplits replaces a transaction's full split set. Splits only exist on
// non-transfer transactions; each split carries its own refAmount converted
// at the parent transaction's time.
func (l *Ledger) manageSplits(ctx context.Context, tx store.Tx, parent *models.Transaction, inputs []models.SplitInput, baseCurrency string) ([]*models.Split, error) {
	if parent.Nature != models.NotTransfer {
		return nil, newValidationError("splits", "splits cannot be added to transfer transactions")
	}

	if len(inputs) == 0 {
		return tx.ReplaceSplits(ctx, parent.ID, nil)
	}

	if err := validateSplitInputs(inputs, parent.Amount); err != nil {
		return nil, err
	}

	rows := make([]*models.Split, 0, len(inputs))
	for _, input := range inputs {
		refAmount := input.Amount
		if parent.CurrencyCode != baseCurrency {
			converted, err := l.converter.Convert(ctx, tx, ConvertParams{
				Amount:       input.Amount,
				FromCurrency: parent.CurrencyCode,
				ToCurrency:   baseCurrency,
				AsOf:         parent.Time,
				UserID:       parent.UserID,
			})
			if err != nil {
				return nil, err
			}
			refAmount = converted
		}
		rows = append(rows, &models.Split{
			TransactionID: parent.ID,
			UserID:        parent.UserID,
			CategoryID:    input.CategoryID,
			Amount:        input.Amount,
			RefAmount:     refAmount,
			Note:          input.Note,
		})
	}

	return tx.ReplaceSplits(ctx, parent.ID, rows)
}

// Splits lists the splits of a transaction.
func (l *Ledger) Splits(ctx context.Context, userID, transactionID int64) ([]*models.Split, error) {
	var out []*models.Split
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListSplits(ctx, userID, transactionID)
		return err
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return out, nil
}
