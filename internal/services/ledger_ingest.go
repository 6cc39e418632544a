package services

import (
	"context"
	"errors"
	"time"

	"github.com/montrack/montrack-api/internal/metrics"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/store"
)

// Ingest persists one bank-sync movement as a plain transaction. The
// (accountId, originalId) pair is the dedup key; a repeat delivery is a
// ConflictError, never a silent no-op, so the sync layer can tell replays
// apart from fresh movements.
func (l *Ledger) Ingest(ctx context.Context, ext models.ExternalTransaction) (*models.Transaction, error) {
	if err := validateExternalTransaction(&ext); err != nil {
		return nil, err
	}

	var created *models.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.FindTransactionByOriginalID(ctx, ext.AccountID, ext.OriginalID); err == nil {
			metrics.IngestDuplicates.Inc()
			return &ConflictError{Message: "transaction with this original id already exists for the account"}
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		accounts, err := l.lockAccounts(ctx, tx, ext.UserID, []int64{ext.AccountID})
		if err != nil {
			return err
		}
		account := accounts[ext.AccountID]

		currency := ext.CurrencyCode
		if currency == "" {
			currency = account.CurrencyCode
		}

		baseCurrency, err := tx.GetBaseCurrency(ctx, ext.UserID)
		if err != nil {
			return err
		}

		refAmount, err := l.converter.Convert(ctx, tx, ConvertParams{
			Amount:       ext.Amount,
			FromCurrency: currency,
			ToCurrency:   baseCurrency,
			AsOf:         ext.Time,
			UserID:       ext.UserID,
		})
		if err != nil {
			if !errors.Is(err, ErrRateNotFound) {
				return err
			}
			// A missing rate must not block ingestion. The raw amount stands
			// in for the reference amount; the log carries enough context to
			// replay the conversion once the rate arrives.
			refAmount = ext.Amount
			metrics.RateLookupFailures.Inc()
			l.log.Warn().
				Err(err).
				Int64("user_id", ext.UserID).
				Int64("account_id", ext.AccountID).
				Str("original_id", ext.OriginalID).
				Str("currency", currency).
				Msg("rate lookup failed during ingestion, storing unconverted reference amount")
		}

		row := &models.Transaction{
			UserID:       ext.UserID,
			AccountID:    ext.AccountID,
			Amount:       ext.Amount,
			RefAmount:    refAmount,
			CurrencyCode: currency,
			Type:         ext.Type,
			Time:         ext.Time,
			Note:         ext.Note,
			Nature:       models.NotTransfer,
			OriginalID:   &ext.OriginalID,
			ExternalData: ext.ExternalData,
		}
		created, err = tx.CreateTransaction(ctx, row)
		if err != nil {
			return err
		}
		return applyBalance(ctx, tx, created, 1)
	})
	if err != nil {
		return nil, mapStoreError(err)
	}

	l.publish(EventTransactionCreated, ext.UserID, []*models.Transaction{created})
	return created, nil
}

func validateExternalTransaction(ext *models.ExternalTransaction) error {
	if ext.UserID <= 0 {
		return newValidationError("userId", "user id is required")
	}
	if ext.AccountID <= 0 {
		return newValidationError("accountId", "account id is required")
	}
	if ext.OriginalID == "" {
		return newValidationError("originalId", "original id is required")
	}
	if !ext.Amount.IsPositive() {
		return newValidationError("amount", "amount must be positive")
	}
	if !ext.Type.Valid() {
		return newValidationError("transactionType", "unknown transaction type %q", ext.Type)
	}
	if ext.Time.IsZero() {
		ext.Time = time.Now().UTC()
	}
	return nil
}
