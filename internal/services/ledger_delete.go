package services

import (
	"context"
	"errors"

	"github.com/montrack/montrack-api/internal/metrics"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/store"
)

// Delete removes one transaction and reverses its own balance effect only.
// The partner leg of a common transfer is kept and demoted back to a plain
// transaction with its transferId cleared; its balance effect stays in place.
func (l *Ledger) Delete(ctx context.Context, userID, id int64) error {
	var affected []*models.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		existing, err := tx.GetTransaction(ctx, userID, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &NotFoundError{Resource: "transaction"}
			}
			return err
		}

		if _, err := l.lockAccounts(ctx, tx, userID, []int64{existing.AccountID}); err != nil {
			return err
		}

		if err := l.dropRefundEdges(ctx, tx, existing); err != nil {
			return err
		}

		if existing.IsTransferLeg() {
			partner, err := l.transferPartner(ctx, tx, existing)
			if err != nil {
				return err
			}
			if err := demoteLeg(ctx, tx, partner); err != nil {
				return err
			}
			affected = append(affected, partner)
		}

		if err := applyBalance(ctx, tx, existing, -1); err != nil {
			return err
		}
		if err := tx.DeleteTransaction(ctx, userID, id); err != nil {
			return err
		}
		affected = append(affected, existing)
		return nil
	})
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("delete", "error").Inc()
		return mapStoreError(err)
	}
	metrics.TransactionsTotal.WithLabelValues("delete", "ok").Inc()

	l.publish(EventTransactionDeleted, userID, affected)
	return nil
}

// dropRefundEdges removes every refund edge touching the transaction and
// refreshes the denormalized flag on each counterpart. Deleting an original
// never deletes its refunds; they just stop being marked as refunds.
func (l *Ledger) dropRefundEdges(ctx context.Context, tx store.Tx, row *models.Transaction) error {
	if !row.RefundLinked {
		return nil
	}
	links, err := tx.FindRefundLinksForTransaction(ctx, row.UserID, row.ID)
	if err != nil {
		return err
	}
	for _, link := range links {
		if err := tx.DeleteRefundLink(ctx, row.UserID, link.RefundTxID); err != nil {
			return err
		}
		counterpart := link.OriginalTxID
		if counterpart == row.ID {
			counterpart = link.RefundTxID
		}
		if err := l.refreshRefundFlag(ctx, tx, row.UserID, counterpart); err != nil {
			return err
		}
	}
	return nil
}

func demoteLeg(ctx context.Context, tx store.Tx, leg *models.Transaction) error {
	leg.Nature = models.NotTransfer
	leg.TransferID = nil
	return tx.UpdateTransaction(ctx, leg)
}

// HandleAccountDeletion repairs transfer legs orphaned by an account removal:
// storage cascades the deleted account's own transactions away, and every
// surviving partner leg is demoted here so no half-transfer remains.
func (l *Ledger) HandleAccountDeletion(ctx context.Context, userID, deletedAccountID int64) error {
	var demoted []*models.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		nature := models.CommonTransfer
		legs, err := tx.FindTransactions(ctx, store.TransactionFilter{
			UserID: userID,
			Nature: &nature,
		})
		if err != nil {
			return err
		}
		for _, leg := range legs {
			if leg.AccountID == deletedAccountID || leg.TransferID == nil {
				continue
			}
			partners, err := tx.GetTransactionsByTransferID(ctx, userID, *leg.TransferID)
			if err != nil {
				return err
			}
			if len(partners) > 1 {
				continue
			}
			if err := demoteLeg(ctx, tx, leg); err != nil {
				return err
			}
			demoted = append(demoted, leg)
		}
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}

	if len(demoted) > 0 {
		l.publish(EventTransactionUpdated, userID, demoted)
	}
	return nil
}
