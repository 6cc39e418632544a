package services

import (
	"context"
	"errors"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/store"
)

// LinkRefundParams connect an existing refund transaction to the original it
// refunds, optionally to one specific split of the original.
type LinkRefundParams struct {
	UserID       int64
	RefundTxID   int64
	OriginalTxID int64
	SplitID      *int64
}

// LinkRefund creates the refund edge as one atomic unit of work.
func (l *Ledger) LinkRefund(ctx context.Context, p LinkRefundParams) (*models.RefundLink, error) {
	var link *models.RefundLink
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		if err := l.linkRefundInTx(ctx, tx, p.UserID, p.RefundTxID, models.RefundTarget{OriginalTxID: p.OriginalTxID, SplitID: p.SplitID}); err != nil {
			return err
		}
		refund, err := tx.GetTransaction(ctx, p.UserID, p.RefundTxID)
		if err != nil {
			return err
		}
		refund.RefundLinked = true
		if err := tx.UpdateTransaction(ctx, refund); err != nil {
			return err
		}
		links, err := tx.FindRefundLinksForTransaction(ctx, p.UserID, p.RefundTxID)
		if err != nil {
			return err
		}
		for _, candidate := range links {
			if candidate.RefundTxID == p.RefundTxID && candidate.OriginalTxID == p.OriginalTxID {
				link = candidate
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return link, nil
}

// linkRefundInTx validates and writes the refund edge. The original may not
// be a transfer leg, the refund may not already refund something else, and a
// split's refunds may never exceed the split amount.
func (l *Ledger) linkRefundInTx(ctx context.Context, tx store.Tx, userID, refundTxID int64, target models.RefundTarget) error {
	if refundTxID == target.OriginalTxID {
		return newValidationError("refundTxId", "a transaction cannot refund itself")
	}

	original, err := tx.GetTransaction(ctx, userID, target.OriginalTxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "original transaction"}
		}
		return err
	}
	refund, err := tx.GetTransaction(ctx, userID, refundTxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{Resource: "refund transaction"}
		}
		return err
	}

	if original.Nature != models.NotTransfer {
		return newValidationError("originalTxId", "a transfer leg cannot be refunded")
	}
	if refund.Nature != models.NotTransfer {
		return newValidationError("refundTxId", "a refund cannot be a transfer")
	}
	if original.Type == refund.Type {
		return newValidationError("refundTxId", "a refund must have the opposite type of the original")
	}

	// No refund chains: if the original is itself a refund of something, the
	// edge is rejected.
	existingLinks, err := tx.FindRefundLinksForTransaction(ctx, userID, original.ID)
	if err != nil {
		return err
	}
	for _, link := range existingLinks {
		if link.RefundTxID == original.ID {
			return newValidationError("originalTxId", "the original transaction is itself a refund")
		}
	}
	refundLinks, err := tx.FindRefundLinksForTransaction(ctx, userID, refund.ID)
	if err != nil {
		return err
	}
	for _, link := range refundLinks {
		if link.RefundTxID == refund.ID {
			return newValidationError("refundTxId", "transaction already refunds another transaction")
		}
	}

	if target.SplitID != nil {
		if err := l.validateSplitRefund(ctx, tx, userID, original, refund, *target.SplitID); err != nil {
			return err
		}
	}

	if _, err := tx.CreateRefundLink(ctx, &models.RefundLink{
		UserID:       userID,
		OriginalTxID: original.ID,
		RefundTxID:   refund.ID,
		SplitID:      target.SplitID,
	}); err != nil {
		return err
	}

	original.RefundLinked = true
	return tx.UpdateTransaction(ctx, original)
}

// validateSplitRefund checks that the split belongs to the original and that
// the accumulated refunds against it stay within the split amount.
func (l *Ledger) validateSplitRefund(ctx context.Context, tx store.Tx, userID int64, original, refund *models.Transaction, splitID int64) error {
	splits, err := tx.ListSplits(ctx, userID, original.ID)
	if err != nil {
		return err
	}
	var split *models.Split
	for _, s := range splits {
		if s.ID == splitID {
			split = s
			break
		}
	}
	if split == nil {
		return newValidationError("splitId", "split does not belong to the original transaction")
	}

	existing, err := tx.ListRefundLinksForSplit(ctx, userID, splitID)
	if err != nil {
		return err
	}
	refunded := money.Zero
	for _, link := range existing {
		linked, err := tx.GetTransaction(ctx, userID, link.RefundTxID)
		if err != nil {
			return err
		}
		refunded = refunded.Add(linked.Amount)
	}
	if refunded.Add(refund.Amount) > split.Amount {
		return newValidationError("splitId",
			"refund total (%d) would exceed the split amount (%d)",
			refunded.Add(refund.Amount).Cents(), split.Amount.Cents())
	}
	return nil
}

// UnlinkRefund removes the refund edge, clearing the denormalized flags when
// no other edge touches either transaction. Deleting the edge never touches
// balances; the two transactions keep their own effects.
func (l *Ledger) UnlinkRefund(ctx context.Context, userID, refundTxID int64) error {
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		links, err := tx.FindRefundLinksForTransaction(ctx, userID, refundTxID)
		if err != nil {
			return err
		}
		var edge *models.RefundLink
		for _, link := range links {
			if link.RefundTxID == refundTxID {
				edge = link
				break
			}
		}
		if edge == nil {
			return &NotFoundError{Resource: "refund link"}
		}

		if err := tx.DeleteRefundLink(ctx, userID, refundTxID); err != nil {
			return err
		}

		for _, txID := range []int64{edge.RefundTxID, edge.OriginalTxID} {
			if err := l.refreshRefundFlag(ctx, tx, userID, txID); err != nil {
				return err
			}
		}
		return nil
	})
	return mapStoreError(err)
}

func (l *Ledger) refreshRefundFlag(ctx context.Context, tx store.Tx, userID, txID int64) error {
	row, err := tx.GetTransaction(ctx, userID, txID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}
	remaining, err := tx.FindRefundLinksForTransaction(ctx, userID, txID)
	if err != nil {
		return err
	}
	linked := len(remaining) > 0
	if row.RefundLinked != linked {
		row.RefundLinked = linked
		return tx.UpdateTransaction(ctx, row)
	}
	return nil
}
