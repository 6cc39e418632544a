package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/store"
)

// LinkPair identifies two existing transactions to merge into one logical
// transfer. Base is conventionally the expense side.
type LinkPair struct {
	BaseTxID     int64
	OppositeTxID int64
}

type linkOptions struct {
	// ignoreBaseNature skips the base-side "must be unlinked" check. Used by
	// the create path, where the base row was just written by the same unit
	// of work.
	ignoreBaseNature bool
}

// LinkTransactions promotes pairs of previously independent transactions into
// linked common transfers. Each pair is its own atomic unit of work: either
// both legs become linked or neither does. Balances are untouched; the two
// legs already individually carry their balance effects.
func (l *Ledger) LinkTransactions(ctx context.Context, userID int64, pairs []LinkPair) ([][2]*models.Transaction, error) {
	out := make([][2]*models.Transaction, 0, len(pairs))
	for _, pair := range pairs {
		var base, opposite *models.Transaction
		err := l.store.WithTx(ctx, func(tx store.Tx) error {
			var err error
			base, opposite, err = l.linkPairInTx(ctx, tx, userID, pair.BaseTxID, pair.OppositeTxID, linkOptions{})
			return err
		})
		if err != nil {
			return out, mapStoreError(err)
		}
		out = append(out, [2]*models.Transaction{base, opposite})
		l.publish(EventTransferLinked, userID, []*models.Transaction{base, opposite})
	}
	return out, nil
}

// linkPairInTx validates and performs the one forward transition of the
// transfer state machine: unlinked -> linked. It assigns a fresh shared
// transferId and flips both natures to common_transfer; metadata only.
func (l *Ledger) linkPairInTx(ctx context.Context, tx store.Tx, userID, baseTxID, oppositeTxID int64, opts linkOptions) (*models.Transaction, *models.Transaction, error) {
	if baseTxID == oppositeTxID {
		return nil, nil, newValidationError("transactionIds", "cannot link a transaction to itself")
	}

	base, err := tx.GetTransaction(ctx, userID, baseTxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, &NotFoundError{Resource: "base transaction"}
		}
		return nil, nil, err
	}
	opposite, err := tx.GetTransaction(ctx, userID, oppositeTxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, &NotFoundError{Resource: "destination transaction"}
		}
		return nil, nil, err
	}

	if err := validateLinkPair(base, opposite, opts); err != nil {
		return nil, nil, err
	}

	transferID := uuid.New()
	for _, leg := range []*models.Transaction{base, opposite} {
		leg.Nature = models.CommonTransfer
		id := transferID
		leg.TransferID = &id
		if err := tx.UpdateTransaction(ctx, leg); err != nil {
			return nil, nil, err
		}
	}

	return base, opposite, nil
}

func validateLinkPair(base, opposite *models.Transaction, opts linkOptions) error {
	if opposite.Type == base.Type {
		return newValidationError("transactionIds", "linked transactions must have opposite types")
	}
	if opposite.AccountID == base.AccountID {
		return newValidationError("transactionIds", "linked transactions must belong to different accounts")
	}
	if base.RefundLinked || opposite.RefundLinked {
		return newValidationError("transactionIds", "refund transactions cannot become transfer legs")
	}
	if opposite.Nature != models.NotTransfer {
		return newValidationError("transactionIds", "destination transaction is already a transfer")
	}
	if !opts.ignoreBaseNature && base.Nature != models.NotTransfer {
		return newValidationError("transactionIds", "base transaction is already a transfer")
	}
	return nil
}
