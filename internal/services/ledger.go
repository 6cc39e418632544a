package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/montrack/montrack-api/internal/metrics"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/store"
	"github.com/rs/zerolog"
)

// PortfolioCashLedger is the external collaborator credited/debited when a
// transfer_to_portfolio transaction is recorded. The cash ledger itself is
// outside this engine.
type PortfolioCashLedger interface {
	ApplyCash(ctx context.Context, userID, portfolioID int64, delta money.Money) error
}

// Ledger records money movements against accounts while keeping balances and
// the reference-currency valuation consistent. Every operation is one atomic
// unit of work; validation happens before any mutation.
type Ledger struct {
	store     store.Store
	converter *Converter
	bus       *EventBus
	portfolio PortfolioCashLedger
	log       zerolog.Logger
}

func NewLedger(st store.Store, converter *Converter, bus *EventBus, log zerolog.Logger) *Ledger {
	return &Ledger{
		store:     st,
		converter: converter,
		bus:       bus,
		log:       log,
	}
}

// SetPortfolioLedger wires the portfolio cash-ledger collaborator.
func (l *Ledger) SetPortfolioLedger(p PortfolioCashLedger) {
	l.portfolio = p
}

// CreateParams describe a new transaction. Amount is a positive magnitude;
// Transfer selects the nature-specific shape.
type CreateParams struct {
	UserID       int64
	AccountID    int64
	Amount       money.Money
	Type         models.TransactionType
	Time         time.Time
	Note         string
	Transfer     models.TransferSpec
	ExternalData map[string]interface{}
}

// Create validates the nature-specific field combination, persists one or two
// rows, populates refAmount at the transaction's own time and mutates every
// affected account balance, all inside one unit of work.
func (l *Ledger) Create(ctx context.Context, p CreateParams) ([]*models.Transaction, error) {
	if err := validateCreateParams(&p); err != nil {
		return nil, err
	}

	var created []*models.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = l.createInTx(ctx, tx, p)
		return err
	})
	if err != nil {
		metrics.TransactionsTotal.WithLabelValues("create", "error").Inc()
		return nil, mapStoreError(err)
	}
	metrics.TransactionsTotal.WithLabelValues("create", "ok").Inc()

	l.publish(EventTransactionCreated, p.UserID, created)
	return created, nil
}

func (l *Ledger) createInTx(ctx context.Context, tx store.Tx, p CreateParams) ([]*models.Transaction, error) {
	baseCurrency, err := tx.GetBaseCurrency(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &NotFoundError{Resource: "user base currency"}
		}
		return nil, err
	}

	lockIDs := []int64{p.AccountID}
	if ct, ok := p.Transfer.(models.CommonTransferSpec); ok {
		if leg, ok := ct.Destination.(models.NewLeg); ok {
			lockIDs = append(lockIDs, leg.AccountID)
		}
	}
	accounts, err := l.lockAccounts(ctx, tx, p.UserID, lockIDs)
	if err != nil {
		return nil, err
	}
	source := accounts[p.AccountID]

	refAmount, err := l.converter.Convert(ctx, tx, ConvertParams{
		Amount:       p.Amount,
		FromCurrency: source.CurrencyCode,
		ToCurrency:   baseCurrency,
		AsOf:         p.Time,
		UserID:       p.UserID,
	})
	if err != nil {
		return nil, err
	}

	row := &models.Transaction{
		UserID:       p.UserID,
		AccountID:    p.AccountID,
		Amount:       p.Amount,
		RefAmount:    refAmount,
		CurrencyCode: source.CurrencyCode,
		Type:         p.Type,
		Time:         p.Time,
		Note:         p.Note,
		Nature:       p.Transfer.Nature(),
		ExternalData: p.ExternalData,
	}

	switch spec := p.Transfer.(type) {
	case models.NotTransferSpec:
		return l.createPlain(ctx, tx, row, spec, baseCurrency)
	case models.CommonTransferSpec:
		switch dest := spec.Destination.(type) {
		case models.NewLeg:
			return l.createTransferPair(ctx, tx, row, accounts[dest.AccountID], dest, baseCurrency)
		case models.ExistingTx:
			return l.createTransferToExisting(ctx, tx, row, dest)
		}
		return nil, newValidationError("transfer", "unsupported transfer destination")
	case models.OutOfWalletSpec:
		return l.createSingleLeg(ctx, tx, row)
	case models.ToPortfolioSpec:
		row.PortfolioID = &spec.PortfolioID
		legs, err := l.createSingleLeg(ctx, tx, row)
		if err != nil {
			return nil, err
		}
		l.applyPortfolioCash(ctx, legs[0], spec.PortfolioID)
		return legs, nil
	}
	return nil, newValidationError("transfer", "unsupported transfer nature")
}

func (l *Ledger) createPlain(ctx context.Context, tx store.Tx, row *models.Transaction, spec models.NotTransferSpec, baseCurrency string) ([]*models.Transaction, error) {
	row.CategoryID = &spec.CategoryID

	created, err := tx.CreateTransaction(ctx, row)
	if err != nil {
		return nil, err
	}
	if err := applyBalance(ctx, tx, created, 1); err != nil {
		return nil, err
	}

	if len(spec.Splits) > 0 {
		if _, err := l.manageSplits(ctx, tx, created, spec.Splits, baseCurrency); err != nil {
			return nil, err
		}
	}

	if spec.RefundOf != nil {
		if err := l.linkRefundInTx(ctx, tx, created.UserID, created.ID, *spec.RefundOf); err != nil {
			return nil, err
		}
		created.RefundLinked = true
		if err := tx.UpdateTransaction(ctx, created); err != nil {
			return nil, err
		}
	}

	return []*models.Transaction{created}, nil
}

func (l *Ledger) createSingleLeg(ctx context.Context, tx store.Tx, row *models.Transaction) ([]*models.Transaction, error) {
	created, err := tx.CreateTransaction(ctx, row)
	if err != nil {
		return nil, err
	}
	if err := applyBalance(ctx, tx, created, 1); err != nil {
		return nil, err
	}
	return []*models.Transaction{created}, nil
}

// createTransferPair persists both legs of a common transfer under one fresh
// transferId. The destination leg stores its own amount; when currencies
// differ the amounts legitimately diverge to reflect conversion spread.
func (l *Ledger) createTransferPair(ctx context.Context, tx store.Tx, base *models.Transaction, destination *models.Account, leg models.NewLeg, baseCurrency string) ([]*models.Transaction, error) {
	transferID := uuid.New()
	base.TransferID = &transferID

	baseRef, oppositeRef, err := l.transferRefAmounts(ctx, tx, base, destination, leg.Amount, baseCurrency)
	if err != nil {
		return nil, err
	}
	base.RefAmount = baseRef

	createdBase, err := tx.CreateTransaction(ctx, base)
	if err != nil {
		return nil, err
	}
	if err := applyBalance(ctx, tx, createdBase, 1); err != nil {
		return nil, err
	}

	opposite := &models.Transaction{
		UserID:       base.UserID,
		AccountID:    destination.ID,
		Amount:       leg.Amount,
		RefAmount:    oppositeRef,
		CurrencyCode: destination.CurrencyCode,
		Type:         base.Type.Opposite(),
		Time:         base.Time,
		Note:         base.Note,
		Nature:       models.CommonTransfer,
		TransferID:   &transferID,
	}
	createdOpposite, err := tx.CreateTransaction(ctx, opposite)
	if err != nil {
		return nil, err
	}
	if err := applyBalance(ctx, tx, createdOpposite, 1); err != nil {
		return nil, err
	}

	return []*models.Transaction{createdBase, createdOpposite}, nil
}

// transferRefAmounts resolves the reference amounts for the two legs of a
// transfer. A leg whose own currency is the reference currency anchors the
// pair; when neither leg is in the reference currency each leg converts
// independently.
func (l *Ledger) transferRefAmounts(ctx context.Context, tx store.Tx, base *models.Transaction, destination *models.Account, destinationAmount money.Money, baseCurrency string) (money.Money, money.Money, error) {
	sourceIsRef := base.CurrencyCode == baseCurrency
	destIsRef := destination.CurrencyCode == baseCurrency

	switch {
	case sourceIsRef && destIsRef:
		return base.Amount, base.Amount, nil
	case sourceIsRef && !destIsRef:
		return base.Amount, base.Amount, nil
	case !sourceIsRef && destIsRef:
		// The destination leg is the reference-currency side, so the source
		// leg's refAmount matches it exactly.
		return destinationAmount, destinationAmount, nil
	default:
		oppositeRef, err := l.converter.Convert(ctx, tx, ConvertParams{
			Amount:       destinationAmount,
			FromCurrency: destination.CurrencyCode,
			ToCurrency:   baseCurrency,
			AsOf:         base.Time,
			UserID:       base.UserID,
		})
		if err != nil {
			return 0, 0, err
		}
		return base.RefAmount, oppositeRef, nil
	}
}

func (l *Ledger) createTransferToExisting(ctx context.Context, tx store.Tx, base *models.Transaction, dest models.ExistingTx) ([]*models.Transaction, error) {
	// The base row is persisted as not_transfer first; linking flips both
	// natures and assigns the shared transferId.
	base.Nature = models.NotTransfer
	createdBase, err := tx.CreateTransaction(ctx, base)
	if err != nil {
		return nil, err
	}
	if err := applyBalance(ctx, tx, createdBase, 1); err != nil {
		return nil, err
	}

	linkedBase, linkedOpposite, err := l.linkPairInTx(ctx, tx, base.UserID, createdBase.ID, dest.TransactionID,
		linkOptions{ignoreBaseNature: true})
	if err != nil {
		return nil, err
	}
	return []*models.Transaction{linkedBase, linkedOpposite}, nil
}

func (l *Ledger) applyPortfolioCash(ctx context.Context, leg *models.Transaction, portfolioID int64) {
	if l.portfolio == nil {
		return
	}
	// An expense on the account moves cash into the portfolio.
	delta := leg.Amount
	if leg.Type == models.TransactionTypeIncome {
		delta = delta.Neg()
	}
	if err := l.portfolio.ApplyCash(ctx, leg.UserID, portfolioID, delta); err != nil {
		l.log.Warn().
			Err(err).
			Int64("user_id", leg.UserID).
			Int64("portfolio_id", portfolioID).
			Int64("transaction_id", leg.ID).
			Msg("portfolio cash ledger update failed")
	}
}

// lockAccounts acquires row locks in ascending id order so that concurrent
// multi-account units of work cannot deadlock.
func (l *Ledger) lockAccounts(ctx context.Context, tx store.Tx, userID int64, ids []int64) (map[int64]*models.Account, error) {
	unique := make([]int64, 0, len(ids))
	seen := map[int64]bool{}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	out := make(map[int64]*models.Account, len(unique))
	for _, id := range unique {
		account, err := tx.GetAccountForUpdate(ctx, userID, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, &NotFoundError{Resource: "account"}
			}
			return nil, err
		}
		out[id] = account
	}
	return out, nil
}

// applyBalance applies (sign=1) or reverses (sign=-1) a transaction's effect
// on its account balance. Income adds, expense subtracts.
func applyBalance(ctx context.Context, tx store.Tx, row *models.Transaction, sign int) error {
	delta, refDelta := balanceDelta(row)
	if sign < 0 {
		delta, refDelta = delta.Neg(), refDelta.Neg()
	}
	return tx.ApplyBalanceDelta(ctx, row.AccountID, delta, refDelta)
}

func balanceDelta(row *models.Transaction) (money.Money, money.Money) {
	if row.Type == models.TransactionTypeIncome {
		return row.Amount, row.RefAmount
	}
	return row.Amount.Neg(), row.RefAmount.Neg()
}

func (l *Ledger) publish(eventType EventType, userID int64, txs []*models.Transaction) {
	if l.bus == nil {
		return
	}
	ids := make([]int64, 0, len(txs))
	var transferID *uuid.UUID
	for _, tx := range txs {
		ids = append(ids, tx.ID)
		if tx.TransferID != nil {
			transferID = tx.TransferID
		}
	}
	l.bus.Publish(Event{
		Type:           eventType,
		UserID:         userID,
		TransactionIDs: ids,
		TransferID:     transferID,
	})
}

// mapStoreError converts storage sentinels into the domain taxonomy. Domain
// errors pass through untouched; anything else is an opaque StorageError
// (the unit of work has already rolled back).
func mapStoreError(err error) error {
	var (
		validationErr *ValidationError
		conflictErr   *ConflictError
		notFoundErr   *NotFoundError
		storageErr    *StorageError
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &validationErr),
		errors.As(err, &conflictErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &storageErr),
		errors.Is(err, ErrRateNotFound):
		return err
	case errors.Is(err, store.ErrDuplicateOriginalID):
		return &ConflictError{Message: "transaction with this original id already exists for the account"}
	case errors.Is(err, store.ErrNotFound):
		return &NotFoundError{Resource: "record"}
	default:
		return &StorageError{Err: err}
	}
}
