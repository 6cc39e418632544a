package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/store"
)

// Test that deleting a transaction reverses its balance effect
func TestLedger_DeleteReversesBalance(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 50000)
	ctx := context.Background()

	created, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(20000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, testUserID, created[0].ID))

	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(50000), account.CurrentBalance)

	_, err = st.TransactionByID(created[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Test that deleting one transfer leg demotes the partner instead of
// cascading, and only the deleted leg's balance is reversed
func TestLedger_DeleteTransferLegDemotesPartner(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	seedEURAccount(st, 2, 0)
	ctx := context.Background()

	legs, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(30000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.CommonTransferSpec{
			Destination: models.NewLeg{AccountID: 2, Amount: money.FromCents(30000)},
		},
	})
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, testUserID, legs[0].ID))

	// Source account gets its 300.00 back.
	a, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(100000), a.CurrentBalance)

	// Destination keeps the credited 300.00 and its leg survives, demoted.
	b, err := st.AccountByID(2)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(30000), b.CurrentBalance)

	partner, err := st.TransactionByID(legs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, models.NotTransfer, partner.Nature)
	assert.Nil(t, partner.TransferID)
}

// Test that deleting an original keeps its refunds, unflagged
func TestLedger_DeleteOriginalKeepsRefunds(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	ctx := context.Background()

	original, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)

	refund, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(4000),
		Type:      models.TransactionTypeIncome,
		Transfer: models.NotTransferSpec{
			CategoryID: 1,
			RefundOf:   &models.RefundTarget{OriginalTxID: original[0].ID},
		},
	})
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, testUserID, original[0].ID))

	survivor, err := st.TransactionByID(refund[0].ID)
	require.NoError(t, err)
	assert.False(t, survivor.RefundLinked)
}

// Test deleting a missing transaction
func TestLedger_DeleteNotFound(t *testing.T) {
	ledger, _ := newTestLedger(t)

	err := ledger.Delete(context.Background(), testUserID, 42)
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}
