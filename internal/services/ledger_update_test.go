package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
)

// Test that an amount change reverses the old delta and applies the new one
func TestLedger_UpdateAmount(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	ctx := context.Background()

	created, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(20000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)

	newAmount := money.FromCents(35000)
	updated, err := ledger.Update(ctx, testUserID, created[0].ID, UpdateParams{Amount: &newAmount})
	require.NoError(t, err)
	assert.Equal(t, newAmount, updated[0].Amount)

	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(65000), account.CurrentBalance)
}

// Test that moving a transaction between accounts rebalances both
func TestLedger_UpdateAccountMove(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 50000)
	seedEURAccount(st, 2, 50000)
	ctx := context.Background()

	created, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)

	newAccount := int64(2)
	updated, err := ledger.Update(ctx, testUserID, created[0].ID, UpdateParams{AccountID: &newAccount})
	require.NoError(t, err)
	assert.Equal(t, newAccount, updated[0].AccountID)

	a, err := st.AccountByID(1)
	require.NoError(t, err)
	b, err := st.AccountByID(2)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(50000), a.CurrentBalance)
	assert.Equal(t, money.FromCents(40000), b.CurrentBalance)
}

// Test the invariants guarded on transfer legs
func TestLedger_UpdateTransferLegRules(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	seedEURAccount(st, 2, 0)
	ctx := context.Background()

	legs, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.CommonTransferSpec{
			Destination: models.NewLeg{AccountID: 2, Amount: money.FromCents(10000)},
		},
	})
	require.NoError(t, err)

	income := models.TransactionTypeIncome
	tests := []struct {
		name   string
		params UpdateParams
		field  string
	}{
		{
			name:   "Type change on a transfer leg",
			params: UpdateParams{Type: &income},
			field:  "transactionType",
		},
		{
			name:   "Splits on a transfer leg",
			params: UpdateParams{Splits: &[]models.SplitInput{{CategoryID: 1, Amount: money.FromCents(10000)}}},
			field:  "splits",
		},
		{
			name:   "Category on a transfer leg",
			params: UpdateParams{CategoryID: ptrInt64(4)},
			field:  "categoryId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Update(ctx, testUserID, legs[0].ID, tt.params)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

// Test that a destination-amount patch adjusts the partner leg and its balance
func TestLedger_UpdateDestinationAmount(t *testing.T) {
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

	destAmount := money.FromCents(29500)
	updated, err := ledger.Update(ctx, testUserID, legs[0].ID, UpdateParams{DestinationAmount: &destAmount})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, destAmount, updated[1].Amount)

	b, err := st.AccountByID(2)
	require.NoError(t, err)
	assert.Equal(t, destAmount, b.CurrentBalance)
}

// Test that a time change re-prices refAmount at the new date
func TestLedger_UpdateTimeReprices(t *testing.T) {
	ledger, st := newTestLedger(t)
	st.SeedAccount(models.Account{ID: 1, UserID: testUserID, CurrencyCode: "USD"})
	st.SeedRate(models.ExchangeRate{
		UserID:    testUserID,
		BaseCode:  "USD",
		QuoteCode: "EUR",
		Rate:      mustDecimal(t, "0.8"),
		Date:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	st.SeedRate(models.ExchangeRate{
		UserID:    testUserID,
		BaseCode:  "USD",
		QuoteCode: "EUR",
		Rate:      mustDecimal(t, "0.9"),
		Date:      time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	ctx := context.Background()

	created, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Time:      time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(8000), created[0].RefAmount)

	newTime := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	updated, err := ledger.Update(ctx, testUserID, created[0].ID, UpdateParams{Time: &newTime})
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(9000), updated[0].RefAmount)
}

// Test that an amount change on a split transaction must keep the partition
// intact or replace the splits in the same patch
func TestLedger_UpdateAmountKeepsSplitPartition(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	ctx := context.Background()

	created, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.NotTransferSpec{
			CategoryID: 1,
			Splits: []models.SplitInput{
				{CategoryID: 2, Amount: money.FromCents(6000)},
				{CategoryID: 3, Amount: money.FromCents(4000)},
			},
		},
	})
	require.NoError(t, err)

	// Shrinking the amount alone would leave 60.00+40.00 splits against a
	// 50.00 transaction.
	newAmount := money.FromCents(5000)
	_, err = ledger.Update(ctx, testUserID, created[0].ID, UpdateParams{Amount: &newAmount})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "amount", vErr.Field)

	// Balance stayed untouched by the rejected update.
	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(90000), account.CurrentBalance)

	// Patching splits alongside the amount is the supported shape.
	newSplits := []models.SplitInput{
		{CategoryID: 2, Amount: money.FromCents(3000)},
		{CategoryID: 3, Amount: money.FromCents(2000)},
	}
	updated, err := ledger.Update(ctx, testUserID, created[0].ID, UpdateParams{
		Amount: &newAmount,
		Splits: &newSplits,
	})
	require.NoError(t, err)
	assert.Equal(t, newAmount, updated[0].Amount)

	splits, err := ledger.Splits(ctx, testUserID, created[0].ID)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, money.FromCents(3000), splits[0].Amount)
}

// Test updating a missing transaction
func TestLedger_UpdateNotFound(t *testing.T) {
	ledger, _ := newTestLedger(t)

	amount := money.FromCents(100)
	_, err := ledger.Update(context.Background(), testUserID, 999, UpdateParams{Amount: &amount})
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}

func ptrInt64(v int64) *int64 { return &v }
