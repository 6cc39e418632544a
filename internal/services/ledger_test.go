package services

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/store"
)

const testUserID = int64(1)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	st.SeedBaseCurrency(testUserID, "EUR")
	return NewLedger(st, NewConverter(), nil, zerolog.Nop()), st
}

func seedEURAccount(st *store.MemoryStore, id int64, balanceCents int64) *models.Account {
	return st.SeedAccount(models.Account{
		ID:                id,
		UserID:            testUserID,
		Name:              "checking",
		CurrencyCode:      "EUR",
		CurrentBalance:    money.FromCents(balanceCents),
		RefCurrentBalance: money.FromCents(balanceCents),
	})
}

// Test that a plain income mutates the balance and keeps refAmount equal to
// amount for the reference currency
func TestLedger_CreatePlainIncome(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)

	categoryID := int64(3)
	created, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(50000),
		Type:      models.TransactionTypeIncome,
		Transfer:  models.NotTransferSpec{CategoryID: categoryID},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	tx := created[0]
	assert.Equal(t, money.FromCents(50000), tx.Amount)
	assert.Equal(t, money.FromCents(50000), tx.RefAmount)
	assert.Equal(t, models.NotTransfer, tx.Nature)
	require.NotNil(t, tx.CategoryID)
	assert.Equal(t, categoryID, *tx.CategoryID)

	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(150000), account.CurrentBalance)
}

// Test the end-to-end scenario: EUR account at 1000, income of 500, then a
// 300 transfer to a second EUR account
func TestLedger_TransferScenario(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	seedEURAccount(st, 2, 0)

	_, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(50000),
		Type:      models.TransactionTypeIncome,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)

	legs, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(30000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.CommonTransferSpec{
			Destination: models.NewLeg{AccountID: 2, Amount: money.FromCents(30000)},
		},
	})
	require.NoError(t, err)
	require.Len(t, legs, 2)

	source, dest := legs[0], legs[1]
	assert.Equal(t, models.TransactionTypeExpense, source.Type)
	assert.Equal(t, models.TransactionTypeIncome, dest.Type)
	assert.Equal(t, models.CommonTransfer, source.Nature)
	assert.Equal(t, models.CommonTransfer, dest.Nature)
	require.NotNil(t, source.TransferID)
	require.NotNil(t, dest.TransferID)
	assert.Equal(t, *source.TransferID, *dest.TransferID)

	a, err := st.AccountByID(1)
	require.NoError(t, err)
	b, err := st.AccountByID(2)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(120000), a.CurrentBalance)
	assert.Equal(t, money.FromCents(30000), b.CurrentBalance)
}

// Test refAmount resolution when the destination leg is the reference-currency
// side of a cross-currency transfer
func TestLedger_TransferRefAmountAnchoredOnDestination(t *testing.T) {
	ledger, st := newTestLedger(t)
	st.SeedAccount(models.Account{
		ID:           1,
		UserID:       testUserID,
		CurrencyCode: "USD",
	})
	seedEURAccount(st, 2, 0)
	st.SeedRate(models.ExchangeRate{
		UserID:    testUserID,
		BaseCode:  "USD",
		QuoteCode: "EUR",
		Rate:      mustDecimal(t, "0.9"),
		Date:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	legs, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(11000), // 110.00 USD
		Type:      models.TransactionTypeExpense,
		Time:      time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		Transfer: models.CommonTransferSpec{
			Destination: models.NewLeg{AccountID: 2, Amount: money.FromCents(10000)}, // 100.00 EUR
		},
	})
	require.NoError(t, err)
	require.Len(t, legs, 2)

	// Both legs anchor on the EUR side: 100.00.
	assert.Equal(t, money.FromCents(10000), legs[0].RefAmount)
	assert.Equal(t, money.FromCents(10000), legs[1].RefAmount)
}

// Test cross-field validation failures on creation
func TestLedger_CreateValidation(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 0)

	tests := []struct {
		name   string
		params CreateParams
		field  string
	}{
		{
			name: "Missing category on plain transaction",
			params: CreateParams{
				UserID:    testUserID,
				AccountID: 1,
				Amount:    money.FromCents(100),
				Type:      models.TransactionTypeExpense,
				Transfer:  models.NotTransferSpec{},
			},
			field: "categoryId",
		},
		{
			name: "Non-positive amount",
			params: CreateParams{
				UserID:    testUserID,
				AccountID: 1,
				Amount:    money.Zero,
				Type:      models.TransactionTypeExpense,
				Transfer:  models.NotTransferSpec{CategoryID: 1},
			},
			field: "amount",
		},
		{
			name: "Transfer to the same account",
			params: CreateParams{
				UserID:    testUserID,
				AccountID: 1,
				Amount:    money.FromCents(100),
				Type:      models.TransactionTypeExpense,
				Transfer: models.CommonTransferSpec{
					Destination: models.NewLeg{AccountID: 1, Amount: money.FromCents(100)},
				},
			},
			field: "destinationAccountId",
		},
		{
			name: "Splits combined with refund linkage",
			params: CreateParams{
				UserID:    testUserID,
				AccountID: 1,
				Amount:    money.FromCents(100),
				Type:      models.TransactionTypeExpense,
				Transfer: models.NotTransferSpec{
					CategoryID: 1,
					Splits:     []models.SplitInput{{CategoryID: 1, Amount: money.FromCents(100)}},
					RefundOf:   &models.RefundTarget{OriginalTxID: 5},
				},
			},
			field: "splits",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Create(context.Background(), tt.params)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

// Test that split amounts must partition the transaction amount exactly
func TestLedger_CreateWithSplits(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 0)

	_, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.NotTransferSpec{
			CategoryID: 1,
			Splits: []models.SplitInput{
				{CategoryID: 2, Amount: money.FromCents(6000)},
				{CategoryID: 3, Amount: money.FromCents(3000)},
			},
		},
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "splits", vErr.Field)

	created, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.NotTransferSpec{
			CategoryID: 1,
			Splits: []models.SplitInput{
				{CategoryID: 2, Amount: money.FromCents(6000), Note: "groceries"},
				{CategoryID: 3, Amount: money.FromCents(4000)},
			},
		},
	})
	require.NoError(t, err)

	splits, err := ledger.Splits(context.Background(), testUserID, created[0].ID)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	assert.Equal(t, money.FromCents(6000), splits[0].Amount)
	assert.Equal(t, "groceries", splits[0].Note)
}

// Test the balance invariant over a create/update/delete sequence
func TestLedger_BalanceInvariant(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 25000)
	ctx := context.Background()

	income, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(10000),
		Type:      models.TransactionTypeIncome,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)

	expense, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(5000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.NotTransferSpec{CategoryID: 2},
	})
	require.NoError(t, err)

	newAmount := money.FromCents(7500)
	_, err = ledger.Update(ctx, testUserID, expense[0].ID, UpdateParams{Amount: &newAmount})
	require.NoError(t, err)

	require.NoError(t, ledger.Delete(ctx, testUserID, income[0].ID))

	// 250.00 + 0 income - 75.00 expense
	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(17500), account.CurrentBalance)
}

// Test that a single-leg out-of-wallet transfer has no partner row
func TestLedger_OutOfWalletSingleLeg(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 50000)

	legs, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(20000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.OutOfWalletSpec{},
	})
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, models.TransferOutWallet, legs[0].Nature)
	assert.Nil(t, legs[0].TransferID)

	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(30000), account.CurrentBalance)
}

// Test that a portfolio transfer forwards cash to the portfolio ledger
func TestLedger_TransferToPortfolio(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)

	cash := &fakePortfolioLedger{}
	ledger.SetPortfolioLedger(cash)

	legs, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(40000),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.ToPortfolioSpec{PortfolioID: 8},
	})
	require.NoError(t, err)
	require.Len(t, legs, 1)
	assert.Equal(t, models.TransferToPortfolio, legs[0].Nature)

	assert.Equal(t, int64(8), cash.portfolioID)
	assert.Equal(t, money.FromCents(40000), cash.delta)
}

type fakePortfolioLedger struct {
	portfolioID int64
	delta       money.Money
}

func (f *fakePortfolioLedger) ApplyCash(_ context.Context, _, portfolioID int64, delta money.Money) error {
	f.portfolioID = portfolioID
	f.delta = delta
	return nil
}
