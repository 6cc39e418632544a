package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
)

func createExpense(t *testing.T, ledger *Ledger, accountID int64, cents int64) *models.Transaction {
	t.Helper()
	created, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: accountID,
		Amount:    money.FromCents(cents),
		Type:      models.TransactionTypeExpense,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)
	return created[0]
}

func createIncome(t *testing.T, ledger *Ledger, accountID int64, cents int64) *models.Transaction {
	t.Helper()
	created, err := ledger.Create(context.Background(), CreateParams{
		UserID:    testUserID,
		AccountID: accountID,
		Amount:    money.FromCents(cents),
		Type:      models.TransactionTypeIncome,
		Transfer:  models.NotTransferSpec{CategoryID: 1},
	})
	require.NoError(t, err)
	return created[0]
}

// Test linking a refund to an original and the denormalized flags
func TestLedger_LinkRefund(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	ctx := context.Background()

	original := createExpense(t, ledger, 1, 10000)
	refund := createIncome(t, ledger, 1, 4000)

	link, err := ledger.LinkRefund(ctx, LinkRefundParams{
		UserID:       testUserID,
		RefundTxID:   refund.ID,
		OriginalTxID: original.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, original.ID, link.OriginalTxID)
	assert.Equal(t, refund.ID, link.RefundTxID)

	originalRow, err := st.TransactionByID(original.ID)
	require.NoError(t, err)
	refundRow, err := st.TransactionByID(refund.ID)
	require.NoError(t, err)
	assert.True(t, originalRow.RefundLinked)
	assert.True(t, refundRow.RefundLinked)

	// Linking never touches balances.
	account, err := st.AccountByID(1)
	require.NoError(t, err)
	assert.Equal(t, money.FromCents(94000), account.CurrentBalance)
}

// Test the refund linkage invariants
func TestLedger_LinkRefundValidation(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	seedEURAccount(st, 2, 0)
	ctx := context.Background()

	legs, err := ledger.Create(ctx, CreateParams{
		UserID:    testUserID,
		AccountID: 1,
		Amount:    money.FromCents(5000),
		Type:      models.TransactionTypeExpense,
		Transfer: models.CommonTransferSpec{
			Destination: models.NewLeg{AccountID: 2, Amount: money.FromCents(5000)},
		},
	})
	require.NoError(t, err)

	original := createExpense(t, ledger, 1, 10000)
	refund := createIncome(t, ledger, 1, 4000)
	_, err = ledger.LinkRefund(ctx, LinkRefundParams{
		UserID:       testUserID,
		RefundTxID:   refund.ID,
		OriginalTxID: original.ID,
	})
	require.NoError(t, err)

	secondRefund := createIncome(t, ledger, 1, 1000)
	sameType := createExpense(t, ledger, 1, 1000)

	tests := []struct {
		name         string
		refundTxID   int64
		originalTxID int64
	}{
		{
			name:         "Original is a transfer leg",
			refundTxID:   secondRefund.ID,
			originalTxID: legs[0].ID,
		},
		{
			name:         "Refund chain",
			refundTxID:   sameType.ID,
			originalTxID: refund.ID,
		},
		{
			name:         "Refund already refunds another transaction",
			refundTxID:   refund.ID,
			originalTxID: sameType.ID,
		},
		{
			name:         "Same type on both sides",
			refundTxID:   sameType.ID,
			originalTxID: original.ID,
		},
		{
			name:         "Self refund",
			refundTxID:   original.ID,
			originalTxID: original.ID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.LinkRefund(ctx, LinkRefundParams{
				UserID:       testUserID,
				RefundTxID:   tt.refundTxID,
				OriginalTxID: tt.originalTxID,
			})
			var vErr *ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

// Test that a split's refunds can never exceed the split amount
func TestLedger_LinkRefundSplitCap(t *testing.T) {
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

	splits, err := ledger.Splits(ctx, testUserID, created[0].ID)
	require.NoError(t, err)
	require.Len(t, splits, 2)
	splitID := splits[0].ID // 60.00

	partial := createIncome(t, ledger, 1, 5000)
	_, err = ledger.LinkRefund(ctx, LinkRefundParams{
		UserID:       testUserID,
		RefundTxID:   partial.ID,
		OriginalTxID: created[0].ID,
		SplitID:      &splitID,
	})
	require.NoError(t, err)

	// 50.00 already refunded; another 20.00 would exceed the 60.00 split.
	overflow := createIncome(t, ledger, 1, 2000)
	_, err = ledger.LinkRefund(ctx, LinkRefundParams{
		UserID:       testUserID,
		RefundTxID:   overflow.ID,
		OriginalTxID: created[0].ID,
		SplitID:      &splitID,
	})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "splitId", vErr.Field)

	// Exactly filling the split is fine.
	exact := createIncome(t, ledger, 1, 1000)
	_, err = ledger.LinkRefund(ctx, LinkRefundParams{
		UserID:       testUserID,
		RefundTxID:   exact.ID,
		OriginalTxID: created[0].ID,
		SplitID:      &splitID,
	})
	assert.NoError(t, err)
}

// Test that unlinking removes the edge and clears flags
func TestLedger_UnlinkRefund(t *testing.T) {
	ledger, st := newTestLedger(t)
	seedEURAccount(st, 1, 100000)
	ctx := context.Background()

	original := createExpense(t, ledger, 1, 10000)
	refund := createIncome(t, ledger, 1, 4000)
	_, err := ledger.LinkRefund(ctx, LinkRefundParams{
		UserID:       testUserID,
		RefundTxID:   refund.ID,
		OriginalTxID: original.ID,
	})
	require.NoError(t, err)

	require.NoError(t, ledger.UnlinkRefund(ctx, testUserID, refund.ID))

	originalRow, err := st.TransactionByID(original.ID)
	require.NoError(t, err)
	refundRow, err := st.TransactionByID(refund.ID)
	require.NoError(t, err)
	assert.False(t, originalRow.RefundLinked)
	assert.False(t, refundRow.RefundLinked)

	err = ledger.UnlinkRefund(ctx, testUserID, refund.ID)
	var nfErr *NotFoundError
	assert.ErrorAs(t, err, &nfErr)
}
