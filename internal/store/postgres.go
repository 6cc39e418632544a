package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
)

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore parses the connection string, builds a pool and verifies
// connectivity with a ping.
func NewPostgresStore(ctx context.Context, connString string, maxConns int) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// WithTx runs fn inside a RepeatableRead transaction. Balance
// read-modify-writes serialize on SELECT ... FOR UPDATE row locks.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

const accountColumns = `id, user_id, name, currency_code, current_balance, ref_current_balance,
	external_id, external_data, bank_connection_id, created_at, updated_at`

func (t *pgTx) GetAccount(ctx context.Context, userID, id int64) (*models.Account, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanAccount(row)
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, userID, id int64) (*models.Account, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID)
	return scanAccount(row)
}

func (t *pgTx) ApplyBalanceDelta(ctx context.Context, accountID int64, delta, refDelta money.Money) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE accounts
		 SET current_balance = current_balance + $1,
		     ref_current_balance = ref_current_balance + $2,
		     updated_at = now()
		 WHERE id = $3`,
		delta.Cents(), refDelta.Cents(), accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const transactionColumns = `id, user_id, account_id, category_id, amount, ref_amount, currency_code,
	transaction_type, time, note, transfer_nature, transfer_id, portfolio_id, original_id,
	refund_linked, external_data, created_at, updated_at`

func (t *pgTx) CreateTransaction(ctx context.Context, tx *models.Transaction) (*models.Transaction, error) {
	externalData, err := marshalExternalData(tx.ExternalData)
	if err != nil {
		return nil, err
	}

	row := t.tx.QueryRow(ctx,
		`INSERT INTO transactions (user_id, account_id, category_id, amount, ref_amount,
			currency_code, transaction_type, time, note, transfer_nature, transfer_id,
			portfolio_id, original_id, refund_linked, external_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 RETURNING `+transactionColumns,
		tx.UserID, tx.AccountID, tx.CategoryID, tx.Amount.Cents(), tx.RefAmount.Cents(),
		tx.CurrencyCode, tx.Type, tx.Time, tx.Note, tx.Nature, tx.TransferID,
		tx.PortfolioID, tx.OriginalID, tx.RefundLinked, externalData)

	created, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateOriginalID
		}
		return nil, err
	}
	return created, nil
}

func (t *pgTx) GetTransaction(ctx context.Context, userID, id int64) (*models.Transaction, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`,
		id, userID)
	return scanTransaction(row)
}

func (t *pgTx) UpdateTransaction(ctx context.Context, tx *models.Transaction) error {
	externalData, err := marshalExternalData(tx.ExternalData)
	if err != nil {
		return err
	}

	tag, err := t.tx.Exec(ctx,
		`UPDATE transactions
		 SET account_id = $1, category_id = $2, amount = $3, ref_amount = $4,
		     currency_code = $5, transaction_type = $6, time = $7, note = $8,
		     transfer_nature = $9, transfer_id = $10, portfolio_id = $11,
		     original_id = $12, refund_linked = $13, external_data = $14, updated_at = now()
		 WHERE id = $15 AND user_id = $16`,
		tx.AccountID, tx.CategoryID, tx.Amount.Cents(), tx.RefAmount.Cents(),
		tx.CurrencyCode, tx.Type, tx.Time, tx.Note, tx.Nature, tx.TransferID,
		tx.PortfolioID, tx.OriginalID, tx.RefundLinked, externalData, tx.ID, tx.UserID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteTransaction(ctx context.Context, userID, id int64) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM transactions WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) GetTransactionsByTransferID(ctx context.Context, userID int64, transferID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = $1 AND transfer_id = $2 ORDER BY time, id`,
		userID, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *pgTx) FindTransactionByOriginalID(ctx context.Context, accountID int64, originalID string) (*models.Transaction, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE account_id = $1 AND original_id = $2`,
		accountID, originalID)
	return scanTransaction(row)
}

func (t *pgTx) FindTransactions(ctx context.Context, filter TransactionFilter) ([]*models.Transaction, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.UserID != 0 {
		add("user_id = $%d", filter.UserID)
	}
	if len(filter.AccountIDs) > 0 {
		add("account_id = ANY($%d)", filter.AccountIDs)
	}
	if filter.Type != "" {
		add("transaction_type = $%d", filter.Type)
	}
	if filter.Nature != nil {
		add("transfer_nature = $%d", *filter.Nature)
	}
	if filter.CurrencyCode != "" {
		add("currency_code = $%d", filter.CurrencyCode)
	}
	if filter.Amount != nil {
		add("amount = $%d", filter.Amount.Cents())
	}
	if filter.TimeFrom != nil {
		add("time >= $%d", *filter.TimeFrom)
	}
	if filter.TimeTo != nil {
		add("time <= $%d", *filter.TimeTo)
	}
	if filter.ExternalField != nil {
		args = append(args, filter.ExternalField.Key)
		keyIdx := len(args)
		args = append(args, filter.ExternalField.Values)
		conds = append(conds, fmt.Sprintf("external_data->>($%d) = ANY($%d)", keyIdx, len(args)))
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY time, id"

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

func (t *pgTx) ReplaceSplits(ctx context.Context, transactionID int64, splits []*models.Split) ([]*models.Split, error) {
	if _, err := t.tx.Exec(ctx,
		`DELETE FROM transaction_splits WHERE transaction_id = $1`, transactionID); err != nil {
		return nil, err
	}

	out := make([]*models.Split, 0, len(splits))
	for _, s := range splits {
		row := t.tx.QueryRow(ctx,
			`INSERT INTO transaction_splits (transaction_id, user_id, category_id, amount, ref_amount, note)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 RETURNING id, transaction_id, user_id, category_id, amount, ref_amount, note`,
			transactionID, s.UserID, s.CategoryID, s.Amount.Cents(), s.RefAmount.Cents(), s.Note)
		created, err := scanSplit(row)
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

func (t *pgTx) ListSplits(ctx context.Context, userID, transactionID int64) ([]*models.Split, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, transaction_id, user_id, category_id, amount, ref_amount, note
		 FROM transaction_splits WHERE user_id = $1 AND transaction_id = $2 ORDER BY id`,
		userID, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Split
	for rows.Next() {
		s, err := scanSplit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateRefundLink(ctx context.Context, link *models.RefundLink) (*models.RefundLink, error) {
	row := t.tx.QueryRow(ctx,
		`INSERT INTO refund_transactions (user_id, original_tx_id, refund_tx_id, split_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, user_id, original_tx_id, refund_tx_id, split_id, created_at`,
		link.UserID, link.OriginalTxID, link.RefundTxID, link.SplitID)
	return scanRefundLink(row)
}

func (t *pgTx) FindRefundLinksForTransaction(ctx context.Context, userID, txID int64) ([]*models.RefundLink, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, original_tx_id, refund_tx_id, split_id, created_at
		 FROM refund_transactions
		 WHERE user_id = $1 AND (original_tx_id = $2 OR refund_tx_id = $2) ORDER BY id`,
		userID, txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefundLinks(rows)
}

func (t *pgTx) ListRefundLinksForSplit(ctx context.Context, userID, splitID int64) ([]*models.RefundLink, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, user_id, original_tx_id, refund_tx_id, split_id, created_at
		 FROM refund_transactions WHERE user_id = $1 AND split_id = $2 ORDER BY id`,
		userID, splitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRefundLinks(rows)
}

func (t *pgTx) DeleteRefundLink(ctx context.Context, userID, refundTxID int64) error {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM refund_transactions WHERE user_id = $1 AND refund_tx_id = $2`,
		userID, refundTxID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) FindRateAtOrBefore(ctx context.Context, userID int64, baseCode, quoteCode string, asOf time.Time) (*models.ExchangeRate, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, user_id, base_code, quote_code, rate, date, custom
		 FROM exchange_rates
		 WHERE user_id = $1 AND base_code = $2 AND quote_code = $3 AND date <= $4
		 ORDER BY date DESC LIMIT 1`,
		userID, baseCode, quoteCode, asOf)

	var r models.ExchangeRate
	err := row.Scan(&r.ID, &r.UserID, &r.BaseCode, &r.QuoteCode, &r.Rate, &r.Date, &r.Custom)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) GetBaseCurrency(ctx context.Context, userID int64) (string, error) {
	var code string
	err := t.tx.QueryRow(ctx,
		`SELECT base_currency_code FROM user_settings WHERE user_id = $1`, userID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return code, nil
}

func (t *pgTx) ListAccountsWithBankIdentifier(ctx context.Context, userID int64) ([]models.AccountBankID, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, external_data->>'iban' FROM accounts
		 WHERE user_id = $1 AND external_data->>'iban' IS NOT NULL ORDER BY id`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AccountBankID
	for rows.Next() {
		var (
			id  int64
			raw string
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		normalized := models.NormalizeBankIdentifier(raw)
		if normalized == "" {
			continue
		}
		out = append(out, models.AccountBankID{AccountID: id, Identifier: normalized})
	}
	return out, rows.Err()
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a            models.Account
		balance      int64
		refBalance   int64
		externalData []byte
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.CurrencyCode, &balance, &refBalance,
		&a.ExternalID, &externalData, &a.BankConnectionID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.CurrentBalance = money.FromCents(balance)
	a.RefCurrentBalance = money.FromCents(refBalance)
	if err := unmarshalExternalData(externalData, &a.ExternalData); err != nil {
		return nil, err
	}
	return &a, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var (
		tx           models.Transaction
		amount       int64
		refAmount    int64
		externalData []byte
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.AccountID, &tx.CategoryID, &amount, &refAmount,
		&tx.CurrencyCode, &tx.Type, &tx.Time, &tx.Note, &tx.Nature, &tx.TransferID,
		&tx.PortfolioID, &tx.OriginalID, &tx.RefundLinked, &externalData,
		&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	tx.Amount = money.FromCents(amount)
	tx.RefAmount = money.FromCents(refAmount)
	if err := unmarshalExternalData(externalData, &tx.ExternalData); err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanTransactions(rows pgx.Rows) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func scanSplit(row pgx.Row) (*models.Split, error) {
	var (
		s         models.Split
		amount    int64
		refAmount int64
	)
	err := row.Scan(&s.ID, &s.TransactionID, &s.UserID, &s.CategoryID, &amount, &refAmount, &s.Note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	s.Amount = money.FromCents(amount)
	s.RefAmount = money.FromCents(refAmount)
	return &s, nil
}

func scanRefundLink(row pgx.Row) (*models.RefundLink, error) {
	var l models.RefundLink
	err := row.Scan(&l.ID, &l.UserID, &l.OriginalTxID, &l.RefundTxID, &l.SplitID, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

func scanRefundLinks(rows pgx.Rows) ([]*models.RefundLink, error) {
	var out []*models.RefundLink
	for rows.Next() {
		l, err := scanRefundLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func marshalExternalData(m map[string]interface{}) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalExternalData(raw []byte, dst *map[string]interface{}) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}
