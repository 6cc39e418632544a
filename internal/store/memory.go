package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
)

// MemoryStore is a mutex-guarded in-memory Store with full rollback support.
// It backs unit tests and local demo runs; the production implementation is
// PostgresStore.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	accounts     map[int64]*models.Account
	transactions map[int64]*models.Transaction
	splits       map[int64]*models.Split
	refunds      map[int64]*models.RefundLink
	rates        []*models.ExchangeRate
	baseCurrency map[int64]string

	nextAccountID int64
	nextTxID      int64
	nextSplitID   int64
	nextRefundID  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: &memState{
			accounts:      map[int64]*models.Account{},
			transactions:  map[int64]*models.Transaction{},
			splits:        map[int64]*models.Split{},
			refunds:       map[int64]*models.RefundLink{},
			baseCurrency:  map[int64]string{},
			nextAccountID: 1,
			nextTxID:      1,
			nextSplitID:   1,
			nextRefundID:  1,
		},
	}
}

// WithTx runs fn against the live state under the store mutex. A snapshot is
// taken up front; any error from fn restores it, so the unit of work is
// all-or-nothing.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(&memTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// SeedAccount inserts an account outside any unit of work. Test/demo helper.
func (m *MemoryStore) SeedAccount(a models.Account) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		a.ID = m.state.nextAccountID
	}
	if a.ID >= m.state.nextAccountID {
		m.state.nextAccountID = a.ID + 1
	}
	m.state.accounts[a.ID] = copyAccount(&a)
	return copyAccount(&a)
}

// SeedBaseCurrency sets a user's reference currency. Test/demo helper.
func (m *MemoryStore) SeedBaseCurrency(userID int64, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.baseCurrency[userID] = code
}

// SeedRate inserts an exchange rate outside any unit of work. Test/demo helper.
func (m *MemoryStore) SeedRate(r models.ExchangeRate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc := r
	m.state.rates = append(m.state.rates, &rc)
}

// AccountByID returns a copy of an account, bypassing any unit of work.
func (m *MemoryStore) AccountByID(id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.state.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

// TransactionByID returns a copy of a transaction, bypassing any unit of work.
func (m *MemoryStore) TransactionByID(id int64) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTransaction(t), nil
}

type memTx struct {
	state *memState
}

func (t *memTx) GetAccount(_ context.Context, userID, id int64) (*models.Account, error) {
	a, ok := t.state.accounts[id]
	if !ok || a.UserID != userID {
		return nil, ErrNotFound
	}
	return copyAccount(a), nil
}

// The store mutex already serializes units of work, so the lock acquired by
// the postgres implementation has no in-memory equivalent.
func (t *memTx) GetAccountForUpdate(ctx context.Context, userID, id int64) (*models.Account, error) {
	return t.GetAccount(ctx, userID, id)
}

func (t *memTx) ApplyBalanceDelta(_ context.Context, accountID int64, delta, refDelta money.Money) error {
	a, ok := t.state.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.CurrentBalance = a.CurrentBalance.Add(delta)
	a.RefCurrentBalance = a.RefCurrentBalance.Add(refDelta)
	a.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) CreateTransaction(_ context.Context, tx *models.Transaction) (*models.Transaction, error) {
	if tx.OriginalID != nil {
		for _, existing := range t.state.transactions {
			if existing.AccountID == tx.AccountID && existing.OriginalID != nil && *existing.OriginalID == *tx.OriginalID {
				return nil, ErrDuplicateOriginalID
			}
		}
	}

	stored := copyTransaction(tx)
	stored.ID = t.state.nextTxID
	t.state.nextTxID++
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	t.state.transactions[stored.ID] = stored
	return copyTransaction(stored), nil
}

func (t *memTx) GetTransaction(_ context.Context, userID, id int64) (*models.Transaction, error) {
	tx, ok := t.state.transactions[id]
	if !ok || tx.UserID != userID {
		return nil, ErrNotFound
	}
	return copyTransaction(tx), nil
}

func (t *memTx) UpdateTransaction(_ context.Context, tx *models.Transaction) error {
	existing, ok := t.state.transactions[tx.ID]
	if !ok || existing.UserID != tx.UserID {
		return ErrNotFound
	}
	stored := copyTransaction(tx)
	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = time.Now()
	t.state.transactions[tx.ID] = stored
	return nil
}

func (t *memTx) DeleteTransaction(_ context.Context, userID, id int64) error {
	tx, ok := t.state.transactions[id]
	if !ok || tx.UserID != userID {
		return ErrNotFound
	}
	delete(t.state.transactions, id)
	for sid, s := range t.state.splits {
		if s.TransactionID == id {
			delete(t.state.splits, sid)
		}
	}
	return nil
}

func (t *memTx) GetTransactionsByTransferID(_ context.Context, userID int64, transferID uuid.UUID) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range t.state.transactions {
		if tx.UserID == userID && tx.TransferID != nil && *tx.TransferID == transferID {
			out = append(out, copyTransaction(tx))
		}
	}
	sortTransactions(out)
	return out, nil
}

func (t *memTx) FindTransactionByOriginalID(_ context.Context, accountID int64, originalID string) (*models.Transaction, error) {
	for _, tx := range t.state.transactions {
		if tx.AccountID == accountID && tx.OriginalID != nil && *tx.OriginalID == originalID {
			return copyTransaction(tx), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) FindTransactions(_ context.Context, filter TransactionFilter) ([]*models.Transaction, error) {
	var out []*models.Transaction
	for _, tx := range t.state.transactions {
		if !matchesFilter(tx, filter) {
			continue
		}
		out = append(out, copyTransaction(tx))
	}
	sortTransactions(out)
	return out, nil
}

func matchesFilter(tx *models.Transaction, f TransactionFilter) bool {
	if f.UserID != 0 && tx.UserID != f.UserID {
		return false
	}
	if len(f.AccountIDs) > 0 {
		found := false
		for _, id := range f.AccountIDs {
			if tx.AccountID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Nature != nil && tx.Nature != *f.Nature {
		return false
	}
	if f.CurrencyCode != "" && tx.CurrencyCode != f.CurrencyCode {
		return false
	}
	if f.Amount != nil && tx.Amount != *f.Amount {
		return false
	}
	if f.TimeFrom != nil && tx.Time.Before(*f.TimeFrom) {
		return false
	}
	if f.TimeTo != nil && tx.Time.After(*f.TimeTo) {
		return false
	}
	if f.ExternalField != nil {
		raw, _ := tx.ExternalData[f.ExternalField.Key].(string)
		found := false
		for _, v := range f.ExternalField.Values {
			if raw == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (t *memTx) ReplaceSplits(_ context.Context, transactionID int64, splits []*models.Split) ([]*models.Split, error) {
	for sid, s := range t.state.splits {
		if s.TransactionID == transactionID {
			delete(t.state.splits, sid)
		}
	}
	out := make([]*models.Split, 0, len(splits))
	for _, s := range splits {
		stored := copySplit(s)
		stored.ID = t.state.nextSplitID
		t.state.nextSplitID++
		stored.TransactionID = transactionID
		t.state.splits[stored.ID] = stored
		out = append(out, copySplit(stored))
	}
	return out, nil
}

func (t *memTx) ListSplits(_ context.Context, userID, transactionID int64) ([]*models.Split, error) {
	var out []*models.Split
	for _, s := range t.state.splits {
		if s.UserID == userID && s.TransactionID == transactionID {
			out = append(out, copySplit(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) CreateRefundLink(_ context.Context, link *models.RefundLink) (*models.RefundLink, error) {
	stored := copyRefundLink(link)
	stored.ID = t.state.nextRefundID
	t.state.nextRefundID++
	stored.CreatedAt = time.Now()
	t.state.refunds[stored.ID] = stored
	return copyRefundLink(stored), nil
}

func (t *memTx) FindRefundLinksForTransaction(_ context.Context, userID, txID int64) ([]*models.RefundLink, error) {
	var out []*models.RefundLink
	for _, l := range t.state.refunds {
		if l.UserID == userID && (l.OriginalTxID == txID || l.RefundTxID == txID) {
			out = append(out, copyRefundLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) ListRefundLinksForSplit(_ context.Context, userID, splitID int64) ([]*models.RefundLink, error) {
	var out []*models.RefundLink
	for _, l := range t.state.refunds {
		if l.UserID == userID && l.SplitID != nil && *l.SplitID == splitID {
			out = append(out, copyRefundLink(l))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) DeleteRefundLink(_ context.Context, userID, refundTxID int64) error {
	for id, l := range t.state.refunds {
		if l.UserID == userID && l.RefundTxID == refundTxID {
			delete(t.state.refunds, id)
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) FindRateAtOrBefore(_ context.Context, userID int64, baseCode, quoteCode string, asOf time.Time) (*models.ExchangeRate, error) {
	var best *models.ExchangeRate
	for _, r := range t.state.rates {
		if r.UserID != userID || r.BaseCode != baseCode || r.QuoteCode != quoteCode {
			continue
		}
		if r.Date.After(asOf) {
			continue
		}
		if best == nil || r.Date.After(best.Date) {
			best = r
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	rc := *best
	return &rc, nil
}

func (t *memTx) GetBaseCurrency(_ context.Context, userID int64) (string, error) {
	code, ok := t.state.baseCurrency[userID]
	if !ok {
		return "", ErrNotFound
	}
	return code, nil
}

func (t *memTx) ListAccountsWithBankIdentifier(_ context.Context, userID int64) ([]models.AccountBankID, error) {
	var out []models.AccountBankID
	for _, a := range t.state.accounts {
		if a.UserID != userID {
			continue
		}
		id := a.BankIdentifier()
		if id == "" {
			continue
		}
		out = append(out, models.AccountBankID{AccountID: a.ID, Identifier: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

func sortTransactions(txs []*models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].Time.Equal(txs[j].Time) {
			return txs[i].ID < txs[j].ID
		}
		return txs[i].Time.Before(txs[j].Time)
	})
}

func (s *memState) clone() *memState {
	out := &memState{
		accounts:      make(map[int64]*models.Account, len(s.accounts)),
		transactions:  make(map[int64]*models.Transaction, len(s.transactions)),
		splits:        make(map[int64]*models.Split, len(s.splits)),
		refunds:       make(map[int64]*models.RefundLink, len(s.refunds)),
		rates:         make([]*models.ExchangeRate, len(s.rates)),
		baseCurrency:  make(map[int64]string, len(s.baseCurrency)),
		nextAccountID: s.nextAccountID,
		nextTxID:      s.nextTxID,
		nextSplitID:   s.nextSplitID,
		nextRefundID:  s.nextRefundID,
	}
	for id, a := range s.accounts {
		out.accounts[id] = copyAccount(a)
	}
	for id, tx := range s.transactions {
		out.transactions[id] = copyTransaction(tx)
	}
	for id, sp := range s.splits {
		out.splits[id] = copySplit(sp)
	}
	for id, l := range s.refunds {
		out.refunds[id] = copyRefundLink(l)
	}
	for i, r := range s.rates {
		rc := *r
		out.rates[i] = &rc
	}
	for id, code := range s.baseCurrency {
		out.baseCurrency[id] = code
	}
	return out
}

func copyAccount(a *models.Account) *models.Account {
	c := *a
	c.ExternalID = copyStringPtr(a.ExternalID)
	c.BankConnectionID = copyInt64Ptr(a.BankConnectionID)
	c.ExternalData = copyExternalData(a.ExternalData)
	return &c
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	c.CategoryID = copyInt64Ptr(t.CategoryID)
	c.PortfolioID = copyInt64Ptr(t.PortfolioID)
	c.OriginalID = copyStringPtr(t.OriginalID)
	if t.TransferID != nil {
		id := *t.TransferID
		c.TransferID = &id
	}
	c.ExternalData = copyExternalData(t.ExternalData)
	return &c
}

func copySplit(s *models.Split) *models.Split {
	c := *s
	return &c
}

func copyRefundLink(l *models.RefundLink) *models.RefundLink {
	c := *l
	c.SplitID = copyInt64Ptr(l.SplitID)
	return &c
}

func copyInt64Ptr(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyExternalData(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
