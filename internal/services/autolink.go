package services

import (
	"context"
	"time"

	"github.com/montrack/montrack-api/internal/metrics"
	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const defaultDateWindowDays = 3

// ProviderProfile describes how one bank provider tags its movements. The
// operation-type value selects both the movement direction and the payload
// key that carries the counterparty bank identifier.
type ProviderProfile struct {
	Name string
	// OperationTypeKey is the externalData key holding the direction tag.
	OperationTypeKey string
	// Incoming and Outgoing are the direction tag values (e.g. PAYIN/PAYOUT).
	Incoming string
	Outgoing string
	// IncomingIdentifierKey and OutgoingIdentifierKey are the externalData
	// keys holding the counterparty identifier for each direction.
	IncomingIdentifierKey string
	OutgoingIdentifierKey string
}

// WalutomatProfile matches the Walutomat transfer payload shape.
var WalutomatProfile = ProviderProfile{
	Name:                  "walutomat",
	OperationTypeKey:      "operationType",
	Incoming:              "PAYIN",
	Outgoing:              "PAYOUT",
	IncomingIdentifierKey: "payerIban",
	OutgoingIdentifierKey: "recipientIban",
}

// Linker promotes pairs of independently recorded transactions into linked
// transfers when one is evidently the visible half of a movement whose other
// half already exists on a different account of the same user.
type Linker struct {
	store      store.Store
	ledger     *Ledger
	log        zerolog.Logger
	windowDays int
}

type LinkerOption func(*Linker)

// WithDateWindowDays overrides the symmetric match window.
func WithDateWindowDays(days int) LinkerOption {
	return func(l *Linker) {
		if days > 0 {
			l.windowDays = days
		}
	}
}

func NewLinker(st store.Store, ledger *Ledger, log zerolog.Logger, opts ...LinkerOption) *Linker {
	l := &Linker{
		store:      st,
		ledger:     ledger,
		log:        log,
		windowDays: defaultDateWindowDays,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RunParams scope one pass. AccountIDs are the triggering provider's
// accounts; Since optionally bounds the candidate scan to movements imported
// after the previous sync.
type RunParams struct {
	UserID     int64
	Profile    ProviderProfile
	AccountIDs []int64
	Since      *time.Time
}

// RunResult summarizes one pass.
type RunResult struct {
	Scanned   int
	Linked    int
	Ambiguous int
	Errors    int
}

// Run executes one scan-and-link pass for a user. Each accepted pair links in
// its own atomic step, so the pass is interruptible between pairs and safely
// re-runnable: already-linked legs fall out of the candidate filter.
func (l *Linker) Run(ctx context.Context, p RunParams) (RunResult, error) {
	timer := prometheus.NewTimer(metrics.AutolinkPassDuration)
	defer timer.ObserveDuration()

	var result RunResult

	candidates, index, err := l.loadCandidates(ctx, p)
	if err != nil {
		return result, mapStoreError(err)
	}
	result.Scanned = len(candidates)

	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		outcome := l.linkCandidate(ctx, p, candidate, index)
		metrics.AutolinkCandidates.WithLabelValues(outcome).Inc()
		switch outcome {
		case "linked":
			result.Linked++
		case "ambiguous":
			result.Ambiguous++
		case "error":
			result.Errors++
		}
	}

	l.log.Info().
		Int64("user_id", p.UserID).
		Str("provider", p.Profile.Name).
		Int("scanned", result.Scanned).
		Int("linked", result.Linked).
		Int("ambiguous", result.Ambiguous).
		Int("errors", result.Errors).
		Msg("auto-link pass finished")
	return result, nil
}

// loadCandidates pulls the unlinked provider-tagged transactions and builds
// the normalized identifier index over every account that exposes one.
func (l *Linker) loadCandidates(ctx context.Context, p RunParams) ([]*models.Transaction, map[string][]int64, error) {
	var candidates []*models.Transaction
	index := map[string][]int64{}

	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		nature := models.NotTransfer
		found, err := tx.FindTransactions(ctx, store.TransactionFilter{
			UserID:     p.UserID,
			AccountIDs: p.AccountIDs,
			Nature:     &nature,
			TimeFrom:   p.Since,
			ExternalField: &store.ExternalFieldMatch{
				Key:    p.Profile.OperationTypeKey,
				Values: []string{p.Profile.Incoming, p.Profile.Outgoing},
			},
		})
		if err != nil {
			return err
		}
		candidates = found

		accounts, err := tx.ListAccountsWithBankIdentifier(ctx, p.UserID)
		if err != nil {
			return err
		}
		for _, a := range accounts {
			key := models.NormalizeBankIdentifier(a.Identifier)
			if key == "" {
				continue
			}
			index[key] = append(index[key], a.AccountID)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return candidates, index, nil
}

// linkCandidate resolves one candidate against the account index and links it
// when exactly one counterpart matches. Returns the outcome label.
func (l *Linker) linkCandidate(ctx context.Context, p RunParams, candidate *models.Transaction, index map[string][]int64) string {
	identifier := l.counterpartyIdentifier(p.Profile, candidate)
	if identifier == "" {
		return "no_identifier"
	}

	accountIDs := make([]int64, 0, 2)
	for _, id := range index[identifier] {
		if id != candidate.AccountID {
			accountIDs = append(accountIDs, id)
		}
	}
	if len(accountIDs) == 0 {
		return "no_account"
	}

	match, outcome := l.findCounterpart(ctx, p.UserID, candidate, accountIDs)
	if outcome != "" {
		return outcome
	}

	// Base is conventionally the expense side.
	pair := LinkPair{BaseTxID: candidate.ID, OppositeTxID: match.ID}
	if candidate.Type == models.TransactionTypeIncome {
		pair = LinkPair{BaseTxID: match.ID, OppositeTxID: candidate.ID}
	}
	if _, err := l.ledger.LinkTransactions(ctx, p.UserID, []LinkPair{pair}); err != nil {
		// One pair's failure never aborts the pass.
		l.log.Warn().
			Err(err).
			Int64("user_id", p.UserID).
			Int64("candidate_tx_id", candidate.ID).
			Int64("match_tx_id", match.ID).
			Msg("auto-link pair failed")
		return "error"
	}
	return "linked"
}

// findCounterpart searches the matched accounts for exactly one unlinked
// transaction of the expected opposite type with identical currency and
// amount inside the date window. Zero and multiple matches both decline:
// ambiguous pairs are left for manual linking.
func (l *Linker) findCounterpart(ctx context.Context, userID int64, candidate *models.Transaction, accountIDs []int64) (*models.Transaction, string) {
	window := time.Duration(l.windowDays) * 24 * time.Hour
	from := candidate.Time.Add(-window)
	to := candidate.Time.Add(window)
	nature := models.NotTransfer

	var matches []*models.Transaction
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		found, err := tx.FindTransactions(ctx, store.TransactionFilter{
			UserID:       userID,
			AccountIDs:   accountIDs,
			Type:         candidate.Type.Opposite(),
			Nature:       &nature,
			CurrencyCode: candidate.CurrencyCode,
			Amount:       &candidate.Amount,
			TimeFrom:     &from,
			TimeTo:       &to,
		})
		if err != nil {
			return err
		}
		for _, m := range found {
			if !m.RefundLinked {
				matches = append(matches, m)
			}
		}
		return nil
	})
	if err != nil {
		l.log.Warn().
			Err(err).
			Int64("user_id", userID).
			Int64("candidate_tx_id", candidate.ID).
			Msg("auto-link counterpart scan failed")
		return nil, "error"
	}

	switch len(matches) {
	case 1:
		return matches[0], ""
	case 0:
		return nil, "no_match"
	default:
		return nil, "ambiguous"
	}
}

func (l *Linker) counterpartyIdentifier(profile ProviderProfile, candidate *models.Transaction) string {
	op, _ := candidate.ExternalData[profile.OperationTypeKey].(string)
	var key string
	switch op {
	case profile.Incoming:
		key = profile.IncomingIdentifierKey
	case profile.Outgoing:
		key = profile.OutgoingIdentifierKey
	default:
		return ""
	}
	raw, _ := candidate.ExternalData[key].(string)
	return models.NormalizeBankIdentifier(raw)
}
