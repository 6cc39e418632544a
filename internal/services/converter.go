package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/store"
	"github.com/shopspring/decimal"
)

// Resolved rates are truncated to 5 decimal places before use, so the same
// pair always converts identically regardless of which direction was stored.
const ratePrecision = 5

const defaultRateCacheTTL = time.Hour

// RateSource supplies historical exchange rates. store.Tx satisfies it.
type RateSource interface {
	FindRateAtOrBefore(ctx context.Context, userID int64, baseCode, quoteCode string, asOf time.Time) (*models.ExchangeRate, error)
}

// ConvertParams describe one currency conversion at a point in time.
type ConvertParams struct {
	Amount       money.Money
	FromCurrency string
	ToCurrency   string
	AsOf         time.Time
	UserID       int64
}

// Converter converts amounts into the user's reference currency using the
// historical rate table. Resolved rates are cached per (user, pair, day).
type Converter struct {
	mu    sync.Mutex
	cache map[string]cachedRate
	ttl   time.Duration
	now   func() time.Time
}

type cachedRate struct {
	rate      decimal.Decimal
	expiresAt time.Time
}

func NewConverter() *Converter {
	return &Converter{
		cache: map[string]cachedRate{},
		ttl:   defaultRateCacheTTL,
		now:   time.Now,
	}
}

// Convert converts the amount from one currency to another at the rate
// effective on AsOf (most recent stored rate at or before that date). An
// identity pair returns the input without any lookup. Fails with
// ErrRateNotFound when no applicable rate exists in either direction.
func (c *Converter) Convert(ctx context.Context, rates RateSource, p ConvertParams) (money.Money, error) {
	if p.FromCurrency == p.ToCurrency {
		return p.Amount, nil
	}

	rate, err := c.resolveRate(ctx, rates, p)
	if err != nil {
		return 0, err
	}
	return p.Amount.MulRate(rate), nil
}

func (c *Converter) resolveRate(ctx context.Context, rates RateSource, p ConvertParams) (decimal.Decimal, error) {
	day := p.AsOf.UTC().Format("2006-01-02")
	key := fmt.Sprintf("%d:%s:%s:%s", p.UserID, p.FromCurrency, p.ToCurrency, day)

	c.mu.Lock()
	if cached, ok := c.cache[key]; ok && c.now().Before(cached.expiresAt) {
		c.mu.Unlock()
		return cached.rate, nil
	}
	c.mu.Unlock()

	rate, err := lookupRate(ctx, rates, p)
	if err != nil {
		return decimal.Decimal{}, err
	}
	rate = rate.Truncate(ratePrecision)

	c.mu.Lock()
	c.cache[key] = cachedRate{rate: rate, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return rate, nil
}

// lookupRate tries the direct pair first, then the inverse pair inverted
// algebraically.
func lookupRate(ctx context.Context, rates RateSource, p ConvertParams) (decimal.Decimal, error) {
	direct, err := rates.FindRateAtOrBefore(ctx, p.UserID, p.FromCurrency, p.ToCurrency, p.AsOf)
	if err == nil {
		return direct.Rate, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Decimal{}, &StorageError{Err: err}
	}

	inverse, err := rates.FindRateAtOrBefore(ctx, p.UserID, p.ToCurrency, p.FromCurrency, p.AsOf)
	if err == nil {
		if inverse.Rate.IsZero() {
			return decimal.Decimal{}, fmt.Errorf("%w: zero inverse rate for %s/%s", ErrRateNotFound, p.FromCurrency, p.ToCurrency)
		}
		return decimal.NewFromInt(1).Div(inverse.Rate), nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return decimal.Decimal{}, &StorageError{Err: err}
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %s/%s as of %s",
		ErrRateNotFound, p.FromCurrency, p.ToCurrency, p.AsOf.Format("2006-01-02"))
}
