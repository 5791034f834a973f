package rates

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const refreshInterval = 5 * time.Minute

var (
	ErrUnknownCurrency = errors.New("unknown currency")
	errInvalidAmount   = errors.New("invalid amount")
)

type ratesSource interface {
	Rates(ctx context.Context) (map[string]decimal.Decimal, error)
}

// SolRates holds the price of one SOL per currency code.
type SolRates struct {
	mu     sync.RWMutex
	source ratesSource
	rates  map[string]decimal.Decimal
	logger *zap.Logger
}

func New(source ratesSource, logger *zap.Logger) *SolRates {
	return &SolRates{
		source: source,
		rates:  map[string]decimal.Decimal{},
		logger: logger,
	}
}

// Run refreshes the rates until ctx is done.
func (r *SolRates) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		r.Refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Refresh keeps the previous rates when the source fails.
func (r *SolRates) Refresh(ctx context.Context) {
	rates, err := r.source.Rates(ctx)
	if err != nil {
		errorsCounter.Inc()
		r.logger.Warn("failed to refresh rates", zap.Error(err))
		return
	}
	normalized := make(map[string]decimal.Decimal, len(rates))
	for currency, price := range rates {
		normalized[strings.ToUpper(currency)] = price
	}
	r.mu.Lock()
	r.rates = normalized
	r.mu.Unlock()
	lastRefresh.SetToCurrentTime()
}

func (r *SolRates) GetRates() map[string]decimal.Decimal {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rates := make(map[string]decimal.Decimal, len(r.rates))
	for k, v := range r.rates {
		rates[k] = v
	}
	return rates
}

// Convert returns the value of lamports in currency.
func (r *SolRates) Convert(lamports uint64, currency string) (decimal.Decimal, error) {
	r.mu.RLock()
	price, ok := r.rates[strings.ToUpper(currency)]
	r.mu.RUnlock()
	if !ok {
		return decimal.Zero, errors.Wrap(ErrUnknownCurrency, currency)
	}
	return Lamports(lamports).Mul(price).Round(2), nil
}
