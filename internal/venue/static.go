package venue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orderflow/pkg/models"
)

// StaticVenue returns fixed quotes and configurable errors. Used in tests and demos.
type StaticVenue struct {
	VenueName string
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Liquidity decimal.Decimal
	Estimate  decimal.Decimal
	Latency   time.Duration
	QuoteErr  error
	SettleErr error

	quotes  atomic.Int64
	settles atomic.Int64
}

var _ Venue = (*StaticVenue)(nil)

func (v *StaticVenue) Name() string { return v.VenueName }

func (v *StaticVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*models.Quote, error) {
	v.quotes.Add(1)
	if v.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(v.Latency):
		}
	}
	if v.QuoteErr != nil {
		return nil, v.QuoteErr
	}
	liquidity := v.Liquidity
	if liquidity.IsZero() {
		liquidity = decimal.NewFromInt(10_000_000)
	}
	return &models.Quote{
		Venue:             v.VenueName,
		TokenIn:           tokenIn,
		TokenOut:          tokenOut,
		AmountIn:          amount,
		Price:             v.Price,
		Fee:               v.Fee,
		Liquidity:         liquidity,
		EstimatedSlippage: v.Estimate,
		QuotedAt:          time.Now().UTC(),
	}, nil
}

func (v *StaticVenue) Settle(context.Context, *models.Quote, *models.Order, decimal.Decimal) error {
	v.settles.Add(1)
	return v.SettleErr
}

// Quotes returns how many times Quote was called
func (v *StaticVenue) Quotes() int64 { return v.quotes.Load() }

// Settles returns how many times Settle was called
func (v *StaticVenue) Settles() int64 { return v.settles.Load() }
