// Package venue quotes and executes orders against competing liquidity venues.
package venue

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/orderflow/pkg/models"
)

// Venue is a single liquidity source
type Venue interface {
	Name() string
	// Quote prices amount of tokenIn in tokenOut. May fail with VenueUnavailable.
	Quote(ctx context.Context, tokenIn, tokenOut string, amount decimal.Decimal) (*models.Quote, error)
	// Settle commits the order at the realized slippage. May fail with SettlementFailed.
	Settle(ctx context.Context, quote *models.Quote, order *models.Order, slippage decimal.Decimal) error
}

// Rand is a goroutine-safe random source shared by the router and simulated venues
type Rand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRand returns a source seeded with seed. A zero seed draws a random one.
func NewRand(seed uint64) *Rand {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Rand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Float64 returns a value in [0, 1)
func (r *Rand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Float64()
}

// Between returns a value in [lo, hi)
func (r *Rand) Between(lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Uint64 returns a random 64-bit value
func (r *Rand) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.r.Uint64()
}
