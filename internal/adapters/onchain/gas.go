package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const gasPriceUpdateInterval = 15 * time.Second

// GasTier selects how aggressively execution transactions are priced.
type GasTier string

const (
	TierSafe     GasTier = "safe"
	TierStandard GasTier = "standard"
	TierFast     GasTier = "fast"
)

// percent is the multiplier applied to the node's suggested price.
func (t GasTier) percent() int64 {
	switch t {
	case TierFast:
		return 125
	case TierStandard:
		return 110
	default:
		return 100
	}
}

// ParseGasTier validates a configured tier name.
func ParseGasTier(s string) (GasTier, error) {
	switch t := GasTier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierSafe, TierStandard, TierFast:
		return t, nil
	default:
		return "", fmt.Errorf("onchain.ParseGasTier: unknown gas price tier %q (safe|standard|fast)", s)
	}
}

// GasOracle implements ports.GasOracle.
type GasOracle struct {
	backend Backend
	from    common.Address
	book    common.Address
	tier    GasTier
	now     func() time.Time

	mu        sync.RWMutex
	cached    *big.Int
	updatedAt time.Time
}

// NewGasOracle estimates executeOrder calls sent by from to the order book.
func NewGasOracle(backend Backend, from, book common.Address, tier GasTier) *GasOracle {
	return &GasOracle{
		backend: backend,
		from:    from,
		book:    book,
		tier:    tier,
		now:     time.Now,
	}
}

// EstimateExecutionGas simulates executeOrder(orderID). A revert (order not
// fillable yet, or gone) surfaces as an error.
func (g *GasOracle) EstimateExecutionGas(ctx context.Context, orderID *big.Int) (uint64, error) {
	callData, err := orderBookABI.Pack("executeOrder", orderID)
	if err != nil {
		return 0, fmt.Errorf("onchain.EstimateExecutionGas: pack: %w", err)
	}
	gas, err := g.backend.EstimateGas(ctx, ethereum.CallMsg{
		From: g.from,
		To:   &g.book,
		Data: callData,
	})
	if err != nil {
		return 0, fmt.Errorf("onchain.EstimateExecutionGas: order %s: %w", orderID, err)
	}
	return gas, nil
}

// PreferredGasPrice returns the suggested gas price scaled by the tier,
// cached for a few seconds. A stale cached value is served when the node
// fails.
func (g *GasOracle) PreferredGasPrice(ctx context.Context) (*big.Int, error) {
	g.mu.RLock()
	cached := g.cached
	updatedAt := g.updatedAt
	g.mu.RUnlock()

	if cached != nil && g.now().Sub(updatedAt) < gasPriceUpdateInterval {
		return new(big.Int).Set(cached), nil
	}

	suggested, err := g.backend.SuggestGasPrice(ctx)
	if err != nil {
		if cached != nil {
			slog.Warn("onchain: gas price refresh failed, using cached", "err", err, "cached", cached.String())
			return new(big.Int).Set(cached), nil
		}
		return nil, fmt.Errorf("onchain.PreferredGasPrice: %w", err)
	}

	// copy to avoid mutating the suggested value
	price := new(big.Int).Mul(suggested, big.NewInt(g.tier.percent()))
	price.Div(price, big.NewInt(100))

	g.mu.Lock()
	g.cached = price
	g.updatedAt = g.now()
	g.mu.Unlock()

	slog.Debug("onchain: gas price refreshed", "suggested", suggested.String(), "tier", string(g.tier), "price", price.String())
	return new(big.Int).Set(price), nil
}
