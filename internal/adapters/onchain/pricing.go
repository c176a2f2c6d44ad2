package onchain

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"

	"github.com/alejandrodnm/keeper/internal/domain"
)

const (
	bpsDenominator = 10_000
	pairCacheSize  = 1024
)

type pairKey struct {
	a, b common.Address
}

// sortedPair makes the key independent of token order, like the factory.
func sortedPair(x, y common.Address) pairKey {
	if bytes.Compare(x.Bytes(), y.Bytes()) > 0 {
		x, y = y, x
	}
	return pairKey{a: x, b: y}
}

// Pricing implements ports.MarketPricing with a factory, a router and the
// pairs' Sync events.
type Pricing struct {
	backend     Backend
	factory     common.Address
	router      common.Address
	slippageBps uint64

	pairs *lru.Cache[pairKey, common.Address]
}

// NewPricing creates the pricing adapter. slippageBps must be below 10000.
func NewPricing(backend Backend, factory, router common.Address, slippageBps uint64) (*Pricing, error) {
	if slippageBps >= bpsDenominator {
		return nil, fmt.Errorf("onchain.NewPricing: slippage %d bps out of range", slippageBps)
	}
	cache, err := lru.New[pairKey, common.Address](pairCacheSize)
	if err != nil {
		return nil, fmt.Errorf("onchain.NewPricing: pair cache: %w", err)
	}
	return &Pricing{
		backend:     backend,
		factory:     factory,
		router:      router,
		slippageBps: slippageBps,
		pairs:       cache,
	}, nil
}

// PairAddress resolves the market of a token pair. Pairs never move, so
// resolved addresses are cached.
func (p *Pricing) PairAddress(ctx context.Context, tokenIn, tokenOut common.Address) (common.Address, error) {
	key := sortedPair(tokenIn, tokenOut)
	if pair, ok := p.pairs.Get(key); ok {
		return pair, nil
	}

	callData, err := factoryABI.Pack("getPair", tokenIn, tokenOut)
	if err != nil {
		return common.Address{}, fmt.Errorf("onchain.PairAddress: pack: %w", err)
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &p.factory, Data: callData}, nil)
	if err != nil {
		return common.Address{}, fmt.Errorf("onchain.PairAddress: call: %w", err)
	}
	out, err := factoryABI.Unpack("getPair", result)
	if err != nil || len(out) == 0 {
		return common.Address{}, fmt.Errorf("onchain.PairAddress: unpack: %v", err)
	}
	pair, ok := out[0].(common.Address)
	if !ok || pair == (common.Address{}) {
		return common.Address{}, fmt.Errorf("onchain.PairAddress: %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrNoPair)
	}

	p.pairs.Add(key, pair)
	return pair, nil
}

// IsInTheMoney quotes the order's input amount through the router and
// compares the slippage-adjusted output with what the maker expects.
func (p *Pricing) IsInTheMoney(ctx context.Context, order domain.Order) (bool, error) {
	quoted, err := p.quote(ctx, order.AmountIn, order.TokenIn, order.TokenOut)
	if err != nil {
		return false, fmt.Errorf("onchain.IsInTheMoney: order %s: %w", order.Key(), err)
	}
	return favorable(quoted, order.ExpectedOut, p.slippageBps), nil
}

// SubscribePairSync streams the pair's Sync events.
func (p *Pricing) SubscribePairSync(ctx context.Context, pair common.Address, sink chan<- domain.SyncEvent) (ethereum.Subscription, error) {
	q := ethereum.FilterQuery{
		Addresses: []common.Address{pair},
		Topics:    [][]common.Hash{{pairABI.Events["Sync"].ID}},
	}
	return watchLogs(ctx, p.backend, q, decodeSync, sink)
}

func (p *Pricing) quote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	callData, err := routerABI.Pack("getAmountsOut", amountIn, []common.Address{tokenIn, tokenOut})
	if err != nil {
		return nil, fmt.Errorf("pack: %w", err)
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &p.router, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("call getAmountsOut: %w", err)
	}
	out, err := routerABI.Unpack("getAmountsOut", result)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("unpack getAmountsOut: %v", err)
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return nil, fmt.Errorf("unexpected getAmountsOut result")
	}
	return amounts[len(amounts)-1], nil
}

// favorable reports whether quoted minus slippage still meets expected.
func favorable(quoted, expected *big.Int, slippageBps uint64) bool {
	if quoted == nil || expected == nil || quoted.Sign() <= 0 {
		return false
	}
	q, overflow := uint256.FromBig(quoted)
	if overflow {
		return true
	}
	e, overflow := uint256.FromBig(expected)
	if overflow {
		return false
	}
	minOut, _ := new(uint256.Int).MulDivOverflow(q, uint256.NewInt(bpsDenominator-slippageBps), uint256.NewInt(bpsDenominator))
	return !minOut.Lt(e)
}
