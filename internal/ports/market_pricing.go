package ports

import (
	"context"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/internal/domain"
)

// MarketPricing resolves markets and answers profitability questions.
type MarketPricing interface {
	// PairAddress returns the canonical market for a token pair.
	PairAddress(ctx context.Context, tokenIn, tokenOut common.Address) (common.Address, error)

	// IsInTheMoney reports whether executing the order now is favorable for the maker.
	IsInTheMoney(ctx context.Context, order domain.Order) (bool, error)

	// SubscribePairSync streams price updates of a market into sink.
	SubscribePairSync(ctx context.Context, pair common.Address, sink chan<- domain.SyncEvent) (ethereum.Subscription, error)
}
