package ports

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/internal/domain"
)

// OrderBook is the order book contract as seen by the keeper.
type OrderBook interface {
	// ListOrders returns the currently open orders (startup snapshot).
	ListOrders(ctx context.Context) ([]domain.Order, error)

	// SubscribeOrders streams one lifecycle event kind into sink.
	// The subscription's Err channel yields an error on disconnect; errors
	// wrapping domain.ErrUnrecoverable must not be retried.
	SubscribeOrders(ctx context.Context, kind domain.OrderEventKind, sink chan<- domain.OrderEvent) (ethereum.Subscription, error)

	// ExecuteOrder submits the execution transaction and waits for its receipt.
	// On failure the returned receipt carries whatever the ledger reported.
	ExecuteOrder(ctx context.Context, order domain.Order, gasLimit uint64, gasPrice *big.Int) (domain.ExecutionReceipt, error)

	// Receipt looks up a ledger receipt by transaction hash.
	Receipt(ctx context.Context, txHash common.Hash) (domain.ExecutionReceipt, error)
}
