package onchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/keeper/internal/domain"
)

const (
	receiptPollInterval = 3 * time.Second
	receiptTimeout      = 90 * time.Second
)

// OrderBook implements ports.OrderBook against the order book contract.
type OrderBook struct {
	backend Backend
	wallet  *Wallet
	address common.Address

	pollInterval time.Duration
	waitTimeout  time.Duration

	nonceMu sync.Mutex
}

// NewOrderBook binds the contract at address.
func NewOrderBook(backend Backend, wallet *Wallet, address common.Address) *OrderBook {
	return &OrderBook{
		backend:      backend,
		wallet:       wallet,
		address:      address,
		pollInterval: receiptPollInterval,
		waitTimeout:  receiptTimeout,
	}
}

// ListOrders returns every open order.
func (b *OrderBook) ListOrders(ctx context.Context) ([]domain.Order, error) {
	callData, err := orderBookABI.Pack("getOpenOrders")
	if err != nil {
		return nil, fmt.Errorf("onchain.ListOrders: pack: %w", err)
	}
	result, err := b.backend.CallContract(ctx, ethereum.CallMsg{To: &b.address, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("onchain.ListOrders: call: %w", err)
	}
	orders, err := decodeOpenOrders(result)
	if err != nil {
		return nil, err
	}
	slog.Debug("onchain: open orders listed", "count", len(orders))
	return orders, nil
}

// SubscribeOrders streams one lifecycle event kind.
func (b *OrderBook) SubscribeOrders(ctx context.Context, kind domain.OrderEventKind, sink chan<- domain.OrderEvent) (ethereum.Subscription, error) {
	ev, ok := orderBookABI.Events[kind.String()]
	if !ok {
		return nil, fmt.Errorf("onchain.SubscribeOrders: unknown event %s: %w", kind, domain.ErrUnrecoverable)
	}
	q := ethereum.FilterQuery{
		Addresses: []common.Address{b.address},
		Topics:    [][]common.Hash{{ev.ID}},
	}
	decode := func(l types.Log) (domain.OrderEvent, error) { return decodeOrderEvent(kind, l) }
	return watchLogs(ctx, b.backend, q, decode, sink)
}

// ExecuteOrder sends executeOrder(id) and waits for the receipt.
func (b *OrderBook) ExecuteOrder(ctx context.Context, order domain.Order, gasLimit uint64, gasPrice *big.Int) (domain.ExecutionReceipt, error) {
	callData, err := orderBookABI.Pack("executeOrder", order.ID)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("onchain.ExecuteOrder: pack: %w", err)
	}

	signed, err := b.send(ctx, callData, gasLimit, gasPrice)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("onchain.ExecuteOrder: order %s: %w", order.Key(), err)
	}
	txHash := signed.Hash()
	slog.Info("onchain: execution sent", "order", order.Key(), "tx", txHash.Hex(), "gas_limit", gasLimit)

	waitCtx, cancel := context.WithTimeout(ctx, b.waitTimeout)
	defer cancel()
	receipt, err := b.waitForReceipt(waitCtx, txHash)
	if err != nil {
		return domain.ExecutionReceipt{TxHash: txHash}, fmt.Errorf("onchain.ExecuteOrder: wait receipt %s: %w", txHash.Hex(), err)
	}

	out := toReceipt(receipt)
	out.TxHash = txHash
	if !out.Success {
		return out, fmt.Errorf("onchain.ExecuteOrder: tx %s: %w", txHash.Hex(), domain.ErrExecutionReverted)
	}
	return out, nil
}

// Receipt looks up a mined transaction.
func (b *OrderBook) Receipt(ctx context.Context, txHash common.Hash) (domain.ExecutionReceipt, error) {
	receipt, err := b.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		return domain.ExecutionReceipt{}, fmt.Errorf("onchain.Receipt: %s: %w", txHash.Hex(), err)
	}
	return toReceipt(receipt), nil
}

// send signs and submits a call to the order book. Nonce lookup and send
// are serialized so concurrent executions never reuse a nonce.
func (b *OrderBook) send(ctx context.Context, callData []byte, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error) {
	b.nonceMu.Lock()
	defer b.nonceMu.Unlock()

	nonce, err := b.backend.PendingNonceAt(ctx, b.wallet.Address())
	if err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &b.address,
		Value:    big.NewInt(0),
		Gas:      withHeadroom(gasLimit),
		GasPrice: gasPrice,
		Data:     callData,
	})
	signed, err := b.wallet.Sign(tx)
	if err != nil {
		return nil, err
	}
	if err := b.backend.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx: %w", err)
	}
	return signed, nil
}

// waitForReceipt polls for a transaction receipt until mined or ctx ends.
func (b *OrderBook) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := b.backend.TransactionReceipt(ctx, txHash)
			if err != nil {
				if !errors.Is(err, ethereum.NotFound) {
					slog.Debug("onchain: receipt lookup failed", "tx", txHash.Hex(), "err", err)
				}
				continue
			}
			return receipt, nil
		}
	}
}

// withHeadroom adds 20% to the gas estimate for the transaction's limit.
func withHeadroom(gas uint64) uint64 {
	return gas + gas/5
}

func toReceipt(r *types.Receipt) domain.ExecutionReceipt {
	out := domain.ExecutionReceipt{
		TxHash:            r.TxHash,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
		Success:           r.Status == types.ReceiptStatusSuccessful,
	}
	if r.BlockNumber != nil {
		out.Block = r.BlockNumber.Uint64()
	}
	return out
}
