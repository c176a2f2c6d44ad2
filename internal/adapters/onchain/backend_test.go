package onchain

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

// fakeBackend answers contract calls from per-address handlers.
type fakeBackend struct {
	mu sync.Mutex

	chainID  *big.Int
	calls    map[common.Address]func(data []byte) ([]byte, error)
	callLog  []common.Address
	estimate uint64
	estErr   error
	gasPrice *big.Int
	priceErr error
	suggests int
	nonce    uint64
	sent     []*types.Transaction
	receipt  *types.Receipt
	pending  int // receipt lookups answered with NotFound first

	logs      chan<- types.Log
	upstream  chan error
	filter    ethereum.FilterQuery
	subErr    error
	subscribe int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:  big.NewInt(1),
		calls:    make(map[common.Address]func([]byte) ([]byte, error)),
		gasPrice: big.NewInt(1_000),
		upstream: make(chan error, 1),
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callLog = append(f.callLog, *msg.To)
	h, ok := f.calls[*msg.To]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return h(msg.Data)
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estErr
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggests++
	if f.priceErr != nil {
		return nil, f.priceErr
	}
	return f.gasPrice, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	f.nonce++
	return nil
}

func (f *fakeBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending > 0 {
		f.pending--
		return nil, ethereum.NotFound
	}
	if f.receipt == nil {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeBackend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribe++
	if f.subErr != nil {
		return nil, f.subErr
	}
	f.filter = q
	f.logs = ch
	upstream := f.upstream
	return event.NewSubscription(func(quit <-chan struct{}) error {
		select {
		case err := <-upstream:
			return err
		case <-quit:
			return nil
		}
	}), nil
}

func (f *fakeBackend) logSink() chan<- types.Log {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logs
}

func (f *fakeBackend) calledTimes(addr common.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.callLog {
		if a == addr {
			n++
		}
	}
	return n
}
