package onchain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"
)

const (
	defaultRatePerSec = 20
	defaultBurst      = 10
)

// Backend is the subset of *ethclient.Client the adapters use.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Client rate limits every call made to the node.
type Client struct {
	backend Backend
	limiter *rate.Limiter
	close   func()
}

// Dial connects to the node at rpcURL. Log subscriptions need a websocket
// or IPC endpoint.
func Dial(ctx context.Context, rpcURL string, ratePerSec float64) (*Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("onchain.Dial: dial rpc %s: %w", rpcURL, err)
	}
	c := NewClient(ec, ratePerSec)
	c.close = ec.Close
	return c, nil
}

// NewClient wraps backend with a limiter. ratePerSec <= 0 uses the default.
func NewClient(backend Backend, ratePerSec float64) *Client {
	if ratePerSec <= 0 {
		ratePerSec = defaultRatePerSec
	}
	return &Client{
		backend: backend,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), defaultBurst),
	}
}

// VerifyChain fails when the node serves a different chain than expected.
func (c *Client) VerifyChain(ctx context.Context, want int64) error {
	got, err := c.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("onchain.VerifyChain: %w", err)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		return fmt.Errorf("onchain.VerifyChain: node chain id %s, configured %d", got, want)
	}
	slog.Info("onchain: connected", "chain_id", got.String())
	return nil
}

func (c *Client) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.ChainID(ctx)
}

func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.CallContract(ctx, msg, blockNumber)
}

func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.backend.EstimateGas(ctx, msg)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.SuggestGasPrice(ctx)
}

func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.backend.PendingNonceAt(ctx, account)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.backend.SendTransaction(ctx, tx)
}

func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.TransactionReceipt(ctx, txHash)
}

func (c *Client) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.backend.SubscribeFilterLogs(ctx, q, ch)
}

// Close releases the node connection.
func (c *Client) Close() error {
	if c.close != nil {
		c.close()
	}
	return nil
}
