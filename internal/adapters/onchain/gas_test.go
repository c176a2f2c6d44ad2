package onchain

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGasTier(t *testing.T) {
	for _, s := range []string{"safe", "Standard", " fast "} {
		_, err := ParseGasTier(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseGasTier("ludicrous")
	assert.Error(t, err)
}

func TestGasOracle_TierMultiplier(t *testing.T) {
	tests := []struct {
		tier GasTier
		want int64
	}{
		{TierSafe, 1_000},
		{TierStandard, 1_100},
		{TierFast, 1_250},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			backend := newFakeBackend()
			g := NewGasOracle(backend, common.Address{}, bookAddr, tt.tier)

			price, err := g.PreferredGasPrice(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, price.Int64())
			assert.Equal(t, int64(1_000), backend.gasPrice.Int64(), "suggested value untouched")
		})
	}
}

func TestGasOracle_PriceCache(t *testing.T) {
	backend := newFakeBackend()
	g := NewGasOracle(backend, common.Address{}, bookAddr, TierSafe)
	now := time.Unix(1_700_000_000, 0)
	g.now = func() time.Time { return now }

	_, err := g.PreferredGasPrice(context.Background())
	require.NoError(t, err)
	_, err = g.PreferredGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.suggests)

	now = now.Add(gasPriceUpdateInterval)
	backend.gasPrice = big.NewInt(2_000)
	price, err := g.PreferredGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, backend.suggests)
	assert.Equal(t, int64(2_000), price.Int64())

	now = now.Add(gasPriceUpdateInterval)
	backend.priceErr = errors.New("node down")
	price, err = g.PreferredGasPrice(context.Background())
	require.NoError(t, err, "stale cache served on failure")
	assert.Equal(t, int64(2_000), price.Int64())
}

func TestGasOracle_PriceUnavailable(t *testing.T) {
	backend := newFakeBackend()
	backend.priceErr = errors.New("node down")
	_, err := NewGasOracle(backend, common.Address{}, bookAddr, TierSafe).PreferredGasPrice(context.Background())
	assert.Error(t, err)
}

func TestGasOracle_EstimateExecutionGas(t *testing.T) {
	backend := newFakeBackend()
	backend.estimate = 88_000
	g := NewGasOracle(backend, common.Address{}, bookAddr, TierSafe)

	gas, err := g.EstimateExecutionGas(context.Background(), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(88_000), gas)

	backend.estErr = errors.New("execution reverted")
	_, err = g.EstimateExecutionGas(context.Background(), big.NewInt(1))
	assert.Error(t, err)
}
