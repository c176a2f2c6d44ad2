package storage_test

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keeper/internal/adapters/storage"
	"github.com/alejandrodnm/keeper/internal/domain"
)

var market = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func makeAttempt(orderID string, success bool, gasUsed uint64, at time.Time) domain.ExecutionAttempt {
	a := domain.ExecutionAttempt{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		Market:      market,
		GasEstimate: 60_000,
		GasPrice:    big.NewInt(30_000_000_000),
		ExecutorFee: new(big.Int).Mul(big.NewInt(5), big.NewInt(1e15)),
		TxHash:      common.HexToHash("0x" + orderID),
		GasUsed:     gasUsed,
		Success:     success,
		AttemptedAt: at,
	}
	if !success {
		a.Error = "execution reverted"
	}
	return a
}

func TestSQLiteJournal_RecordAndList(t *testing.T) {
	j, err := storage.NewSQLiteJournal(":memory:")
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("01", true, 55_000, now.Add(-time.Minute))))
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("02", false, 21_000, now)))

	got, err := j.Attempts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	// Más reciente primero
	assert.Equal(t, "02", got[0].OrderID)
	assert.False(t, got[0].Success)
	assert.Equal(t, "execution reverted", got[0].Error)
	assert.True(t, got[0].AttemptedAt.Equal(now))

	first := got[1]
	assert.Equal(t, "01", first.OrderID)
	assert.True(t, first.Success)
	assert.Equal(t, market, first.Market)
	assert.Equal(t, uint64(60_000), first.GasEstimate)
	assert.Equal(t, uint64(55_000), first.GasUsed)
	assert.Equal(t, "30000000000", first.GasPrice.String())
	assert.Equal(t, "5000000000000000", first.ExecutorFee.String())
	assert.Equal(t, common.HexToHash("0x01"), first.TxHash)
}

func TestSQLiteJournal_AttemptsLimit(t *testing.T) {
	j, err := storage.NewSQLiteJournal(":memory:")
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	for i, id := range []string{"01", "02", "03"} {
		require.NoError(t, j.RecordAttempt(ctx, makeAttempt(id, true, 1, now.Add(time.Duration(i)*time.Second))))
	}

	got, err := j.Attempts(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "03", got[0].OrderID)
	assert.Equal(t, "02", got[1].OrderID)
}

func TestSQLiteJournal_UnsentTransaction(t *testing.T) {
	j, err := storage.NewSQLiteJournal(":memory:")
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	a := makeAttempt("07", false, 0, time.Now())
	a.TxHash = common.Hash{}
	a.GasPrice = nil
	require.NoError(t, j.RecordAttempt(ctx, a))

	got, err := j.Attempts(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, common.Hash{}, got[0].TxHash)
	assert.Equal(t, int64(0), got[0].GasPrice.Int64())
}

func TestSQLiteJournal_Stats(t *testing.T) {
	j, err := storage.NewSQLiteJournal(":memory:")
	require.NoError(t, err)
	defer j.Close()

	ctx := context.Background()
	empty, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, empty.Attempts)
	assert.True(t, empty.FirstAttempt.IsZero())

	start := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("01", true, 50_000, start)))
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("02", false, 20_000, start.Add(time.Minute))))
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("03", false, 30_000, start.Add(2*time.Minute))))
	require.NoError(t, j.RecordTrip(ctx, domain.BreakerTrip{
		Code:      domain.ExitTooManyFailures,
		FailedTxs: 2,
		GasLost:   50_000,
		TrippedAt: start.Add(2 * time.Minute),
	}))

	s, err := j.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.Attempts)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, uint64(100_000), s.GasUsedTotal)
	assert.Equal(t, uint64(50_000), s.GasLost)
	assert.Equal(t, 1, s.Trips)
	assert.True(t, s.FirstAttempt.Equal(start))
	assert.True(t, s.LastAttempt.Equal(start.Add(2*time.Minute)))
}

func TestSQLiteJournal_PrunesOldRowsOnOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := storage.NewSQLiteJournal(path)
	require.NoError(t, err)
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("01", true, 1, time.Now().Add(-100*24*time.Hour))))
	require.NoError(t, j.RecordAttempt(ctx, makeAttempt("02", true, 1, time.Now())))
	require.NoError(t, j.Close())

	j, err = storage.NewSQLiteJournal(path)
	require.NoError(t, err)
	defer j.Close()

	got, err := j.Attempts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "02", got[0].OrderID)
}
