package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-ledger/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "positions.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func samplePosition(ticker string) *model.Position {
	p := model.NewPosition("id-"+ticker, ticker, "USD", "NASDAQ", "US")
	p.SharesOwned = decimal.RequireFromString("100.5")
	p.AverageCostPerShare = decimal.RequireFromString("10.01")
	p.TotalInvestedAmount = decimal.RequireFromString("1006.005")
	p.TotalTransactionFees = decimal.RequireFromString("1.5")
	first := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	p.FirstPurchaseDate = &first
	p.LastEventAppliedAt = time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	p.MarkApplied("tx-1")
	p.MarkApplied("tx-2")
	return p
}

func TestSaveAndFindByTicker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, samplePosition("AAPL"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	got, err := s.FindByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "id-AAPL", got.ID)
	assert.True(t, got.SharesOwned.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, got.TotalInvestedAmount.Equal(decimal.RequireFromString("1006.005")))
	assert.Equal(t, model.Currency("USD"), got.Currency)
	assert.Equal(t, []string{"tx-1", "tx-2"}, got.AppliedIDs())
	require.NotNil(t, got.FirstPurchaseDate)
	assert.Equal(t, 15, got.FirstPurchaseDate.Day())
}

func TestFindMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FindByTicker(ctx, "NOPE")
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSaveDuplicateTicker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, samplePosition("AAPL"))
	require.NoError(t, err)

	dup := samplePosition("AAPL")
	dup.ID = "other-id"
	_, err = s.Save(ctx, dup)
	assert.ErrorIs(t, err, model.ErrDuplicateTicker)
}

func TestUpdate_VersionConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, samplePosition("AAPL"))
	require.NoError(t, err)

	first := saved.Clone()
	first.SharesOwned = decimal.RequireFromString("150")
	_, err = s.Update(ctx, first)
	require.NoError(t, err)

	// stale snapshot: still carries version 1
	stale := saved.Clone()
	stale.SharesOwned = decimal.RequireFromString("999")
	_, err = s.Update(ctx, stale)
	assert.ErrorIs(t, err, model.ErrVersionConflict)

	got, err := s.FindByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.True(t, got.SharesOwned.Equal(decimal.RequireFromString("150")))
}

func TestUpdate_SyncsAppliedIDDeltas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, samplePosition("AAPL"))
	require.NoError(t, err)

	work := saved.Clone()
	work.ClearApplied("tx-1")
	work.MarkApplied("tx-3")
	updated, err := s.Update(ctx, work)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	got, err := s.FindByTicker(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, []string{"tx-2", "tx-3"}, got.AppliedIDs())
}

func TestCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	open := samplePosition("AAPL")
	_, err := s.Save(ctx, open)
	require.NoError(t, err)

	closed := samplePosition("MSFT")
	closed.SharesOwned = decimal.Zero
	_, err = s.Save(ctx, closed)
	require.NoError(t, err)

	all, err := s.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), all)

	withShares, err := s.CountWithShares(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), withShares)

	exists, err := s.ExistsByTicker(ctx, "MSFT")
	require.NoError(t, err)
	assert.True(t, exists)

	positions, err := s.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, "AAPL", positions[0].Ticker)
}
