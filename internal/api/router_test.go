package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"position-ledger/internal/model"
)

type fakeStore struct {
	positions []*model.Position
	failAll   bool
}

func (f *fakeStore) FindByTicker(_ context.Context, ticker string) (*model.Position, error) {
	for _, p := range f.positions {
		if p.Ticker == ticker {
			return p.Clone(), nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeStore) FindByID(_ context.Context, id string) (*model.Position, error) {
	for _, p := range f.positions {
		if p.ID == id {
			return p.Clone(), nil
		}
	}
	return nil, model.ErrNotFound
}

func (f *fakeStore) FindAll(context.Context) ([]*model.Position, error) {
	if f.failAll {
		return nil, assert.AnError
	}
	out := make([]*model.Position, len(f.positions))
	for i, p := range f.positions {
		out[i] = p.Clone()
	}
	return out, nil
}

func (f *fakeStore) Save(_ context.Context, p *model.Position) (*model.Position, error) {
	f.positions = append(f.positions, p.Clone())
	return p, nil
}

func (f *fakeStore) Update(_ context.Context, p *model.Position) (*model.Position, error) {
	return p, nil
}

func (f *fakeStore) ExistsByTicker(ctx context.Context, ticker string) (bool, error) {
	_, err := f.FindByTicker(ctx, ticker)
	if err == nil {
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) CountAll(context.Context) (int64, error) {
	return int64(len(f.positions)), nil
}

func (f *fakeStore) CountWithShares(context.Context) (int64, error) {
	var n int64
	for _, p := range f.positions {
		if p.IsOpen() {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) Close() error { return nil }

func seedPosition(t *testing.T, ticker, invested, shares string) *model.Position {
	t.Helper()
	p := model.NewPosition("id-"+ticker, ticker, "USD", "NASDAQ", "US")
	p.TotalInvestedAmount = decimal.RequireFromString(invested)
	p.SharesOwned = decimal.RequireFromString(shares)
	p.TotalTransactionFees = decimal.RequireFromString("2")
	return p
}

func newTestServer(store model.PositionStore) *httptest.Server {
	return httptest.NewServer(NewServer(store, nil).Router())
}

func TestRouter_ListPositions(t *testing.T) {
	store := &fakeStore{positions: []*model.Position{
		seedPosition(t, "AAPL", "1000", "10"),
		seedPosition(t, "MSFT", "500", "5"),
	}}
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Len(t, got, 2)
}

func TestRouter_ListPositions_EmptyIsArray(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/positions")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got []any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRouter_GetPosition(t *testing.T) {
	store := &fakeStore{positions: []*model.Position{
		seedPosition(t, "AAPL", "1001", "100"),
	}}
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/positions/AAPL")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "AAPL", got["ticker"])
}

func TestRouter_GetPosition_NotFound(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/positions/TSLA")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_Summary(t *testing.T) {
	open := seedPosition(t, "AAPL", "1000", "10")
	closed := seedPosition(t, "MSFT", "0", "0")
	store := &fakeStore{positions: []*model.Position{open, closed}}
	srv := newTestServer(store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/positions/summary")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, int64(2), got.TotalPositions)
	assert.Equal(t, int64(1), got.OpenPositions)
	assert.True(t, got.TotalInvested.Equal(decimal.RequireFromString("1000")))
	assert.True(t, got.TotalFees.Equal(decimal.RequireFromString("4")))
}

func TestRouter_StoreFailure(t *testing.T) {
	srv := newTestServer(&fakeStore{failAll: true})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/positions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestRouter_Healthz(t *testing.T) {
	srv := newTestServer(&fakeStore{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
