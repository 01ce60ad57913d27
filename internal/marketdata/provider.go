// Package marketdata fetches current market prices for positions. It is
// an informational collaborator: prices only refresh LatestMarketPrice
// and the derived valuation fields, never the transaction-event path.
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// HTTPProvider fetches quotes from a JSON quote endpoint:
// GET {baseURL}/quote?symbol=TICKER → {"symbol": "...", "price": "..."}.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
}

// NewHTTPProvider creates a provider against the given quote endpoint.
func NewHTTPProvider(name, baseURL string) *HTTPProvider {
	return &HTTPProvider{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Name identifies the provider in logs and metrics.
func (p *HTTPProvider) Name() string { return p.name }

type quoteResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

// GetCurrentPrice fetches the latest quote for ticker.
func (p *HTTPProvider) GetCurrentPrice(ctx context.Context, ticker, exchange string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("symbol", ticker)
	if exchange != "" {
		q.Set("exchange", exchange)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: build request: %w", p.name, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: fetch quote: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%s: quote %s: unexpected status %d", p.name, ticker, resp.StatusCode)
	}

	var quote quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return decimal.Zero, fmt.Errorf("%s: decode quote: %w", p.name, err)
	}
	if quote.Price.IsNegative() {
		return decimal.Zero, fmt.Errorf("%s: negative price %s for %s", p.name, quote.Price, ticker)
	}
	return quote.Price, nil
}
