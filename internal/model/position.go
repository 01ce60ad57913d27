package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Position is the aggregate financial state for one ticker, derived from
// the transactions that have been applied to it. One Position exists per
// unique ticker; a position whose shares return to zero stays on record
// as a closed position.
type Position struct {
	ID                   string          `json:"id"`
	Ticker               string          `json:"ticker"`
	SharesOwned          decimal.Decimal `json:"shares_owned"`
	AverageCostPerShare  decimal.Decimal `json:"average_cost_per_share"`
	TotalInvestedAmount  decimal.Decimal `json:"total_invested_amount"`
	TotalTransactionFees decimal.Decimal `json:"total_transaction_fees"`
	FirstPurchaseDate    *time.Time      `json:"first_purchase_date,omitempty"`
	Currency             Currency        `json:"currency"`

	LatestMarketPrice      decimal.Decimal `json:"latest_market_price"`
	MarketPriceLastUpdated *time.Time      `json:"market_price_last_updated,omitempty"`
	TotalMarketValue       decimal.Decimal `json:"total_market_value"`
	UnrealizedGainLoss     decimal.Decimal `json:"unrealized_gain_loss"`

	Exchange           string    `json:"exchange,omitempty"`
	Country            string    `json:"country,omitempty"`
	LastEventAppliedAt time.Time `json:"last_event_applied_at"`

	// Applied is the set of transaction IDs already folded into this
	// position's state. Owned exclusively by the position; the processor's
	// idempotency check is the only reader.
	Applied map[string]struct{} `json:"-"`

	// Version supports optimistic concurrency in the store. Zero for a
	// position that has never been persisted.
	Version int64 `json:"-"`
}

// NewPosition returns an empty position for the given ticker. The caller
// assigns the ID.
func NewPosition(id, ticker string, currency Currency, exchange, country string) *Position {
	return &Position{
		ID:       id,
		Ticker:   ticker,
		Currency: currency,
		Exchange: exchange,
		Country:  country,
		Applied:  make(map[string]struct{}),
	}
}

// HasApplied reports whether txID has already been applied to this position.
func (p *Position) HasApplied(txID string) bool {
	_, ok := p.Applied[txID]
	return ok
}

// MarkApplied records txID in the applied-transaction set.
func (p *Position) MarkApplied(txID string) {
	if p.Applied == nil {
		p.Applied = make(map[string]struct{})
	}
	p.Applied[txID] = struct{}{}
}

// ClearApplied removes txID from the applied-transaction set.
func (p *Position) ClearApplied(txID string) {
	delete(p.Applied, txID)
}

// AppliedIDs returns the applied transaction IDs in sorted order.
func (p *Position) AppliedIDs() []string {
	ids := make([]string, 0, len(p.Applied))
	for id := range p.Applied {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetMarketPrice updates the informational market price fields and
// recomputes the derived valuation.
func (p *Position) SetMarketPrice(price decimal.Decimal, at time.Time) {
	p.LatestMarketPrice = price
	p.MarketPriceLastUpdated = &at
	p.RecomputeDerived()
}

// RecomputeDerived refreshes TotalMarketValue and UnrealizedGainLoss from
// the current shares and latest market price.
func (p *Position) RecomputeDerived() {
	p.TotalMarketValue = p.SharesOwned.Mul(p.LatestMarketPrice).Round(4)
	p.UnrealizedGainLoss = p.TotalMarketValue.Sub(p.TotalInvestedAmount).Round(4)
}

// IsOpen reports whether the position currently holds shares.
func (p *Position) IsOpen() bool {
	return p.SharesOwned.IsPositive()
}

// Clone returns a deep copy, including the applied-transaction set.
func (p *Position) Clone() *Position {
	cp := *p
	cp.Applied = make(map[string]struct{}, len(p.Applied))
	for id := range p.Applied {
		cp.Applied[id] = struct{}{}
	}
	if p.FirstPurchaseDate != nil {
		d := *p.FirstPurchaseDate
		cp.FirstPurchaseDate = &d
	}
	if p.MarketPriceLastUpdated != nil {
		d := *p.MarketPriceLastUpdated
		cp.MarketPriceLastUpdated = &d
	}
	return &cp
}

// JSON returns the position serialized for publishing. Errors are
// impossible for this type, so the result is always valid JSON.
func (p *Position) JSON() []byte {
	b, _ := json.Marshal(p)
	return b
}
