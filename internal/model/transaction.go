package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a transaction.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionSell TransactionType = "SELL"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionSell
}

// Currency is an ISO-4217 style currency code, e.g. "USD".
type Currency string

// Valid reports whether c looks like a currency code (three uppercase letters).
func (c Currency) Valid() bool {
	if len(c) != 3 {
		return false
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Transaction is an immutable buy/sell record originating in the upstream
// ledger of record. The engine never creates transactions, it only folds
// their effects into positions.
type Transaction struct {
	ID       string          `json:"transactionId"`
	Ticker   string          `json:"ticker"`
	Type     TransactionType `json:"type"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Fees     decimal.Decimal `json:"fees"`
	Currency Currency        `json:"currency"`
	Date     time.Time       `json:"date"`
	Exchange string          `json:"exchange,omitempty"`
	Country  string          `json:"country,omitempty"`
}
