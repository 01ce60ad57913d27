package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"position-ledger/internal/model"
)

// ErrUndecodable marks a stream payload that can never be parsed. The
// consumer acknowledges such entries away instead of redelivering them
// forever.
var ErrUndecodable = errors.New("undecodable event payload")

// transactionPayload is the wire shape of a created/deleted event. The
// upstream ledger emits quantities and amounts as JSON numbers or strings;
// shopspring decimal accepts both.
type transactionPayload struct {
	TransactionID string          `json:"transactionId"`
	Ticker        string          `json:"ticker"`
	Type          string          `json:"type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Fees          decimal.Decimal `json:"fees"`
	Currency      string          `json:"currency"`
	Date          string          `json:"date"`
	Exchange      string          `json:"exchange"`
	Country       string          `json:"country"`
}

// updatedPayload is the wire shape of an updated event.
type updatedPayload struct {
	Previous   transactionPayload `json:"previous"`
	New        transactionPayload `json:"new"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// eventEnvelope wraps a transaction payload with the event occurrence time.
type eventEnvelope struct {
	transactionPayload
	OccurredAt time.Time `json:"occurredAt"`
}

func (p transactionPayload) toTransaction() (model.Transaction, error) {
	date, err := parseDate(p.Date)
	if err != nil {
		return model.Transaction{}, err
	}
	return model.Transaction{
		ID:       p.TransactionID,
		Ticker:   p.Ticker,
		Type:     model.TransactionType(p.Type),
		Quantity: p.Quantity,
		Price:    p.Price,
		Fees:     p.Fees,
		Currency: model.Currency(p.Currency),
		Date:     date,
		Exchange: p.Exchange,
		Country:  p.Country,
	}, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.Parse("2006-01-02", s); err == nil {
		return d, nil
	}
	if d, err := time.Parse(time.RFC3339, s); err == nil {
		return d, nil
	}
	return time.Time{}, fmt.Errorf("%w: bad date %q", ErrUndecodable, s)
}

// decodeTransactionEvent parses a created/deleted entry payload.
func decodeTransactionEvent(payload []byte) (model.Transaction, time.Time, error) {
	var env eventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return model.Transaction{}, time.Time{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	tx, err := env.toTransaction()
	if err != nil {
		return model.Transaction{}, time.Time{}, err
	}
	return tx, env.OccurredAt, nil
}

// decodeUpdatedEvent parses an updated entry payload carrying the previous
// and new transaction versions.
func decodeUpdatedEvent(payload []byte) (prev, next model.Transaction, occurredAt time.Time, err error) {
	var env updatedPayload
	if err = json.Unmarshal(payload, &env); err != nil {
		err = fmt.Errorf("%w: %v", ErrUndecodable, err)
		return
	}
	if prev, err = env.Previous.toTransaction(); err != nil {
		return
	}
	if next, err = env.New.toTransaction(); err != nil {
		return
	}
	occurredAt = env.OccurredAt
	return
}
