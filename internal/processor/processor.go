// Package processor implements the three transaction-event use cases:
// Created, Updated, and Deleted. Each orchestrates the idempotency check,
// the pure ledger math, and the position store, and returns a tagged
// Result instead of raising errors for expected business conditions.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"position-ledger/internal/ledger"
	"position-ledger/internal/model"
)

// maxStoreAttempts bounds the optimistic-concurrency retry loop. Version
// conflicts and creation races reload and retry; anything past the ceiling
// escalates to the caller.
const maxStoreAttempts = 5

// CreatedCommand carries a "transaction created" event.
type CreatedCommand struct {
	Transaction model.Transaction
	OccurredAt  time.Time
}

// DeletedCommand carries a "transaction deleted" event. The payload is the
// original transaction so its effect can be reversed.
type DeletedCommand struct {
	Transaction model.Transaction
	OccurredAt  time.Time
}

// UpdatedCommand carries a "transaction updated" event with both the
// previous and the new transaction payloads.
type UpdatedCommand struct {
	Previous   model.Transaction
	New        model.Transaction
	OccurredAt time.Time
}

// Processor wires the use cases to a position store.
type Processor struct {
	store model.PositionStore
}

// New creates a Processor backed by the given store.
func New(store model.PositionStore) *Processor {
	return &Processor{store: store}
}

// ProcessCreated applies a newly created transaction to the ticker's
// position, creating the position on the first buy.
func (pr *Processor) ProcessCreated(ctx context.Context, cmd CreatedCommand) (res Result) {
	defer recoverUnexpected(&res)

	if msg := validateTransaction(cmd.Transaction); msg != "" {
		return Failure(KindInvalidInput, msg, nil)
	}

	tx := cmd.Transaction
	var lastErr error

	for attempt := 0; attempt < maxStoreAttempts; attempt++ {
		pos, err := pr.store.FindByTicker(ctx, tx.Ticker)
		switch {
		case errors.Is(err, model.ErrNotFound):
			if tx.Type == model.TransactionSell {
				return Failure(KindOversell,
					fmt.Sprintf("sell for unknown ticker %s", tx.Ticker), nil)
			}

			fresh := model.NewPosition(uuid.NewString(), tx.Ticker, tx.Currency, tx.Exchange, tx.Country)
			work, err := ledger.ApplyBuy(*fresh, tx)
			if err != nil {
				return ledgerFailure(err)
			}
			work.MarkApplied(tx.ID)
			work.LastEventAppliedAt = cmd.OccurredAt

			saved, err := pr.store.Save(ctx, &work)
			if errors.Is(err, model.ErrDuplicateTicker) {
				// lost the creation race; retry against the now-existing row
				lastErr = err
				continue
			}
			if err != nil {
				return Failure(KindPersistence, "saving new position", err)
			}
			return Success(saved)

		case err != nil:
			return Failure(KindPersistence, "loading position", err)
		}

		if pos.HasApplied(tx.ID) {
			return Ignored(ReasonAlreadyProcessed)
		}
		if res, ok := checkCurrency(pos, tx); !ok {
			return res
		}

		work, err := ledger.Apply(*pos.Clone(), tx)
		if err != nil {
			return ledgerFailure(err)
		}
		work.MarkApplied(tx.ID)
		work.LastEventAppliedAt = cmd.OccurredAt

		updated, err := pr.store.Update(ctx, &work)
		if errors.Is(err, model.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return Failure(KindPersistence, "updating position", err)
		}
		return Success(updated)
	}

	if errors.Is(lastErr, model.ErrDuplicateTicker) {
		return Failure(KindDuplicatedPosition,
			fmt.Sprintf("unresolved creation race for ticker %s", tx.Ticker), lastErr)
	}
	return Failure(KindPersistence, "store retries exhausted", lastErr)
}

// ProcessDeleted reverses a previously applied transaction. Deleting a
// transaction that was never applied is a no-op, not an error.
func (pr *Processor) ProcessDeleted(ctx context.Context, cmd DeletedCommand) (res Result) {
	defer recoverUnexpected(&res)

	if msg := validateTransaction(cmd.Transaction); msg != "" {
		return Failure(KindInvalidInput, msg, nil)
	}

	tx := cmd.Transaction
	var lastErr error

	for attempt := 0; attempt < maxStoreAttempts; attempt++ {
		pos, err := pr.store.FindByTicker(ctx, tx.Ticker)
		if errors.Is(err, model.ErrNotFound) {
			return Ignored(ReasonNotApplied)
		}
		if err != nil {
			return Failure(KindPersistence, "loading position", err)
		}
		if !pos.HasApplied(tx.ID) {
			return Ignored(ReasonNotApplied)
		}

		work, err := ledger.Reverse(*pos.Clone(), tx)
		if err != nil {
			return ledgerFailure(err)
		}
		work.ClearApplied(tx.ID)
		work.LastEventAppliedAt = cmd.OccurredAt

		updated, err := pr.store.Update(ctx, &work)
		if errors.Is(err, model.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return Failure(KindPersistence, "updating position", err)
		}
		return Success(updated)
	}

	return Failure(KindPersistence, "store retries exhausted", lastErr)
}

// ProcessUpdated amends a previously applied transaction: reverse the
// previous payload, apply the new one, atomically. If the previous
// transaction was never applied the event degrades to a plain Created.
func (pr *Processor) ProcessUpdated(ctx context.Context, cmd UpdatedCommand) (res Result) {
	defer recoverUnexpected(&res)

	if msg := validateTransaction(cmd.Previous); msg != "" {
		return Failure(KindInvalidInput, "previous: "+msg, nil)
	}
	if msg := validateTransaction(cmd.New); msg != "" {
		return Failure(KindInvalidInput, "new: "+msg, nil)
	}
	if cmd.Previous.Ticker != cmd.New.Ticker {
		return Failure(KindInvalidInput,
			fmt.Sprintf("ticker changed %s -> %s", cmd.Previous.Ticker, cmd.New.Ticker), nil)
	}

	var lastErr error

	for attempt := 0; attempt < maxStoreAttempts; attempt++ {
		pos, err := pr.store.FindByTicker(ctx, cmd.New.Ticker)
		if errors.Is(err, model.ErrNotFound) {
			return pr.ProcessCreated(ctx, CreatedCommand{Transaction: cmd.New, OccurredAt: cmd.OccurredAt})
		}
		if err != nil {
			return Failure(KindPersistence, "loading position", err)
		}
		if !pos.HasApplied(cmd.Previous.ID) {
			return pr.ProcessCreated(ctx, CreatedCommand{Transaction: cmd.New, OccurredAt: cmd.OccurredAt})
		}
		if res, ok := checkCurrency(pos, cmd.New); !ok {
			return res
		}

		work, err := ledger.Amend(*pos.Clone(), cmd.Previous, cmd.New)
		if err != nil {
			return ledgerFailure(err)
		}
		if cmd.Previous.ID != cmd.New.ID {
			work.ClearApplied(cmd.Previous.ID)
			work.MarkApplied(cmd.New.ID)
		}
		work.LastEventAppliedAt = cmd.OccurredAt

		updated, err := pr.store.Update(ctx, &work)
		if errors.Is(err, model.ErrVersionConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return Failure(KindPersistence, "updating position", err)
		}
		return Success(updated)
	}

	return Failure(KindPersistence, "store retries exhausted", lastErr)
}

// validateTransaction returns a non-empty message describing the first
// invalid field, or "" when the payload is well-formed.
func validateTransaction(tx model.Transaction) string {
	switch {
	case tx.ID == "":
		return "missing transaction id"
	case tx.Ticker == "":
		return "missing ticker"
	case !tx.Type.Valid():
		return fmt.Sprintf("unknown transaction type %q", tx.Type)
	case !tx.Quantity.IsPositive():
		return fmt.Sprintf("quantity %s must be positive", tx.Quantity)
	case tx.Price.IsNegative():
		return fmt.Sprintf("price %s must not be negative", tx.Price)
	case tx.Fees.IsNegative():
		return fmt.Sprintf("fees %s must not be negative", tx.Fees)
	case !tx.Currency.Valid():
		return fmt.Sprintf("invalid currency %q", tx.Currency)
	}
	return ""
}

// checkCurrency rejects a transaction whose currency differs from the
// position's fixed currency.
func checkCurrency(pos *model.Position, tx model.Transaction) (Result, bool) {
	if pos.Currency != tx.Currency {
		return Failure(KindCurrencyMismatch,
			fmt.Sprintf("position %s holds %s, transaction is %s", pos.Ticker, pos.Currency, tx.Currency), nil), false
	}
	return Result{}, true
}

// ledgerFailure maps a ledger math error to the matching error kind.
func ledgerFailure(err error) Result {
	switch {
	case errors.Is(err, ledger.ErrOversell):
		return Failure(KindOversell, err.Error(), err)
	case errors.Is(err, ledger.ErrInvalidReversal):
		return Failure(KindInvalidReversal, err.Error(), err)
	default:
		return Failure(KindCalculation, err.Error(), err)
	}
}

// recoverUnexpected converts a panic anywhere in a use case into an
// UNEXPECTED_ERROR result so the consumer can log it and leave the entry
// pending instead of crashing the process.
func recoverUnexpected(res *Result) {
	if r := recover(); r != nil {
		log.Printf("[processor] panic recovered: %v", r)
		*res = Failure(KindUnexpected, fmt.Sprintf("panic: %v", r), nil)
	}
}
