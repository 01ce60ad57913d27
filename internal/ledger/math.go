// Package ledger implements the pure position arithmetic: applying a
// buy/sell transaction to a position snapshot, reversing a previously
// applied transaction, and amending one (reverse + re-apply).
//
// All functions take the position by value and return a new snapshot;
// they perform no I/O and never mutate their input. Monetary amounts are
// exact decimals rounded half-up to 4 places, share quantities to 6, so
// repeated apply/reverse cycles are exactly invertible.
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"position-ledger/internal/model"
)

const (
	// MoneyScale is the decimal scale of all monetary fields.
	MoneyScale = 4
	// ShareScale is the decimal scale of share quantities.
	ShareScale = 6
)

var (
	// ErrOversell is returned when a sell exceeds the held shares.
	ErrOversell = errors.New("sell quantity exceeds shares owned")

	// ErrInvalidReversal is returned when undoing a transaction would
	// drive the position below zero shares or fees.
	ErrInvalidReversal = errors.New("reversal would violate position invariants")

	// ErrBadAmount is returned when a quantity, price, or fee precondition
	// does not hold (quantity > 0, price >= 0, fees >= 0).
	ErrBadAmount = errors.New("invalid transaction amount")
)

func roundMoney(d decimal.Decimal) decimal.Decimal  { return d.Round(MoneyScale) }
func roundShares(d decimal.Decimal) decimal.Decimal { return d.Round(ShareScale) }

func checkAmounts(tx model.Transaction) error {
	if !tx.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s must be positive", ErrBadAmount, tx.Quantity)
	}
	if tx.Price.IsNegative() {
		return fmt.Errorf("%w: price %s must not be negative", ErrBadAmount, tx.Price)
	}
	if tx.Fees.IsNegative() {
		return fmt.Errorf("%w: fees %s must not be negative", ErrBadAmount, tx.Fees)
	}
	return nil
}

// Apply folds a transaction's effect into the position snapshot,
// dispatching on the transaction type.
func Apply(p model.Position, tx model.Transaction) (model.Position, error) {
	switch tx.Type {
	case model.TransactionBuy:
		return ApplyBuy(p, tx)
	case model.TransactionSell:
		return ApplySell(p, tx)
	default:
		return p, fmt.Errorf("%w: unknown transaction type %q", ErrBadAmount, tx.Type)
	}
}

// ApplyBuy adds qty shares at price plus fees to the cost basis and
// recomputes the weighted average cost. Sets FirstPurchaseDate on the
// first buy ever applied.
func ApplyBuy(p model.Position, tx model.Transaction) (model.Position, error) {
	if err := checkAmounts(tx); err != nil {
		return p, err
	}

	cost := tx.Quantity.Mul(tx.Price).Add(tx.Fees)

	p.SharesOwned = roundShares(p.SharesOwned.Add(tx.Quantity))
	p.TotalInvestedAmount = roundMoney(p.TotalInvestedAmount.Add(cost))
	p.AverageCostPerShare = roundMoney(p.TotalInvestedAmount.Div(p.SharesOwned))
	p.TotalTransactionFees = roundMoney(p.TotalTransactionFees.Add(tx.Fees))

	if p.FirstPurchaseDate == nil {
		d := tx.Date
		p.FirstPurchaseDate = &d
	}

	p.RecomputeDerived()
	return p, nil
}

// ApplySell removes qty shares and reduces the cost basis proportionally
// by qty * average cost (not by sale proceeds). The average cost of the
// remaining shares is unchanged.
func ApplySell(p model.Position, tx model.Transaction) (model.Position, error) {
	if err := checkAmounts(tx); err != nil {
		return p, err
	}
	if tx.Quantity.GreaterThan(p.SharesOwned) {
		return p, fmt.Errorf("%w: sell %s > owned %s", ErrOversell, tx.Quantity, p.SharesOwned)
	}

	costRemoved := roundMoney(tx.Quantity.Mul(p.AverageCostPerShare))

	p.SharesOwned = roundShares(p.SharesOwned.Sub(tx.Quantity))
	p.TotalInvestedAmount = roundMoney(p.TotalInvestedAmount.Sub(costRemoved))
	if p.SharesOwned.IsZero() {
		// rounding of costRemoved can leave a tiny residue
		p.TotalInvestedAmount = decimal.Zero
		p.AverageCostPerShare = decimal.Zero
	}
	p.TotalTransactionFees = roundMoney(p.TotalTransactionFees.Add(tx.Fees))

	p.RecomputeDerived()
	return p, nil
}

// Reverse undoes a previously applied transaction.
//
// A reversed buy removes exactly the shares, cost, and fees the buy added;
// it fails if the shares have since been sold below the reversed quantity.
// A reversed sell re-adds the shares at the position's average cost, which
// a sell leaves untouched, restoring the removed cost basis.
//
// FirstPurchaseDate is never cleared, even when reversing the first buy:
// "ever first purchased" semantics.
func Reverse(p model.Position, tx model.Transaction) (model.Position, error) {
	if err := checkAmounts(tx); err != nil {
		return p, err
	}

	switch tx.Type {
	case model.TransactionBuy:
		if tx.Quantity.GreaterThan(p.SharesOwned) {
			return p, fmt.Errorf("%w: cannot reverse buy of %s, only %s shares remain",
				ErrInvalidReversal, tx.Quantity, p.SharesOwned)
		}
		cost := tx.Quantity.Mul(tx.Price).Add(tx.Fees)
		p.SharesOwned = roundShares(p.SharesOwned.Sub(tx.Quantity))
		p.TotalInvestedAmount = roundMoney(p.TotalInvestedAmount.Sub(cost))
		if p.SharesOwned.IsPositive() {
			if p.TotalInvestedAmount.IsNegative() {
				return p, fmt.Errorf("%w: invested amount would become negative", ErrInvalidReversal)
			}
			p.AverageCostPerShare = roundMoney(p.TotalInvestedAmount.Div(p.SharesOwned))
		} else {
			p.AverageCostPerShare = decimal.Zero
			p.TotalInvestedAmount = decimal.Zero
		}

	case model.TransactionSell:
		costRestored := roundMoney(tx.Quantity.Mul(p.AverageCostPerShare))
		p.SharesOwned = roundShares(p.SharesOwned.Add(tx.Quantity))
		p.TotalInvestedAmount = roundMoney(p.TotalInvestedAmount.Add(costRestored))

	default:
		return p, fmt.Errorf("%w: unknown transaction type %q", ErrBadAmount, tx.Type)
	}

	newFees := roundMoney(p.TotalTransactionFees.Sub(tx.Fees))
	if newFees.IsNegative() {
		return p, fmt.Errorf("%w: fees would become negative", ErrInvalidReversal)
	}
	p.TotalTransactionFees = newFees

	p.RecomputeDerived()
	return p, nil
}

// Amend reverses prev and applies next atomically: if either half fails,
// the input snapshot is returned unchanged and next is never applied.
func Amend(p model.Position, prev, next model.Transaction) (model.Position, error) {
	reversed, err := Reverse(p, prev)
	if err != nil {
		return p, err
	}
	amended, err := Apply(reversed, next)
	if err != nil {
		return p, err
	}
	return amended, nil
}
