// Package split derives per-interval installment amounts from a total budget
// using integer floor division. Amounts are ledger base units (*big.Int); any
// non-divisible leftover is surfaced to the caller, never dropped.
package split

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks malformed split arguments. Callers must fail fast on
// it; it is never a retryable condition.
var ErrInvalidInput = errors.New("invalid split input")

// Result is the outcome of splitting a budget into equal installments.
// ActualTotalUsed = AmountPerInterval * intervals, Remainder = budget - used.
type Result struct {
	AmountPerInterval *big.Int
	ActualTotalUsed   *big.Int
	Remainder         *big.Int
}

// HasRemainder reports whether part of the budget stays with the owner.
func (r Result) HasRemainder() bool {
	return r.Remainder != nil && r.Remainder.Sign() > 0
}

// Split divides totalBudget into totalIntervals equal installments.
// Invariants: AmountPerInterval*totalIntervals + Remainder == totalBudget and
// 0 <= Remainder < totalIntervals. The inputs are not mutated.
func Split(totalBudget *big.Int, totalIntervals uint64) (Result, error) {
	if totalBudget == nil {
		return Result{}, fmt.Errorf("%w: nil budget", ErrInvalidInput)
	}
	if totalBudget.Sign() < 0 {
		return Result{}, fmt.Errorf("%w: negative budget %s", ErrInvalidInput, totalBudget)
	}
	if totalIntervals == 0 {
		return Result{}, fmt.Errorf("%w: interval count must be >= 1", ErrInvalidInput)
	}

	n := new(big.Int).SetUint64(totalIntervals)
	per, rem := new(big.Int).QuoRem(totalBudget, n, new(big.Int))
	used := new(big.Int).Mul(per, n)
	return Result{
		AmountPerInterval: per,
		ActualTotalUsed:   used,
		Remainder:         rem,
	}, nil
}

// FormatUnits renders a base-unit amount in human units for logs and the
// status API, e.g. FormatUnits(1500000, 6) == "1.5".
func FormatUnits(amount *big.Int, decimals int32) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -decimals).String()
}
