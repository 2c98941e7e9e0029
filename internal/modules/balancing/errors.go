package balancing

import "errors"

var (
	// ErrInvalidStrategy covers pool/weight mismatches, too many pools, duplicate or
	// empty pool references, negative weights and all-zero weights.
	ErrInvalidStrategy = errors.New("invalid strategy")

	// ErrInvalidBalance covers negative or missing balances and a negative target reserve.
	ErrInvalidBalance = errors.New("invalid balance")

	// ErrInvalidBudget is returned for a negative instruction budget.
	ErrInvalidBudget = errors.New("invalid instruction budget")

	// ErrUnreachableTarget means the target reserve cannot be met within the
	// instruction budget. Callers may re-plan with a larger budget or another target.
	ErrUnreachableTarget = errors.New("target reserve unreachable")
)
