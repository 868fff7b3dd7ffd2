package staking

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount indicates a zero, negative or missing amount.
	ErrInvalidAmount = errors.New("staking: amount must be positive")
	// ErrInsufficientStake indicates a withdrawal larger than the caller's stake.
	ErrInsufficientStake = errors.New("staking: insufficient stake")
	// ErrLockPeriodActive indicates the caller's lock period has not elapsed.
	ErrLockPeriodActive = errors.New("staking: lock period active")
	// ErrUnauthorized indicates a controller-only operation was invoked by another identity.
	ErrUnauthorized = errors.New("staking: caller is not the controller")
	// ErrTransferFailed indicates the ledger rejected or failed a transfer.
	ErrTransferFailed = errors.New("staking: transfer failed")
	// ErrInvalidRate indicates a missing or negative reward rate.
	ErrInvalidRate = errors.New("staking: reward rate must not be negative")
	// ErrPaused indicates new stakes are currently not accepted.
	ErrPaused = errors.New("staking: staking paused")
	// ErrNilState indicates the engine has no persistence wired.
	ErrNilState = errors.New("staking: state not configured")
	// ErrPoolNotInitialised indicates Bootstrap has not run against the state.
	ErrPoolNotInitialised = errors.New("staking: pool not initialised")
	// ErrInvariantViolated indicates the stored accounts disagree with the pool totals.
	ErrInvariantViolated = errors.New("staking: invariant violated")
)

func transferFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrTransferFailed, err)
}
