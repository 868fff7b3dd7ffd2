package server

import (
	"errors"
	"net/http"

	"stakepool/native/bank"
	"stakepool/native/staking"
)

var (
	errCallerRequired   = errors.New("authenticated caller required")
	errExportWindowFull = errors.New("export window full")
)

// errorStatus maps engine and ledger failures onto HTTP statuses. Transfer
// failures are checked first so a wrapped ledger cause does not mask them.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, staking.ErrTransferFailed):
		return http.StatusPaymentRequired
	case errors.Is(err, staking.ErrInvalidAmount),
		errors.Is(err, staking.ErrInvalidRate),
		errors.Is(err, bank.ErrInvalidAmount),
		errors.Is(err, bank.ErrUnknownAsset),
		errors.Is(err, bank.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, staking.ErrInsufficientStake):
		return http.StatusConflict
	case errors.Is(err, staking.ErrLockPeriodActive):
		return http.StatusLocked
	case errors.Is(err, staking.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, staking.ErrPaused),
		errors.Is(err, staking.ErrPoolNotInitialised):
		return http.StatusServiceUnavailable
	case errors.Is(err, errCallerRequired):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
