package rpc

import (
	"errors"
	"net/http"

	"sterling/core"
	nativecommon "sterling/native/common"
	"sterling/native/lending"
	"sterling/native/oracle"
	"sterling/native/position"
	"sterling/native/risk"
	"sterling/storage"
)

// statusFor maps protocol errors onto HTTP status codes. Anything
// unrecognized is treated as an internal failure.
func statusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, position.ErrUnknownPosition),
		errors.Is(err, lending.ErrUnknownPool),
		errors.Is(err, oracle.ErrNoSource),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, position.ErrNotAuthorized),
		errors.Is(err, risk.ErrNotPoolOwner):
		return http.StatusForbidden
	case errors.Is(err, core.ErrEmptyBatch),
		errors.Is(err, core.ErrUnknownOperation),
		errors.Is(err, core.ErrUnknownAsset),
		errors.Is(err, core.ErrMisplacedCreate),
		errors.Is(err, lending.ErrInvalidAmount),
		errors.Is(err, lending.ErrUnknownRateModel),
		errors.Is(err, risk.ErrInvalidTuple),
		errors.Is(err, position.ErrInvalidOperation):
		return http.StatusBadRequest
	case errors.Is(err, oracle.ErrSequencerDown),
		errors.Is(err, oracle.ErrStaleQuote),
		errors.Is(err, nativecommon.ErrFlowPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, lending.ErrPoolExists),
		errors.Is(err, lending.ErrPoolPaused),
		errors.Is(err, lending.ErrZeroShares),
		errors.Is(err, lending.ErrPoolCapExceeded),
		errors.Is(err, lending.ErrBorrowCapExceeded),
		errors.Is(err, lending.ErrInsufficientLiquidity),
		errors.Is(err, lending.ErrInsufficientShares),
		errors.Is(err, lending.ErrNoDebtToRepay),
		errors.Is(err, risk.ErrPositionHealthy),
		errors.Is(err, risk.ErrPositionUnhealthy),
		errors.Is(err, risk.ErrLtvBounds),
		errors.Is(err, risk.ErrTimelockPending),
		errors.Is(err, risk.ErrNoPendingUpdate),
		errors.Is(err, risk.ErrAssetMismatch),
		errors.Is(err, risk.ErrSeizureExceedsBound),
		errors.Is(err, position.ErrAlreadyExists),
		errors.Is(err, position.ErrAssetNotEmpty),
		errors.Is(err, position.ErrAssetLimit),
		errors.Is(err, position.ErrDebtPoolLimit),
		errors.Is(err, position.ErrDebtOutstanding):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
