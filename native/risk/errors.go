package risk

import "errors"

var (
	ErrNilState            = errors.New("risk: state not configured")
	ErrNotPoolOwner        = errors.New("risk: caller is not the pool owner")
	ErrLtvBounds           = errors.New("risk: ltv outside configured bounds")
	ErrNoPendingUpdate     = errors.New("risk: no pending ltv update")
	ErrTimelockPending     = errors.New("risk: ltv timelock has not elapsed")
	ErrPositionHealthy     = errors.New("risk: position is healthy")
	ErrPositionUnhealthy   = errors.New("risk: position is unhealthy")
	ErrAssetMismatch       = errors.New("risk: repayment asset does not match pool asset")
	ErrSeizureExceedsBound = errors.New("risk: seized value exceeds repaid value plus discount")
	ErrInvalidTuple        = errors.New("risk: liquidation tuple amount must be positive")
)
