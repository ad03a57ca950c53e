package lending

import "errors"

var (
	ErrNilState              = errors.New("lending: state not configured")
	ErrUnknownPool           = errors.New("lending: pool not configured")
	ErrPoolExists            = errors.New("lending: pool already exists")
	ErrPoolPaused            = errors.New("lending: pool paused")
	ErrInvalidAmount         = errors.New("lending: amount must be positive")
	ErrZeroShares            = errors.New("lending: operation yields zero shares")
	ErrPoolCapExceeded       = errors.New("lending: pool deposit cap exceeded")
	ErrBorrowCapExceeded     = errors.New("lending: pool borrow cap exceeded")
	ErrInsufficientLiquidity = errors.New("lending: insufficient liquidity")
	ErrInsufficientShares    = errors.New("lending: insufficient deposit shares")
	ErrNoDebtToRepay         = errors.New("lending: no outstanding debt to repay")
	ErrUnknownRateModel      = errors.New("lending: rate model not registered")
)
