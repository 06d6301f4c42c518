package exchange

import "errors"

// Failure taxonomy of the settlement core. Every failed operation returns one
// of these (possibly wrapped with context) and leaves state untouched.
// Ledger-side failures (insufficient allowance, invalid recipient) surface as
// the token package's sentinels through the same wrapping.
var (
	ErrInvalidAmount       = errors.New("exchange: invalid amount")
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	ErrInvalidOrderID      = errors.New("exchange: invalid order id")
	ErrUnauthorized        = errors.New("exchange: unauthorized")
	ErrAlreadyFilled       = errors.New("exchange: order already filled")
	ErrAlreadyCancelled    = errors.New("exchange: order already cancelled")
)
