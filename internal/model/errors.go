package model

import "errors"

// Domain errors surfaced to API callers. Handlers map these to 4xx
// responses with errors.Is; everything else is a 500.
var (
	ErrEventNotFound       = errors.New("event not found")
	ErrEventNotOpen        = errors.New("event is not open for trading")
	ErrEventNotResolvable  = errors.New("only closed, unresolved events can be resolved")
	ErrEventTerminal       = errors.New("event is in a terminal state")
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrInvalidPrice        = errors.New("price must be between 1 and 99")
	ErrInvalidQuantity     = errors.New("quantity must be at least 1")
	ErrInvalidSide         = errors.New("side must be BUY or SELL")
	ErrUserNotFound        = errors.New("user not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotCancellable = errors.New("order is not open")
	ErrNotOrderOwner       = errors.New("order belongs to another user")
)
