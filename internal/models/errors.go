package models

import "errors"

// Ledger and workflow failures. Callers match them with errors.Is; every
// operation returning one of these has left all state unchanged.
var (
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientFunds = errors.New("insufficient points")
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrForbidden         = errors.New("admin only")
)
