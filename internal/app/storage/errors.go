package storage

import "errors"

// ErrDuplicate reports a uniqueness violation (phone number or referral code).
var ErrDuplicate = errors.New("storage: duplicate row")

// ErrNegativeBalance reports a rejected adjustment that would drive a token
// balance below zero. The schema enforces the same constraint in postgres.
var ErrNegativeBalance = errors.New("storage: balance would go negative")
