package service

import "errors"

// Failure taxonomy. Every failure is classified and returned to the caller;
// the subsystem performs no silent recovery and no internal retries beyond
// the store clients' own.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoneIssued      = errors.New("no code issued")
	ErrExpired         = errors.New("code expired")
	ErrWrongCode       = errors.New("wrong code")
	ErrAlreadyConsumed = errors.New("code already consumed")
	ErrGuardViolation  = errors.New("tier guard violation")
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrTooManyAttempts = errors.New("too many attempts")

	// ErrPhoneValidationRequired steers a client without a verified phone
	// into the phone-validation flow instead of reporting a guard breach.
	ErrPhoneValidationRequired = errors.New("phone validation required")

	ErrStoreUnavailable = errors.New("store unavailable")
)
