package storage

import "errors"

// Sentinel errors shared across storage methods.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrCreditsExhausted is returned by ConsumeTrialCredit when the
	// conditional increment matched no row: every trial credit is spent.
	ErrCreditsExhausted = errors.New("storage: trial credits exhausted")
)
