package domain

import "errors"

// Errors shared across the domain packages. Handlers wrap ErrConflict when a
// business rule rejects an operation that a retry could never make succeed,
// such as registering an email that is already taken. The consumer records
// those in the idempotency ledger instead of scheduling a redelivery.
var (
	ErrConflict = errors.New("business conflict")
	ErrNotFound = errors.New("not found")
)
