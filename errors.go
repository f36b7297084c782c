package keepsake

import (
	"errors"
	"fmt"
)

// Sentinel errors form the failure taxonomy the router maps onto HTTP
// statuses. Handlers and stores return these (possibly wrapped); nothing
// else leaks into response bodies.
var (
	// ErrNotFound is returned when a requested image does not exist.
	ErrNotFound = errors.New("image not found")

	// ErrInvalidCredentials is returned for any failed login, without
	// distinguishing wrong from malformed input.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenExpired is returned when a token's validity window has passed.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned for every other token verification failure.
	ErrTokenInvalid = errors.New("token is not valid")

	// ErrConnection is returned when the database handle cannot be
	// established or revived. The caller surfaces it as a 500 and the next
	// invocation retries by re-entering Ensure.
	ErrConnection = errors.New("database connection failed")
)

// ValidationError rejects a write whose fields violate a record constraint.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
