// Package apperrors defines the closed error taxonomy exposed by the
// service layer. DAO and driver errors are wrapped into one of these
// sentinels before they cross the facade.
package apperrors

import "errors"

var (
	// ErrMissingCoordinates is returned when search criteria are built
	// without an origin coordinate.
	ErrMissingCoordinates = errors.New("missing coordinates")

	// ErrInvalidRange is returned for contradictory bounds, e.g. a price
	// range with max below min.
	ErrInvalidRange = errors.New("invalid range")

	// ErrInvalidCriteria is returned when a query is requested from
	// criteria that never passed validation. Caller error, never retried.
	ErrInvalidCriteria = errors.New("invalid search criteria")

	// ErrNotFound is returned when a referenced restaurant, address or
	// review is absent where presence was required.
	ErrNotFound = errors.New("not found")

	// ErrPersistence wraps store connectivity or statement failures.
	ErrPersistence = errors.New("persistence error")

	// ErrPermissionDenied is returned on ownership violations, e.g.
	// replying to a review on a restaurant the caller does not own.
	ErrPermissionDenied = errors.New("permission denied")
)
