// Package criteria models a single restaurant search request: a mandatory
// origin coordinate plus a bundle of optional filters. A nil field means
// "don't care", not "false".
package criteria

import (
	"fmt"

	"theknife/pkg/apperrors"
)

// Criteria collects the raw search parameters. Fill in the fields and call
// Build to obtain a validated snapshot; a Criteria that never went through
// Build must not be handed to the query builder.
type Criteria struct {
	Latitude  *float64
	Longitude *float64

	Cuisine                *CuisineType
	MinPrice               *float64
	MaxPrice               *float64
	DeliveryAvailable      *bool
	OnlineBookingAvailable *bool
	MinRating              *int
}

// Build validates the criteria and returns an immutable snapshot.
//
// Rules:
//   - the origin coordinate is mandatory, both latitude and longitude;
//   - when both price bounds are set, max must not be below min;
//   - negative price bounds are rejected;
//   - a MinRating outside [1,5] is silently dropped, not rejected;
//     callers depend on the lenient behavior.
func (c Criteria) Build() (Criteria, error) {
	if c.Latitude == nil || c.Longitude == nil {
		return Criteria{}, fmt.Errorf("%w: latitude and longitude are mandatory", apperrors.ErrMissingCoordinates)
	}
	if c.MinPrice != nil && *c.MinPrice < 0 {
		return Criteria{}, fmt.Errorf("%w: negative minimum price", apperrors.ErrInvalidRange)
	}
	if c.MaxPrice != nil && *c.MaxPrice < 0 {
		return Criteria{}, fmt.Errorf("%w: negative maximum price", apperrors.ErrInvalidRange)
	}
	if c.MinPrice != nil && c.MaxPrice != nil && *c.MaxPrice < *c.MinPrice {
		return Criteria{}, fmt.Errorf("%w: maximum price %v is below minimum price %v",
			apperrors.ErrInvalidRange, *c.MaxPrice, *c.MinPrice)
	}

	built := c
	if built.MinRating != nil && (*built.MinRating < 1 || *built.MinRating > 5) {
		built.MinRating = nil
	}
	return built, nil
}

// HasCoordinates reports whether the origin is fully populated.
func (c Criteria) HasCoordinates() bool {
	return c.Latitude != nil && c.Longitude != nil
}
