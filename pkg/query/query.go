// Package query translates validated search criteria into the
// distance-ranked restaurant query. Predicates are appended only when the
// corresponding criterion is present, and bind values travel with their
// clause fragments so the positional order can never drift.
package query

import (
	"fmt"
	"strings"

	"theknife/pkg/apperrors"
	"theknife/pkg/criteria"
)

// MaxResults is the fixed cap on search results. No pagination.
const MaxResults = 10

const selectClause = "SELECT restaurants.id, restaurants.owner, restaurants.name, " +
	"restaurants.avg_price, restaurants.delivery, restaurants.booking, " +
	"restaurants.cuisine, restaurants.address_id, " +
	"addresses.country, addresses.city, addresses.street, addresses.house_number, " +
	"addresses.latitude, addresses.longitude, " +
	"(SELECT AVG(rating) FROM reviews WHERE reviews.restaurant_id = restaurants.id) AS avg_rating, " +
	"(SELECT COUNT(*) FROM reviews WHERE reviews.restaurant_id = restaurants.id) AS rating_count, "

// Haversine distance from the origin, in kilometers. The origin latitude is
// referenced by two trigonometric terms, so it binds twice.
const distanceClause = "(6371 * ACOS(" +
	"COS(RADIANS(?)) * COS(RADIANS(addresses.latitude)) * " +
	"COS(RADIANS(addresses.longitude) - RADIANS(?)) + " +
	"SIN(RADIANS(?)) * SIN(RADIANS(addresses.latitude))" +
	")) AS distance "

const fromClause = "FROM restaurants JOIN addresses ON addresses.id = restaurants.address_id "

// Predicates is an ordered list of (clause fragment, bound value) pairs
// joined with AND. Appending fragment and value together keeps the
// "only reference present criteria" rule in one place.
type Predicates struct {
	clauses []string
	args    []interface{}
}

// Add appends one conjunct and its bind value.
func (p *Predicates) Add(clause string, arg interface{}) {
	p.clauses = append(p.clauses, clause)
	p.args = append(p.args, arg)
}

// Clause renders the WHERE clause, or an empty string when no predicate
// was appended.
func (p *Predicates) Clause() string {
	if len(p.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(p.clauses, " AND ") + " "
}

// Args returns the bind values in append order.
func (p *Predicates) Args() []interface{} {
	return p.args
}

// Len returns the number of appended predicates.
func (p *Predicates) Len() int {
	return len(p.clauses)
}

// BuildSearch produces the ranked search query and its bind values for the
// given criteria. The first three values are always the origin coordinates
// feeding the distance expression (latitude, longitude, latitude), followed
// by one value per appended predicate in fixed order: cuisine, minPrice,
// maxPrice, delivery, booking, minRating.
//
// Criteria without an origin are rejected before any store interaction.
func BuildSearch(c criteria.Criteria) (string, []interface{}, error) {
	if !c.HasCoordinates() {
		return "", nil, fmt.Errorf("%w: origin coordinate not set", apperrors.ErrInvalidCriteria)
	}

	args := []interface{}{*c.Latitude, *c.Longitude, *c.Latitude}

	var preds Predicates
	if c.Cuisine != nil {
		preds.Add("restaurants.cuisine = ?", string(*c.Cuisine))
	}
	if c.MinPrice != nil {
		preds.Add("restaurants.avg_price >= ?", *c.MinPrice)
	}
	if c.MaxPrice != nil {
		preds.Add("restaurants.avg_price <= ?", *c.MaxPrice)
	}
	if c.DeliveryAvailable != nil {
		preds.Add("restaurants.delivery = ?", *c.DeliveryAvailable)
	}
	if c.OnlineBookingAvailable != nil {
		preds.Add("restaurants.booking = ?", *c.OnlineBookingAvailable)
	}
	if c.MinRating != nil {
		// Restaurants with zero reviews have a NULL average and never
		// match a minimum rating filter.
		preds.Add("(SELECT AVG(rating) FROM reviews WHERE reviews.restaurant_id = restaurants.id) >= ?", *c.MinRating)
	}

	sql := selectClause + distanceClause + fromClause + preds.Clause() +
		fmt.Sprintf("ORDER BY distance ASC LIMIT %d", MaxResults)

	return sql, append(args, preds.Args()...), nil
}
