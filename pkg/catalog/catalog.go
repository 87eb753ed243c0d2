// Package catalog is the data access layer for restaurants, their
// addresses and favorite memberships.
package catalog

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"theknife/pkg/apperrors"
	"theknife/pkg/criteria"
	"theknife/pkg/models"
	"theknife/pkg/query"
)

type Catalog struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Catalog {
	return &Catalog{db: db}
}

// searchRow is the flat projection produced by the ranked search query.
type searchRow struct {
	ID          uint
	Owner       string
	Name        string
	AvgPrice    float64
	Delivery    bool
	Booking     bool
	Cuisine     string
	AddressID   uint
	Country     string
	City        string
	Street      string
	HouseNumber string
	Latitude    float64
	Longitude   float64
	AvgRating   *float64
	RatingCount int
	Distance    float64
}

func (r searchRow) restaurant() models.Restaurant {
	return models.Restaurant{
		ID:        r.ID,
		Owner:     r.Owner,
		Name:      r.Name,
		AvgPrice:  r.AvgPrice,
		Delivery:  r.Delivery,
		Booking:   r.Booking,
		Cuisine:   r.Cuisine,
		AddressID: r.AddressID,
		Address: models.Address{
			ID:          r.AddressID,
			Country:     r.Country,
			City:        r.City,
			Street:      r.Street,
			HouseNumber: r.HouseNumber,
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
		},
		AvgRating:   r.AvgRating,
		RatingCount: r.RatingCount,
		Distance:    r.Distance,
	}
}

// Search returns the closest restaurants matching the criteria, ranked by
// distance from the origin. The result is never nil; no matches yield an
// empty slice.
func (c *Catalog) Search(crit criteria.Criteria) ([]models.Restaurant, error) {
	sqlQuery, args, err := query.BuildSearch(crit)
	if err != nil {
		return nil, err
	}

	var rows []searchRow
	if err := c.db.Raw(sqlQuery, args...).Scan(&rows).Error; err != nil {
		log.Printf("Search query failed: %v", err)
		return nil, fmt.Errorf("%w: executing search query", apperrors.ErrPersistence)
	}

	result := make([]models.Restaurant, 0, len(rows))
	for _, row := range rows {
		result = append(result, row.restaurant())
	}
	return result, nil
}

// Get returns a single restaurant with its address resolved.
func (c *Catalog) Get(restaurantID uint) (models.Restaurant, error) {
	var r models.Restaurant
	if err := c.db.First(&r, restaurantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Restaurant{}, fmt.Errorf("%w: restaurant %d", apperrors.ErrNotFound, restaurantID)
		}
		log.Printf("Fetching restaurant %d failed: %v", restaurantID, err)
		return models.Restaurant{}, fmt.Errorf("%w: fetching restaurant", apperrors.ErrPersistence)
	}

	hydrated, err := c.hydrate([]models.Restaurant{r})
	if err != nil {
		return models.Restaurant{}, err
	}
	if len(hydrated) == 0 {
		return models.Restaurant{}, fmt.Errorf("%w: address %d for restaurant %d", apperrors.ErrNotFound, r.AddressID, r.ID)
	}
	return hydrated[0], nil
}

// OwnedBy returns the restaurants owned by the given user.
func (c *Catalog) OwnedBy(username string) ([]models.Restaurant, error) {
	var restaurants []models.Restaurant
	if err := c.db.Where("owner = ?", username).Find(&restaurants).Error; err != nil {
		log.Printf("Listing owned restaurants for %s failed: %v", username, err)
		return nil, fmt.Errorf("%w: listing owned restaurants", apperrors.ErrPersistence)
	}
	return c.hydrate(restaurants)
}

// FavoritesOf returns the restaurants the given user has marked as
// favorite.
func (c *Catalog) FavoritesOf(username string) ([]models.Restaurant, error) {
	sub := c.db.Model(&models.Favorite{}).Select("restaurant_id").Where("username = ?", username)
	var restaurants []models.Restaurant
	if err := c.db.Where("id IN (?)", sub).Find(&restaurants).Error; err != nil {
		log.Printf("Listing favorite restaurants for %s failed: %v", username, err)
		return nil, fmt.Errorf("%w: listing favorite restaurants", apperrors.ErrPersistence)
	}
	return c.hydrate(restaurants)
}

// ReviewedBy returns the restaurants the given user has reviewed.
func (c *Catalog) ReviewedBy(username string) ([]models.Restaurant, error) {
	sub := c.db.Model(&models.Review{}).Select("restaurant_id").Where("username = ?", username)
	var restaurants []models.Restaurant
	if err := c.db.Where("id IN (?)", sub).Find(&restaurants).Error; err != nil {
		log.Printf("Listing reviewed restaurants for %s failed: %v", username, err)
		return nil, fmt.Errorf("%w: listing reviewed restaurants", apperrors.ErrPersistence)
	}
	return c.hydrate(restaurants)
}

// AddFavorite records a favorite membership. Adding a pair that already
// exists is a no-op that still succeeds.
func (c *Catalog) AddFavorite(username string, restaurantID uint) error {
	if err := c.ensureRestaurant(restaurantID); err != nil {
		return err
	}
	fav := models.Favorite{Username: username, RestaurantID: restaurantID}
	if err := c.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fav).Error; err != nil {
		log.Printf("Adding favorite (%s, %d) failed: %v", username, restaurantID, err)
		return fmt.Errorf("%w: adding favorite", apperrors.ErrPersistence)
	}
	return nil
}

// RemoveFavorite deletes a favorite membership. Removing a pair that was
// never a member succeeds and changes nothing.
func (c *Catalog) RemoveFavorite(username string, restaurantID uint) error {
	res := c.db.Where("username = ? AND restaurant_id = ?", username, restaurantID).Delete(&models.Favorite{})
	if res.Error != nil {
		log.Printf("Removing favorite (%s, %d) failed: %v", username, restaurantID, res.Error)
		return fmt.Errorf("%w: removing favorite", apperrors.ErrPersistence)
	}
	return nil
}

// Create persists a new restaurant. The embedded address is deduplicated on
// its full tuple; the store assigns the restaurant id.
func (c *Catalog) Create(r models.Restaurant) (models.Restaurant, error) {
	addr, err := ResolveAddress(c.db, r.Address)
	if err != nil {
		return models.Restaurant{}, err
	}

	r.ID = 0
	r.AddressID = addr.ID
	if err := c.db.Omit(clause.Associations).Create(&r).Error; err != nil {
		log.Printf("Inserting restaurant %q failed: %v", r.Name, err)
		return models.Restaurant{}, fmt.Errorf("%w: inserting restaurant", apperrors.ErrPersistence)
	}

	r.Address = addr
	r.AvgRating = nil
	r.RatingCount = 0
	return r, nil
}

// ResolveAddress returns the stored address matching the full
// (country, city, street, house number, coordinates) tuple, inserting a new
// row only when no identical address exists.
func ResolveAddress(db *gorm.DB, a models.Address) (models.Address, error) {
	var existing models.Address
	err := db.Where(
		"country = ? AND city = ? AND street = ? AND house_number = ? AND latitude = ? AND longitude = ?",
		a.Country, a.City, a.Street, a.HouseNumber, a.Latitude, a.Longitude,
	).First(&existing).Error
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("Address lookup failed: %v", err)
		return models.Address{}, fmt.Errorf("%w: resolving address", apperrors.ErrPersistence)
	}

	a.ID = 0
	if err := db.Create(&a).Error; err != nil {
		log.Printf("Address insert failed: %v", err)
		return models.Address{}, fmt.Errorf("%w: inserting address", apperrors.ErrPersistence)
	}
	return a, nil
}

// hydrate resolves addresses and rating aggregates for membership listings.
// A restaurant whose address cannot be resolved is dropped with a warning
// instead of failing the whole call; the drop count is logged.
func (c *Catalog) hydrate(restaurants []models.Restaurant) ([]models.Restaurant, error) {
	result := make([]models.Restaurant, 0, len(restaurants))
	dropped := 0
	for _, r := range restaurants {
		var addr models.Address
		if err := c.db.First(&addr, r.AddressID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("Warning: dropping restaurant %d, address %d not found", r.ID, r.AddressID)
				dropped++
				continue
			}
			log.Printf("Address fetch for restaurant %d failed: %v", r.ID, err)
			return nil, fmt.Errorf("%w: resolving restaurant address", apperrors.ErrPersistence)
		}

		avgRating, count, err := c.ratingSummary(r.ID)
		if err != nil {
			return nil, err
		}

		r.Address = addr
		r.AvgRating = avgRating
		r.RatingCount = count
		r.Distance = 0
		result = append(result, r)
	}
	if dropped > 0 {
		log.Printf("Warning: dropped %d restaurant(s) with unresolvable addresses", dropped)
	}
	return result, nil
}

func (c *Catalog) ratingSummary(restaurantID uint) (*float64, int, error) {
	var row struct {
		AvgRating   *float64
		RatingCount int
	}
	err := c.db.Model(&models.Review{}).
		Select("AVG(rating) AS avg_rating, COUNT(*) AS rating_count").
		Where("restaurant_id = ?", restaurantID).
		Scan(&row).Error
	if err != nil {
		log.Printf("Rating summary for restaurant %d failed: %v", restaurantID, err)
		return nil, 0, fmt.Errorf("%w: computing rating summary", apperrors.ErrPersistence)
	}
	return row.AvgRating, row.RatingCount, nil
}

func (c *Catalog) ensureRestaurant(restaurantID uint) error {
	var r models.Restaurant
	err := c.db.Select("id").First(&r, restaurantID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: restaurant %d", apperrors.ErrNotFound, restaurantID)
	}
	if err != nil {
		log.Printf("Restaurant existence check for %d failed: %v", restaurantID, err)
		return fmt.Errorf("%w: checking restaurant", apperrors.ErrPersistence)
	}
	return nil
}
