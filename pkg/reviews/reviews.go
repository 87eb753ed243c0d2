// Package reviews is the data access layer for restaurant reviews. The
// table enforces at most one review per (username, restaurant) pair; a
// second submission by the same user replaces the first.
package reviews

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"theknife/pkg/apperrors"
	"theknife/pkg/models"
)

type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// ListFor returns all reviews of a restaurant. Never nil.
func (l *Ledger) ListFor(restaurantID uint) ([]models.Review, error) {
	reviews := []models.Review{}
	if err := l.db.Where("restaurant_id = ?", restaurantID).Find(&reviews).Error; err != nil {
		log.Printf("Listing reviews for restaurant %d failed: %v", restaurantID, err)
		return nil, fmt.Errorf("%w: listing restaurant reviews", apperrors.ErrPersistence)
	}
	return reviews, nil
}

// ListByUser returns all reviews written by a user. Never nil.
func (l *Ledger) ListByUser(username string) ([]models.Review, error) {
	reviews := []models.Review{}
	if err := l.db.Where("username = ?", username).Find(&reviews).Error; err != nil {
		log.Printf("Listing reviews by %s failed: %v", username, err)
		return nil, fmt.Errorf("%w: listing user reviews", apperrors.ErrPersistence)
	}
	return reviews, nil
}

// Get returns the review identified by (username, restaurantID), or nil
// when no such review exists.
func (l *Ledger) Get(username string, restaurantID uint) (*models.Review, error) {
	var review models.Review
	err := l.db.Where("username = ? AND restaurant_id = ?", username, restaurantID).First(&review).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Printf("Fetching review (%s, %d) failed: %v", username, restaurantID, err)
		return nil, fmt.Errorf("%w: fetching review", apperrors.ErrPersistence)
	}
	return &review, nil
}

// Upsert inserts the review or, when the (username, restaurant) pair
// already has one, replaces rating, comment and reply together. The
// insert-on-conflict-update is a single statement, so two concurrent
// first-time reviewers cannot race into duplicate rows.
func (l *Ledger) Upsert(review models.Review) (bool, error) {
	res := l.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}, {Name: "restaurant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rating", "comment", "reply"}),
	}).Create(&review)
	if res.Error != nil {
		log.Printf("Upserting review (%s, %d) failed: %v", review.Username, review.RestaurantID, res.Error)
		return false, fmt.Errorf("%w: upserting review", apperrors.ErrPersistence)
	}
	return res.RowsAffected > 0, nil
}

// Delete removes the review identified by (username, restaurantID) and
// reports whether a row existed. Deleting a missing review is not an error.
func (l *Ledger) Delete(username string, restaurantID uint) (bool, error) {
	res := l.db.Where("username = ? AND restaurant_id = ?", username, restaurantID).Delete(&models.Review{})
	if res.Error != nil {
		log.Printf("Deleting review (%s, %d) failed: %v", username, restaurantID, res.Error)
		return false, fmt.Errorf("%w: deleting review", apperrors.ErrPersistence)
	}
	return res.RowsAffected > 0, nil
}
