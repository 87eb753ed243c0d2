package models

import (
	"time"
)

type Address struct {
	ID          uint    `gorm:"primaryKey" json:"-"`
	Country     string  `gorm:"size:80;not null" json:"country"`
	City        string  `gorm:"size:80;not null" json:"city"`
	Street      string  `gorm:"size:120;not null" json:"street"`
	HouseNumber string  `gorm:"size:20" json:"houseNumber"`
	Latitude    float64 `gorm:"not null" json:"latitude"`
	Longitude   float64 `gorm:"not null" json:"longitude"`
}

type Restaurant struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Owner     string    `gorm:"size:80;not null;index" json:"owner"`
	Name      string    `gorm:"size:120;not null" json:"name"`
	AvgPrice  float64   `gorm:"not null" json:"avgPrice"`
	Delivery  bool      `gorm:"not null" json:"delivery"`
	Booking   bool      `gorm:"not null" json:"booking"`
	Cuisine   string    `gorm:"size:40;not null" json:"cuisine"`
	AddressID uint      `gorm:"not null" json:"-"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`

	Address Address `gorm:"foreignKey:AddressID" json:"address"`

	// Derived from the review set, never stored on the restaurant row.
	AvgRating   *float64 `gorm:"-" json:"avgRating"`
	RatingCount int      `gorm:"-" json:"ratingCount"`
	// Distance is only meaningful for search results; membership listings
	// report a fixed 0.
	Distance float64 `gorm:"-" json:"distance"`
}

type Review struct {
	Username     string  `gorm:"size:80;primaryKey" json:"username"`
	RestaurantID uint    `gorm:"primaryKey;autoIncrement:false" json:"restaurantId"`
	Rating       int     `gorm:"not null;check:rating >= 1 AND rating <= 5" json:"rating"`
	Comment      *string `gorm:"size:2000" json:"comment"`
	Reply        *string `gorm:"size:2000" json:"reply"`
}

type Favorite struct {
	Username     string `gorm:"size:80;primaryKey" json:"username"`
	RestaurantID uint   `gorm:"primaryKey;autoIncrement:false" json:"restaurantId"`
}

type User struct {
	Username  string     `gorm:"size:80;primaryKey" json:"username"`
	HPassword string     `gorm:"column:h_password;not null" json:"-"`
	Name      string     `gorm:"size:80" json:"name"`
	Surname   string     `gorm:"size:80" json:"surname"`
	BirthDate *time.Time `json:"birthDate"`
	Role      string     `gorm:"size:20;not null" json:"role"`
	AddressID uint       `json:"-"`
	CreatedAt time.Time  `json:"-"`
	UpdatedAt time.Time  `json:"-"`

	Address Address `gorm:"foreignKey:AddressID" json:"address"`
}

const (
	RoleCustomer     = "CUSTOMER"
	RoleRestaurateur = "RESTAURATEUR"
)
