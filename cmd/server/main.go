package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"gorm.io/gorm"

	"theknife/pkg/apperrors"
	"theknife/pkg/breaker"
	"theknife/pkg/catalog"
	"theknife/pkg/criteria"
	"theknife/pkg/database"
	"theknife/pkg/models"
	"theknife/pkg/reviews"
	"theknife/pkg/token"
	"theknife/pkg/users"
)

var (
	db            *gorm.DB
	cat           *catalog.Catalog
	ledger        *reviews.Ledger
	accounts      *users.Store
	searchBreaker *breaker.Breaker
)

func main() {
	log.Println("Starting TheKnife server...")

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	var err error
	db, err = database.Init()
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	cat = catalog.New(db)
	ledger = reviews.New(db)
	accounts = users.New(db)
	searchBreaker = breaker.New(5, 30*time.Second)

	router := setupRouter()

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Length", "Authorization"},
		AllowCredentials: false,
	}).Handler(router)

	port := getEnv("PORT", "8080")
	log.Printf("TheKnife server starting on :%s", port)
	if err := http.ListenAndServe(":"+port, corsHandler); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func setupRouter() *gin.Engine {
	router := gin.Default()

	router.POST("/api/v1/users/register", registerUser)
	router.POST("/api/v1/users/login", loginUser)
	router.POST("/api/v1/restaurants/search", searchRestaurants)
	router.GET("/api/v1/restaurants/:restaurantId/reviews", getRestaurantReviews)

	auth := router.Group("/api/v1", token.AuthRequired())
	auth.GET("/restaurants/favorites", getFavoriteRestaurants)
	auth.GET("/restaurants/owned", getOwnedRestaurants)
	auth.GET("/restaurants/reviewed", getReviewedRestaurants)
	auth.POST("/restaurants", createRestaurant)
	auth.POST("/restaurants/:restaurantId/favorite", addFavoriteRestaurant)
	auth.DELETE("/restaurants/:restaurantId/favorite", removeFavoriteRestaurant)
	auth.PUT("/reviews", createOrUpdateReview)
	auth.GET("/reviews/mine", getUserReviews)
	auth.DELETE("/restaurants/:restaurantId/review", deleteReview)
	auth.PUT("/restaurants/:restaurantId/reviews/:username/reply", replyToReview)

	router.GET("/manage/health", healthCheck)

	return router
}

type addressRequest struct {
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Street      string  `json:"street"`
	HouseNumber string  `json:"houseNumber"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

func (a addressRequest) validate() string {
	if a.Country == "" || a.City == "" || a.Street == "" {
		return "address requires country, city and street"
	}
	if a.Latitude < -90 || a.Latitude > 90 {
		return "latitude must be within [-90, 90]"
	}
	if a.Longitude < -180 || a.Longitude > 180 {
		return "longitude must be within [-180, 180]"
	}
	return ""
}

func (a addressRequest) model() models.Address {
	return models.Address{
		Country:     a.Country,
		City:        a.City,
		Street:      a.Street,
		HouseNumber: a.HouseNumber,
		Latitude:    a.Latitude,
		Longitude:   a.Longitude,
	}
}

type searchRequest struct {
	Latitude               *float64 `json:"latitude"`
	Longitude              *float64 `json:"longitude"`
	Cuisine                *string  `json:"cuisine"`
	MinPrice               *float64 `json:"minPrice"`
	MaxPrice               *float64 `json:"maxPrice"`
	DeliveryAvailable      *bool    `json:"deliveryAvailable"`
	OnlineBookingAvailable *bool    `json:"onlineBookingAvailable"`
	MinRating              *int     `json:"minRating"`
}

func searchRestaurants(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed search request"})
		return
	}

	crit := criteria.Criteria{
		Latitude:               req.Latitude,
		Longitude:              req.Longitude,
		MinPrice:               req.MinPrice,
		MaxPrice:               req.MaxPrice,
		DeliveryAvailable:      req.DeliveryAvailable,
		OnlineBookingAvailable: req.OnlineBookingAvailable,
		MinRating:              req.MinRating,
	}
	if req.Cuisine != nil {
		cuisine, err := criteria.ParseCuisineType(*req.Cuisine)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		crit.Cuisine = &cuisine
	}

	built, err := crit.Build()
	if err != nil {
		respondError(c, err)
		return
	}

	var result []models.Restaurant
	err = searchBreaker.Do(func() error {
		var searchErr error
		result, searchErr = cat.Search(built)
		return searchErr
	})
	if errors.Is(err, breaker.ErrOpen) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search temporarily unavailable"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getFavoriteRestaurants(c *gin.Context) {
	result, err := cat.FavoritesOf(callerIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getOwnedRestaurants(c *gin.Context) {
	result, err := cat.OwnedBy(callerIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func getReviewedRestaurants(c *gin.Context) {
	result, err := cat.ReviewedBy(callerIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func addFavoriteRestaurant(c *gin.Context) {
	restaurantID, ok := restaurantParam(c)
	if !ok {
		return
	}
	if err := cat.AddFavorite(callerIdentity(c), restaurantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func removeFavoriteRestaurant(c *gin.Context) {
	restaurantID, ok := restaurantParam(c)
	if !ok {
		return
	}
	if err := cat.RemoveFavorite(callerIdentity(c), restaurantID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type restaurantRequest struct {
	Name     string         `json:"name"`
	AvgPrice float64        `json:"avgPrice"`
	Delivery bool           `json:"delivery"`
	Booking  bool           `json:"booking"`
	Cuisine  string         `json:"cuisine"`
	Address  addressRequest `json:"address"`
}

func createRestaurant(c *gin.Context) {
	var req restaurantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed restaurant"})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if req.AvgPrice < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "avgPrice must not be negative"})
		return
	}
	cuisine, err := criteria.ParseCuisineType(req.Cuisine)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if msg := req.Address.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	// The owner is always the authenticated caller; an owner field in the
	// request body is not trusted.
	restaurant := models.Restaurant{
		Owner:    callerIdentity(c),
		Name:     req.Name,
		AvgPrice: req.AvgPrice,
		Delivery: req.Delivery,
		Booking:  req.Booking,
		Cuisine:  string(cuisine),
		Address:  req.Address.model(),
	}
	created, err := cat.Create(restaurant)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func getRestaurantReviews(c *gin.Context) {
	restaurantID, ok := restaurantParam(c)
	if !ok {
		return
	}
	result, err := ledger.ListFor(restaurantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type reviewRequest struct {
	RestaurantID uint    `json:"restaurantId"`
	Rating       int     `json:"rating"`
	Comment      *string `json:"comment"`
}

func createOrUpdateReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed review"})
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be within [1, 5]"})
		return
	}
	if _, err := cat.Get(req.RestaurantID); err != nil {
		respondError(c, err)
		return
	}

	// A resubmission replaces the whole row, including any owner reply.
	review := models.Review{
		Username:     callerIdentity(c),
		RestaurantID: req.RestaurantID,
		Rating:       req.Rating,
		Comment:      req.Comment,
	}
	ok, err := ledger.Upsert(review)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func getUserReviews(c *gin.Context) {
	result, err := ledger.ListByUser(callerIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func deleteReview(c *gin.Context) {
	restaurantID, ok := restaurantParam(c)
	if !ok {
		return
	}
	deleted, err := ledger.Delete(callerIdentity(c), restaurantID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type replyRequest struct {
	Reply string `json:"reply"`
}

func replyToReview(c *gin.Context) {
	restaurantID, ok := restaurantParam(c)
	if !ok {
		return
	}
	reviewer := c.Param("username")

	var req replyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Reply == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reply text is required"})
		return
	}

	restaurant, err := cat.Get(restaurantID)
	if err != nil {
		respondError(c, err)
		return
	}
	if restaurant.Owner != callerIdentity(c) {
		respondError(c, apperrors.ErrPermissionDenied)
		return
	}

	existing, err := ledger.Get(reviewer, restaurantID)
	if err != nil {
		respondError(c, err)
		return
	}
	if existing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
		return
	}

	// Read-merge-upsert keeps the whole row as the single source of truth.
	// A reviewer editing their review at the same instant can overwrite
	// this reply; reviewer and owner are different principals, so the
	// window is accepted.
	existing.Reply = &req.Reply
	ok, err = ledger.Upsert(*existing)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

type registerRequest struct {
	Username  string         `json:"username"`
	Password  string         `json:"password"`
	Name      string         `json:"name"`
	Surname   string         `json:"surname"`
	BirthDate *string        `json:"birthDate"`
	Role      string         `json:"role"`
	Address   addressRequest `json:"address"`
}

func registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed registration"})
		return
	}
	if req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "username and password are required"})
		return
	}
	role := req.Role
	if role == "" {
		role = models.RoleCustomer
	}
	if role != models.RoleCustomer && role != models.RoleRestaurateur {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}
	if msg := req.Address.validate(); msg != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	user := models.User{
		Username: req.Username,
		Name:     req.Name,
		Surname:  req.Surname,
		Role:     role,
		Address:  req.Address.model(),
	}
	if req.BirthDate != nil {
		birthDate, err := time.Parse("2006-01-02", *req.BirthDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "birthDate must use format YYYY-MM-DD"})
			return
		}
		user.BirthDate = &birthDate
	}

	created, err := accounts.Register(user, req.Password)
	if errors.Is(err, users.ErrUserExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "username already exists"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func loginUser(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed login"})
		return
	}

	user, err := accounts.Authenticate(req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	signed, err := token.Issue(user.Username)
	if err != nil {
		log.Printf("Issuing token for %s failed: %v", user.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": signed, "user": user})
}

func healthCheck(c *gin.Context) {
	sqlDB, err := db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database connection failed",
			"error":   err.Error(),
		})
		return
	}
	if err := sqlDB.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"details": "Database ping failed",
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "UP"})
}

// respondError maps the error taxonomy onto HTTP statuses. A failed search
// or listing is a 5xx, never an empty 200.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperrors.ErrMissingCoordinates),
		errors.Is(err, apperrors.ErrInvalidRange),
		errors.Is(err, apperrors.ErrInvalidCriteria):
		status = http.StatusBadRequest
	case errors.Is(err, apperrors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, apperrors.ErrPermissionDenied):
		status = http.StatusForbidden
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func callerIdentity(c *gin.Context) string {
	return c.GetString(token.IdentityKey)
}

func restaurantParam(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("restaurantId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid restaurant id"})
		return 0, false
	}
	return uint(id), true
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}
