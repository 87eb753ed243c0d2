package main

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gosqlite "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"theknife/pkg/breaker"
	"theknife/pkg/catalog"
	"theknife/pkg/models"
	"theknife/pkg/reviews"
	"theknife/pkg/users"
)

var registerMathDriver sync.Once

func setupTestServer(t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)

	registerMathDriver.Do(func() {
		sql.Register("sqlite3_math", &gosqlite.SQLiteDriver{
			ConnectHook: func(conn *gosqlite.SQLiteConn) error {
				if err := conn.RegisterFunc("ACOS", math.Acos, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("COS", math.Cos, true); err != nil {
					return err
				}
				if err := conn.RegisterFunc("SIN", math.Sin, true); err != nil {
					return err
				}
				return conn.RegisterFunc("RADIANS", func(deg float64) float64 {
					return deg * math.Pi / 180
				}, true)
			},
		})
	})

	testDB, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite3_math", DSN: ":memory:"}, &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	if err := testDB.AutoMigrate(
		&models.Address{}, &models.Restaurant{}, &models.Review{}, &models.Favorite{}, &models.User{},
	); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	db = testDB
	cat = catalog.New(testDB)
	ledger = reviews.New(testDB)
	accounts = users.New(testDB)
	searchBreaker = breaker.New(5, time.Minute)

	return setupRouter()
}

func performRequest(router *gin.Engine, method, path string, body interface{}, bearer string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func testAddress() map[string]interface{} {
	return map[string]interface{}{
		"country":     "Italy",
		"city":        "Varese",
		"street":      "Via Roma",
		"houseNumber": "1",
		"latitude":    0.0,
		"longitude":   0.0,
	}
}

func registerAndLogin(t *testing.T, router *gin.Engine, username, role string) string {
	w := performRequest(router, http.MethodPost, "/api/v1/users/register", map[string]interface{}{
		"username": username,
		"password": "secret",
		"name":     "Test",
		"surname":  "User",
		"role":     role,
		"address":  testAddress(),
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("Registration of %s failed with status %d: %s", username, w.Code, w.Body.String())
	}

	w = performRequest(router, http.MethodPost, "/api/v1/users/login", map[string]interface{}{
		"username": username,
		"password": "secret",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("Login of %s failed with status %d: %s", username, w.Code, w.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	return resp.Token
}

func createTestRestaurant(t *testing.T, router *gin.Engine, bearer, name string, lat float64) models.Restaurant {
	w := performRequest(router, http.MethodPost, "/api/v1/restaurants", map[string]interface{}{
		"name":     name,
		"avgPrice": 30.0,
		"delivery": true,
		"booking":  false,
		"cuisine":  "Italian",
		"address": map[string]interface{}{
			"country":     "Italy",
			"city":        "Varese",
			"street":      "Via Sacco",
			"houseNumber": name,
			"latitude":    lat,
			"longitude":   0.0,
		},
	}, bearer)
	if w.Code != http.StatusCreated {
		t.Fatalf("Creating restaurant %s failed with status %d: %s", name, w.Code, w.Body.String())
	}
	var r models.Restaurant
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("Failed to decode restaurant response: %v", err)
	}
	return r
}

func TestHealthEndpoint(t *testing.T) {
	router := setupTestServer(t)

	w := performRequest(router, http.MethodGet, "/manage/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "UP")
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	router := setupTestServer(t)

	registerAndLogin(t, router, "alice", models.RoleCustomer)

	w := performRequest(router, http.MethodPost, "/api/v1/users/register", map[string]interface{}{
		"username": "alice",
		"password": "other",
		"role":     models.RoleCustomer,
		"address":  testAddress(),
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	router := setupTestServer(t)

	registerAndLogin(t, router, "alice", models.RoleCustomer)

	w := performRequest(router, http.MethodPost, "/api/v1/users/login", map[string]interface{}{
		"username": "alice",
		"password": "wrong",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(router, http.MethodPost, "/api/v1/users/login", map[string]interface{}{
		"username": "nobody",
		"password": "secret",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := setupTestServer(t)

	w := performRequest(router, http.MethodGet, "/api/v1/restaurants/favorites", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = performRequest(router, http.MethodGet, "/api/v1/restaurants/favorites", nil, "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateRestaurantUsesCallerAsOwner(t *testing.T) {
	router := setupTestServer(t)
	bearer := registerAndLogin(t, router, "bob", models.RoleRestaurateur)

	created := createTestRestaurant(t, router, bearer, "Trattoria", 0.01)
	assert.Equal(t, "bob", created.Owner)
	assert.NotZero(t, created.ID)

	w := performRequest(router, http.MethodGet, "/api/v1/restaurants/owned", nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	var owned []models.Restaurant
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &owned))
	assert.Len(t, owned, 1)
	assert.Equal(t, "Trattoria", owned[0].Name)
}

func TestSearchValidation(t *testing.T) {
	router := setupTestServer(t)

	w := performRequest(router, http.MethodPost, "/api/v1/restaurants/search", map[string]interface{}{
		"cuisine": "Italian",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/api/v1/restaurants/search", map[string]interface{}{
		"latitude":  0.0,
		"longitude": 0.0,
		"cuisine":   "Martian",
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPost, "/api/v1/restaurants/search", map[string]interface{}{
		"latitude":  0.0,
		"longitude": 0.0,
		"minPrice":  50.0,
		"maxPrice":  10.0,
	}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchReturnsRankedResults(t *testing.T) {
	router := setupTestServer(t)
	bearer := registerAndLogin(t, router, "bob", models.RoleRestaurateur)

	createTestRestaurant(t, router, bearer, "Far", 0.45)
	createTestRestaurant(t, router, bearer, "Near", 0.009)

	w := performRequest(router, http.MethodPost, "/api/v1/restaurants/search", map[string]interface{}{
		"latitude":  0.0,
		"longitude": 0.0,
	}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	var result []models.Restaurant
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Len(t, result, 2)
	assert.Equal(t, "Near", result[0].Name)
	assert.Equal(t, "Far", result[1].Name)
	assert.InDelta(t, 1.0, result[0].Distance, 0.1)
}

func TestFavoriteFlow(t *testing.T) {
	router := setupTestServer(t)
	ownerBearer := registerAndLogin(t, router, "bob", models.RoleRestaurateur)
	bearer := registerAndLogin(t, router, "alice", models.RoleCustomer)

	r := createTestRestaurant(t, router, ownerBearer, "Trattoria", 0.01)
	path := "/api/v1/restaurants/" + itoa(r.ID) + "/favorite"

	w := performRequest(router, http.MethodPost, path, nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	// Adding again still succeeds.
	w = performRequest(router, http.MethodPost, path, nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, http.MethodGet, "/api/v1/restaurants/favorites", nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	var favorites []models.Restaurant
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &favorites))
	assert.Len(t, favorites, 1)

	w = performRequest(router, http.MethodDelete, path, nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	// Removing a non-member succeeds and changes nothing.
	w = performRequest(router, http.MethodDelete, path, nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, http.MethodPost, "/api/v1/restaurants/999/favorite", nil, bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReviewFlow(t *testing.T) {
	router := setupTestServer(t)
	ownerBearer := registerAndLogin(t, router, "bob", models.RoleRestaurateur)
	bearer := registerAndLogin(t, router, "alice", models.RoleCustomer)

	r := createTestRestaurant(t, router, ownerBearer, "Trattoria", 0.01)

	w := performRequest(router, http.MethodPut, "/api/v1/reviews", map[string]interface{}{
		"restaurantId": r.ID,
		"rating":       0,
	}, bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performRequest(router, http.MethodPut, "/api/v1/reviews", map[string]interface{}{
		"restaurantId": 999,
		"rating":       4,
	}, bearer)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = performRequest(router, http.MethodPut, "/api/v1/reviews", map[string]interface{}{
		"restaurantId": r.ID,
		"rating":       4,
		"comment":      "Solid",
	}, bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, http.MethodGet, "/api/v1/restaurants/"+itoa(r.ID)+"/reviews", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	var list []models.Review
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
	assert.Equal(t, "alice", list[0].Username)

	w = performRequest(router, http.MethodGet, "/api/v1/restaurants/reviewed", nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	var reviewed []models.Restaurant
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &reviewed))
	assert.Len(t, reviewed, 1)

	w = performRequest(router, http.MethodDelete, "/api/v1/restaurants/"+itoa(r.ID)+"/review", nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":true`)

	w = performRequest(router, http.MethodDelete, "/api/v1/restaurants/"+itoa(r.ID)+"/review", nil, bearer)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"deleted":false`)
}

func TestReplyFlow(t *testing.T) {
	router := setupTestServer(t)
	ownerBearer := registerAndLogin(t, router, "bob", models.RoleRestaurateur)
	otherBearer := registerAndLogin(t, router, "carol", models.RoleRestaurateur)
	bearer := registerAndLogin(t, router, "alice", models.RoleCustomer)

	r := createTestRestaurant(t, router, ownerBearer, "Trattoria", 0.01)

	w := performRequest(router, http.MethodPut, "/api/v1/reviews", map[string]interface{}{
		"restaurantId": r.ID,
		"rating":       3,
		"comment":      "Average",
	}, bearer)
	assert.Equal(t, http.StatusOK, w.Code)

	replyPath := "/api/v1/restaurants/" + itoa(r.ID) + "/reviews/alice/reply"

	w = performRequest(router, http.MethodPut, replyPath, map[string]interface{}{
		"reply": "Thanks for coming",
	}, otherBearer)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = performRequest(router, http.MethodPut, replyPath, map[string]interface{}{
		"reply": "Thanks for coming",
	}, ownerBearer)
	assert.Equal(t, http.StatusOK, w.Code)

	w = performRequest(router, http.MethodGet, "/api/v1/restaurants/"+itoa(r.ID)+"/reviews", nil, "")
	var list []models.Review
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 1)
	assert.NotNil(t, list[0].Reply)
	assert.Equal(t, "Thanks for coming", *list[0].Reply)
	assert.Equal(t, 3, list[0].Rating)

	w = performRequest(router, http.MethodPut, "/api/v1/restaurants/"+itoa(r.ID)+"/reviews/nobody/reply", map[string]interface{}{
		"reply": "Hello?",
	}, ownerBearer)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
