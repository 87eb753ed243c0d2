// Package users stores user accounts and implements the registration and
// login rules.
package users

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"theknife/pkg/apperrors"
	"theknife/pkg/catalog"
	"theknife/pkg/models"
	"theknife/pkg/token"
)

var (
	// ErrUserExists is returned when registering a username that is taken.
	ErrUserExists = errors.New("username already exists")
	// ErrInvalidCredentials is returned on login failure. It is the same
	// for an unknown user and a wrong password, deliberately.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Get returns the user with the given username, or nil when absent.
func (s *Store) Get(username string) (*models.User, error) {
	var user models.User
	err := s.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		log.Printf("Fetching user %s failed: %v", username, err)
		return nil, fmt.Errorf("%w: fetching user", apperrors.ErrPersistence)
	}
	return &user, nil
}

// Register creates a new account. The username must be free; the address is
// deduplicated the same way restaurant addresses are; the password is
// stored only as a bcrypt hash.
func (s *Store) Register(user models.User, password string) (models.User, error) {
	existing, err := s.Get(user.Username)
	if err != nil {
		return models.User{}, err
	}
	if existing != nil {
		return models.User{}, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
	}

	addr, err := catalog.ResolveAddress(s.db, user.Address)
	if err != nil {
		return models.User{}, err
	}

	hash, err := token.HashPassword(password)
	if err != nil {
		log.Printf("Hashing password for %s failed: %v", user.Username, err)
		return models.User{}, fmt.Errorf("%w: hashing password", apperrors.ErrPersistence)
	}

	user.HPassword = hash
	user.AddressID = addr.ID
	if err := s.db.Omit(clause.Associations).Create(&user).Error; err != nil {
		log.Printf("Inserting user %s failed: %v", user.Username, err)
		return models.User{}, fmt.Errorf("%w: inserting user", apperrors.ErrPersistence)
	}

	user.Address = addr
	return user, nil
}

// Authenticate checks the credentials and returns the matching user.
func (s *Store) Authenticate(username, password string) (*models.User, error) {
	user, err := s.Get(username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		log.Printf("Login attempt failed: user not found - %s", username)
		return nil, ErrInvalidCredentials
	}
	if !token.CheckPassword(password, user.HPassword) {
		log.Printf("Login attempt failed: wrong password for user - %s", username)
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
