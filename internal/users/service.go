package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the request did not contain a usable username or email.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrNotFound indicates no user exists for the given identifier.
	ErrNotFound = errors.New("users: not found")
)

// IDProvider issues identifiers for newly created users.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for user resolution.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
}

// Service manages collaborator identities.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		now:        clock,
	}, nil
}

// CreateOrGet returns the user registered under the email, creating one when
// the email has not been seen before. The email is the identity key; an
// existing user keeps its stored username even when the request differs.
func (s *Service) CreateOrGet(ctx context.Context, username, email string) (User, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)
	if username == "" || email == "" {
		return User{}, ErrInvalidIdentity
	}

	var user User
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, err
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return User{}, err
	}
	user = User{
		ID:       id,
		Username: username,
		Email:    email,
		Color:    DefaultColor,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return User{}, err
	}
	return user, nil
}

// GetByID returns the stored user for the identifier.
func (s *Service) GetByID(ctx context.Context, id string) (User, error) {
	if strings.TrimSpace(id) == "" {
		return User{}, ErrInvalidIdentity
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}
