package users

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/propertyhub/backend/internal/auth"
	"gorm.io/gorm"
)

var (
	// ErrInvalidIdentity indicates the claims did not contain a usable identifier or role.
	ErrInvalidIdentity = errors.New("users: invalid identity")
	// ErrUserNotFound indicates that no user exists for the identifier.
	ErrUserNotFound = errors.New("users: user not found")
)

const lastSeenRefreshInterval = 5 * time.Minute

// ServiceConfig describes the dependencies required for user resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service maps session claims onto persisted users.
type Service struct {
	db    *gorm.DB
	now   func() time.Time
	cache sync.Map
}

// NewService constructs the user directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:    cfg.Database,
		now:   clock,
		cache: sync.Map{},
	}, nil
}

// Resolve returns the user for the provided session claims, creating the record
// on first sight and refreshing profile fields when the claims changed.
func (s *Service) Resolve(ctx context.Context, claims auth.SessionClaims) (User, error) {
	userID := claims.CanonicalUserID()
	role, ok := ParseRole(claims.UserRole)
	if userID == "" || !ok {
		return User{}, ErrInvalidIdentity
	}

	incoming := User{
		ID:          userID,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		Role:        role,
	}

	if cached, ok := s.cache.Load(userID); ok {
		if user, ok := cached.(User); ok && sameProfile(user, incoming) && s.now().Sub(user.LastSeenAt) < lastSeenRefreshInterval {
			return user, nil
		}
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user = incoming
		user.LastSeenAt = s.now()
		if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
			return User{}, err
		}
	case err != nil:
		return User{}, err
	default:
		updates := map[string]interface{}{"last_seen_at": s.now()}
		if incoming.Email != "" && incoming.Email != user.Email {
			updates["email"] = incoming.Email
			user.Email = incoming.Email
		}
		if incoming.DisplayName != "" && incoming.DisplayName != user.DisplayName {
			updates["display_name"] = incoming.DisplayName
			user.DisplayName = incoming.DisplayName
		}
		if incoming.Role != user.Role {
			updates["role"] = incoming.Role
			user.Role = incoming.Role
		}
		if err := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			return User{}, err
		}
		user.LastSeenAt = s.now()
	}

	s.cache.Store(userID, user)
	return user, nil
}

// Get loads a user by identifier.
func (s *Service) Get(ctx context.Context, userID string) (User, error) {
	id := normalize(userID)
	if id == "" {
		return User{}, ErrUserNotFound
	}
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// RoleOf returns the stored role of a user.
func (s *Service) RoleOf(ctx context.Context, userID string) (Role, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return user.Role, nil
}

func sameProfile(a, b User) bool {
	return a.Role == b.Role &&
		(b.Email == "" || a.Email == b.Email) &&
		(b.DisplayName == "" || a.DisplayName == b.DisplayName)
}
