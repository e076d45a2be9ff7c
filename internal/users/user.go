package users

import (
	"strings"
	"time"
)

// Role enumerates the personas allowed to use the API.
type Role string

const (
	RolePropertyManager Role = "PROPERTY_MANAGER"
	RoleOwner           Role = "OWNER"
	RoleTenant          Role = "TENANT"
	RoleTechnician      Role = "TECHNICIAN"
)

// ParseRole normalizes a textual role, reporting whether it is known.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToUpper(strings.TrimSpace(raw)))
	switch role {
	case RolePropertyManager, RoleOwner, RoleTenant, RoleTechnician:
		return role, true
	default:
		return "", false
	}
}

// User is the persisted account record derived from session claims.
type User struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null"`
	Email       string    `gorm:"column:email;size:320"`
	DisplayName string    `gorm:"column:display_name;size:320"`
	Role        Role      `gorm:"column:role;size:32;not null;index"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing users.
func (User) TableName() string {
	return "users"
}

// Is reports whether the user carries the given role.
func (u User) Is(role Role) bool {
	return u.Role == role
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
