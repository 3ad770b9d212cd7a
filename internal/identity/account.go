package identity

import (
	"strings"
	"time"
)

// Role names accepted on accounts.
const (
	RoleAdmin        = "admin"
	RoleUser         = "user"
	RoleUserSourcing = "user_sourcing"
	RoleUser7Options = "user_7options"
)

// Account is the login record for one subject. PasswordHash never leaves the package in JSON.
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:36;not null" json:"id"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Username     string    `gorm:"column:username;size:190;not null;uniqueIndex" json:"username"`
	Name         string    `gorm:"column:name;size:320" json:"name"`
	Role         string    `gorm:"column:role;size:64;not null" json:"role"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Active       bool      `gorm:"column:active;not null;default:false" json:"active"`
	Disabled     bool      `gorm:"column:disabled;not null;default:false" json:"disabled"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

// TableName exposes the table backing accounts.
func (Account) TableName() string {
	return "accounts"
}

// IsAdmin reports whether the account carries the admin role.
func (a Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Pending reports whether the account was invited and never activated.
// Accounts deactivated by an administrator are Disabled, not Pending.
func (a Account) Pending() bool {
	return !a.Active && !a.Disabled
}

// Metadata is the profile data supplied when an account is provisioned.
type Metadata struct {
	Name     string
	Username string
	Role     string
}

// ProfileUpdate lists the administrator-editable profile fields. Nil fields are kept.
type ProfileUpdate struct {
	Name     *string
	Username *string
	Role     *string
}

// Session is the result of a successful authentication.
type Session struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type"`
	ExpiresIn   int64   `json:"expires_in"`
	Account     Account `json:"user"`
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return RoleUser
	}
	return role
}
