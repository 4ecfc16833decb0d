package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultMaxCharacters = 10

type User struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	Username      string            `gorm:"uniqueIndex;not null;column:username" json:"username"`
	Email         string            `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password      string            `gorm:"not null;column:password" json:"-"`
	FirstName     string            `gorm:"column:first_name" json:"first_name"`
	LastName      string            `gorm:"column:last_name" json:"last_name"`
	IsActive      bool              `gorm:"column:is_active;not null;default:false;index" json:"is_active"`
	IsStaff       bool              `gorm:"column:is_staff;not null;default:false" json:"is_staff"`
	MaxCharacters int               `gorm:"column:max_characters;not null;default:10" json:"max_characters"`
	Preferences   datatypes.JSONMap `gorm:"column:preferences" json:"preferences"`
	DateJoined    time.Time         `gorm:"column:date_joined;not null" json:"date_joined"`
	LastLogin     *time.Time        `gorm:"column:last_login" json:"last_login,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

func (User) TableName() string { return "user" }

// CharacterLimit returns the effective per-user cap.
func (u *User) CharacterLimit() int {
	if u == nil || u.MaxCharacters <= 0 {
		return DefaultMaxCharacters
	}
	return u.MaxCharacters
}
