package users

import (
	"strings"
	"time"
)

// DefaultColor is assigned to users that never picked an annotation color.
const DefaultColor = "#FF5733"

// User captures a collaborator identity and the color its annotations render in.
type User struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	Username  string    `gorm:"column:username;size:190;not null;uniqueIndex" json:"username"`
	Email     string    `gorm:"column:email;size:320;not null;uniqueIndex" json:"email"`
	Color     string    `gorm:"column:color;size:16;not null;default:'#FF5733'" json:"color"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
