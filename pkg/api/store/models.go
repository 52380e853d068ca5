package store

import (
	"time"
)

// User is an account defined under api.auth.basic.users. The table mirrors
// the config and is rewritten by SyncUsers on every start.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null;size:16" json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session is a login. Its token travels in the session cookie or as a
// bearer token.
type Session struct {
	ID         uint       `gorm:"primaryKey"`
	Token      string     `gorm:"uniqueIndex;not null"`
	UserID     uint       `gorm:"not null;index"`
	User       User       `gorm:"foreignKey:UserID"`
	ExpiresAt  time.Time  `gorm:"not null;index"`
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

// ProjectMember grants one capability to one user in one project.
type ProjectMember struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_project_member" json:"user_id"`
	ProjectID  int64     `gorm:"not null;uniqueIndex:idx_project_member;index" json:"project_id"`
	Capability string    `gorm:"not null;size:16;uniqueIndex:idx_project_member" json:"capability"`
	CreatedAt  time.Time `json:"created_at"`
}

// Membership is a ProjectMember joined with its username.
type Membership struct {
	ID         uint   `json:"id"`
	UserID     uint   `json:"user_id"`
	Username   string `json:"username"`
	ProjectID  int64  `json:"project_id"`
	Capability string `json:"capability"`
}
