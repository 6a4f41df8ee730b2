package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Username        string         `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash    string         `gorm:"not null" json:"-"`
	Role            string         `gorm:"default:'user'" json:"role"` // admin, user
	AllowedProfiles string         `json:"allowed_profiles"`           // Comma separated profile names, or "*"
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	DeletedAt       gorm.DeletedAt `gorm:"index" json:"-"`
}

func (u *User) IsAdmin() bool {
	return u.Role == "admin"
}

// CanUseProfile reports whether the user may place and inspect calls on the
// named profile.
func (u *User) CanUseProfile(name string) bool {
	if u.IsAdmin() || u.AllowedProfiles == "*" {
		return true
	}
	for _, p := range strings.Split(u.AllowedProfiles, ",") {
		if strings.TrimSpace(p) == name {
			return true
		}
	}
	return false
}

// CallRecord is the persisted history of one call. It is written when the
// call is created, answered and torn down.
type CallRecord struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	Name        string     `gorm:"index" json:"name"`
	Profile     string     `gorm:"index;not null" json:"profile"`
	Direction   string     `json:"direction"` // outbound, inbound
	Remote      string     `gorm:"index" json:"remote"`
	Codec       string     `json:"codec"`
	PayloadType int        `json:"payload_type"`
	State       string     `json:"state"`
	Cause       string     `json:"cause"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `gorm:"index" json:"started_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Duration is the answered time of an ended call.
func (r *CallRecord) Duration() time.Duration {
	if r.AnsweredAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.AnsweredAt)
}

type Webhook struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Profile   string    `gorm:"index;not null" json:"profile"` // profile name, or "*" for every profile
	URL       string    `gorm:"not null" json:"url"`
	Platform  string    `json:"platform"`   // telegram, slack, generic
	ChannelID string    `json:"channel_id"` // For Telegram
	Template  string    `json:"template"`   // "Call {{.Name}} to {{.Remote}} ended: {{.Cause}}"
	Enabled   bool      `gorm:"default:true" json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}
