package database

import "time"

// User is an account holder. Capability flags gate which resource kinds the
// user may join; they are checked on join-by-key and on resource creation.
// The flags carry no column default: gorm drops zero-valued fields that have
// one on insert, which would silently turn a false flag into true. Callers
// set them explicitly.
type User struct {
	ID              uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username        string    `gorm:"uniqueIndex;not null;size:64" json:"username"`
	PasswordHash    string    `gorm:"not null" json:"-"`
	Role            string    `gorm:"not null;default:user" json:"role"`
	CanUseShell     bool      `gorm:"not null" json:"can_use_shell"`
	CanUseDocuments bool      `gorm:"not null" json:"can_use_documents"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SavedHost is a persisted connection record. Password and passphrase are
// Fernet-encrypted before they reach this struct (see internal/crypto).
type SavedHost struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID     uint      `gorm:"not null;index" json:"user_id"`
	Name       string    `gorm:"not null;default:Session" json:"name"`
	Hostname   string    `json:"hostname"`
	IP         string    `json:"ip"`
	Port       int       `gorm:"not null;default:22" json:"port"`
	Username   string    `json:"username"`
	Password   string    `json:"-"` // Fernet-encrypted
	PrivateKey string    `gorm:"type:text" json:"-"`
	Passphrase string    `json:"-"` // Fernet-encrypted
	Color      string    `json:"color"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ResourceBase holds the fields shared by both resource kinds. Plain
// composition: each variant embeds it, and lifecycle operations take the
// variant directly rather than going through virtual dispatch.
//
// Invariant: ShareKey is non-nil if and only if Shared is true.
type ResourceBase struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"not null;default:Session" json:"name"`
	OwnerID   uint      `gorm:"not null;index" json:"owner_id"`
	Locked    bool      `gorm:"not null" json:"locked"`
	Shared    bool      `gorm:"not null;default:false" json:"shared"`
	ShareKey  *string   `gorm:"size:191;index" json:"-"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ShellResource is a live remote-shell channel shared by its members.
// Content accumulates flushed terminal output.
type ShellResource struct {
	ResourceBase `gorm:"embedded"`

	Hostname    string `json:"hostname"`
	IP          string `json:"ip"`
	Port        int    `gorm:"not null;default:22" json:"port"`
	SavedHostID *uint  `gorm:"index" json:"saved_host_id"`
	Content     string `gorm:"type:text;not null;default:''" json:"-"`
}

// DocumentResource is a collaboratively edited document. Content holds the
// last persisted delta snapshot as JSON.
type DocumentResource struct {
	ResourceBase `gorm:"embedded"`

	Content string `gorm:"type:text" json:"-"`
}

// SessionMembership records that a user has joined a resource. A user cannot
// join the same resource twice; deleting a membership does not delete the
// underlying resource.
type SessionMembership struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex:idx_membership" json:"user_id"`
	ResourceKind string    `gorm:"not null;size:16;uniqueIndex:idx_membership" json:"resource_kind"`
	ResourceID   uint      `gorm:"not null;uniqueIndex:idx_membership" json:"resource_id"`
	Name         string    `gorm:"not null;default:Session" json:"name"`
	Color        string    `json:"color"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ResourceLog is an audit line for resource lifecycle events.
type ResourceLog struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ResourceKind string    `gorm:"not null;size:16;index:idx_log_resource" json:"resource_kind"`
	ResourceID   uint      `gorm:"not null;index:idx_log_resource" json:"resource_id"`
	Text         string    `gorm:"type:text;not null" json:"text"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
