package types

import "time"

// Post statuses
const (
	PostStatusDraft              = "draft"
	PostStatusPendingApproval    = "pending_approval"
	PostStatusApproved           = "approved"
	PostStatusScheduled          = "scheduled"
	PostStatusPublished          = "published"
	PostStatusPartiallyPublished = "partially_published"
	PostStatusCancelled          = "cancelled"
)

// Per-platform link statuses
const (
	LinkStatusPending   = "pending"
	LinkStatusPublished = "published"
	LinkStatusFailed    = "failed"
)

// User roles
const (
	RoleMember  = "member"
	RoleManager = "manager"
)

// Clients (tenants). Managed elsewhere; the orchestrator only reads them.
type Client struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"size:128;not null"`
	Active    bool   `gorm:"default:true"`
	CreatedAt time.Time
}

// Users. Managed elsewhere; role gates approval actions.
type User struct {
	ID       uint64 `gorm:"primaryKey"`
	ClientID uint64 `gorm:"index;not null"`
	Name     string `gorm:"size:128"`
	Role     string `gorm:"size:16;default:member"`
}

// Posts move exclusively through the approval state machine.
type Post struct {
	ID                uint64     `gorm:"primaryKey"`
	ClientID          uint64     `gorm:"index;not null"`
	CreatorID         uint64     `gorm:"index;not null"`
	Title             string     `gorm:"size:255"`
	Content           string     `gorm:"type:text;not null"`
	Status            string     `gorm:"size:32;index;not null;default:draft"`
	ScheduledAt       *time.Time `gorm:"index"`
	PublishedAt       *time.Time
	Recurring         bool   `gorm:"default:false"`
	RecurrencePattern string `gorm:"size:16"` // daily, weekly, monthly
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PostPlatform links a post to one connected account. It is the unit of
// dispatch: each link publishes independently and records its own outcome.
type PostPlatform struct {
	ID              uint64 `gorm:"primaryKey"`
	PostID          uint64 `gorm:"index;not null"`
	SocialAccountID uint64 `gorm:"index;not null"`
	Status          string `gorm:"size:16;not null;default:pending"`
	ExternalID      string `gorm:"size:128"`
	ErrorDetail     string `gorm:"size:512"`
	PublishedAt     *time.Time
	Overrides       string `gorm:"type:text"` // platform-specific override data, JSON
	Fingerprint     string `gorm:"size:32"`   // content hash of the last attempt
	CreatedAt       time.Time

	Account SocialAccount `gorm:"foreignKey:SocialAccountID;references:ID"`
}

// Media attached to a post. Files live in external storage; we only keep
// the resolved public URL and MIME type.
type PostMedia struct {
	ID       uint64 `gorm:"primaryKey"`
	PostID   uint64 `gorm:"index;not null"`
	URL      string `gorm:"size:512;not null"`
	MIMEType string `gorm:"size:64;not null"`
	Size     int64  `gorm:"default:0"`
	Position int    `gorm:"default:0"`
}

// Connected platform accounts. Access/refresh tokens are sealed at rest
// when a cipher key is configured.
type SocialAccount struct {
	ID             uint64 `gorm:"primaryKey"`
	ClientID       uint64 `gorm:"index;not null"`
	Platform       string `gorm:"size:16;index;not null"`
	AccountID      string `gorm:"size:128;not null"` // platform-side id
	AccountName    string `gorm:"size:128"`
	AccessToken    string `gorm:"type:text;not null"`
	RefreshToken   string `gorm:"type:text"`
	TokenExpiresAt *time.Time
	NeedsReauth    bool   `gorm:"default:false"`
	Metadata       string `gorm:"type:text"` // opaque platform account data, JSON
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Approval history. Append-only; rows are never updated or deleted.
type ApprovalRecord struct {
	ID        uint64    `gorm:"primaryKey"`
	PostID    uint64    `gorm:"index;not null"`
	Status    string    `gorm:"size:16;not null"` // approved, rejected
	Feedback  string    `gorm:"type:text"`
	ActorID   uint64    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// Settings
type Setting struct {
	ID    uint8  `gorm:"primaryKey"`
	Name  string `gorm:"size:32;not null"`
	Value string `gorm:"size:256;not null"`
}
