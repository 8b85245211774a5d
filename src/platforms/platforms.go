// Package platforms defines the contract every social platform
// implementation satisfies, plus the shared error taxonomy. The queue and
// dispatcher stay platform-agnostic; all platform quirks live behind the
// Adapter interface.
package platforms

import (
	"context"
	"time"
)

// Platform identifiers
const (
	Facebook  = "facebook"
	Instagram = "instagram"
	Twitter   = "twitter"
	LinkedIn  = "linkedin"
	YouTube   = "youtube"
	Threads   = "threads"
)

// Media is one attachment, resolved to a public URL by the media storage
// subsystem before it reaches the orchestrator.
type Media struct {
	URL      string
	MIMEType string
	Size     int64
}

// Content is a platform-ready payload produced by the optimizer. When
// Thread is non-empty the adapter publishes the segments as a chain and
// ignores Text.
type Content struct {
	Title  string
	Text   string
	Thread []string
	Media  []Media
}

// Credentials are what an auth flow or refresh yields for one account.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	AccountID    string
	AccountName  string
	Metadata     map[string]string
}

// PublishOptions carries per-account context into a publish call.
type PublishOptions struct {
	AccountID string            // platform-side account/page id
	Metadata  map[string]string // opaque account metadata (page tokens, ig user id, ...)
	Overrides map[string]string // per-link override data
}

// PublishResult is the terminal outcome of one successful publish.
type PublishResult struct {
	Platform   string
	ExternalID string
	PostedAt   time.Time
}

// Metrics as reported by the platform for one published post. Consumed by
// the external analytics collector.
type Metrics struct {
	Impressions int64
	Likes       int64
	Comments    int64
	Shares      int64
}

// RateLimit declares how many calls of one operation are allowed per window.
type RateLimit struct {
	Limit  int
	Window time.Duration
}

// Adapter is implemented once per platform. Publish must be atomic from
// the caller's point of view: either a terminal external id comes back or
// a typed error does. Stray upload artifacts left on the remote platform
// are acceptable but never reported as success.
type Adapter interface {
	Platform() string

	AuthorizationURL(clientID uint64) (string, error)
	ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error)
	// RefreshToken returns ErrUnsupported for platforms whose tokens do
	// not expire or cannot be refreshed in this flow.
	RefreshToken(ctx context.Context, refreshToken string) (Credentials, error)
	// TestConnection never fails for a dead token; it returns false.
	TestConnection(ctx context.Context, accessToken string) bool

	Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error)
	UploadMedia(ctx context.Context, accessToken string, media Media) (string, error)
	Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error)

	RateLimits() map[string]RateLimit
}
