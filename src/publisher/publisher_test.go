package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/platforms"
)

// memStore is the in-memory Store used across the publisher tests.
type memStore struct {
	mu          sync.Mutex
	posts       map[uint64]*types.Post
	links       []*types.PostPlatform
	media       map[uint64][]types.PostMedia
	accounts    map[uint64]*types.SocialAccount
	rescheduled map[uint64]time.Time
}

func newMemStore() *memStore {
	return &memStore{
		posts:       map[uint64]*types.Post{},
		media:       map[uint64][]types.PostMedia{},
		accounts:    map[uint64]*types.SocialAccount{},
		rescheduled: map[uint64]time.Time{},
	}
}

func (s *memStore) DuePosts(now time.Time) ([]types.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []types.Post
	for _, p := range s.posts {
		if p.Status == types.PostStatusScheduled && p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			due = append(due, *p)
		}
	}
	return due, nil
}

func (s *memStore) PostStatus(postID uint64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return "", fmt.Errorf("post %d not found", postID)
	}
	return p.Status, nil
}

func (s *memStore) FinishPost(postID uint64, status string, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return fmt.Errorf("post %d not found", postID)
	}
	p.Status = status
	p.PublishedAt = &publishedAt
	return nil
}

func (s *memStore) ReschedulePost(postID uint64, next time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[postID]
	if !ok {
		return fmt.Errorf("post %d not found", postID)
	}
	p.Status = types.PostStatusScheduled
	at := next
	p.ScheduledAt = &at
	p.PublishedAt = nil
	s.rescheduled[postID] = next
	for _, l := range s.links {
		if l.PostID == postID {
			l.Status = types.LinkStatusPending
			l.ExternalID = ""
			l.ErrorDetail = ""
			l.PublishedAt = nil
		}
	}
	return nil
}

func (s *memStore) LinksForPost(postID uint64) ([]types.PostPlatform, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.PostPlatform
	for _, l := range s.links {
		if l.PostID == postID {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (s *memStore) UpdateLink(link *types.PostPlatform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, l := range s.links {
		if l.ID == link.ID {
			cp := *link
			s.links[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("link %d not found", link.ID)
}

func (s *memStore) MediaForPost(postID uint64) ([]types.PostMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.PostMedia(nil), s.media[postID]...), nil
}

func (s *memStore) Account(id uint64) (types.SocialAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return types.SocialAccount{}, fmt.Errorf("account %d not found", id)
	}
	return *a, nil
}

func (s *memStore) SaveAccount(account *types.SocialAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *account
	s.accounts[account.ID] = &cp
	return nil
}

func (s *memStore) link(id uint64) types.PostPlatform {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.ID == id {
			return *l
		}
	}
	return types.PostPlatform{}
}

func (s *memStore) post(id uint64) types.Post {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.posts[id]
}

func (s *memStore) setPostStatus(id uint64, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[id].Status = status
}

// fakeAdapter satisfies platforms.Adapter with pluggable publish and
// refresh behavior.
type fakeAdapter struct {
	name      string
	limits    map[string]platforms.RateLimit
	publishFn func(ctx context.Context, token string, content platforms.Content, opts platforms.PublishOptions) (platforms.PublishResult, error)
	refreshFn func(ctx context.Context, refreshToken string) (platforms.Credentials, error)
}

func (f *fakeAdapter) Platform() string { return f.name }

func (f *fakeAdapter) AuthorizationURL(clientID uint64) (string, error) {
	return "http://example.com/auth", nil
}

func (f *fakeAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (platforms.Credentials, error) {
	return platforms.Credentials{}, platforms.ErrUnsupported
}

func (f *fakeAdapter) RefreshToken(ctx context.Context, refreshToken string) (platforms.Credentials, error) {
	if f.refreshFn != nil {
		return f.refreshFn(ctx, refreshToken)
	}
	return platforms.Credentials{}, platforms.ErrUnsupported
}

func (f *fakeAdapter) TestConnection(ctx context.Context, accessToken string) bool { return true }

func (f *fakeAdapter) Publish(ctx context.Context, accessToken string, content platforms.Content, opts platforms.PublishOptions) (platforms.PublishResult, error) {
	if f.publishFn != nil {
		return f.publishFn(ctx, accessToken, content, opts)
	}
	return platforms.PublishResult{Platform: f.name, ExternalID: f.name + "-ext", PostedAt: time.Now()}, nil
}

func (f *fakeAdapter) UploadMedia(ctx context.Context, accessToken string, media platforms.Media) (string, error) {
	return "", platforms.ErrUnsupported
}

func (f *fakeAdapter) Analytics(ctx context.Context, accessToken, externalID string) (platforms.Metrics, error) {
	return platforms.Metrics{}, nil
}

func (f *fakeAdapter) RateLimits() map[string]platforms.RateLimit { return f.limits }

func newTestEnv(adapters ...platforms.Adapter) (*memStore, *Dispatcher, *Queue) {
	store := newMemStore()
	reg := platforms.NewRegistry()
	for _, a := range adapters {
		reg.Register(a)
	}
	tokens := NewTokenManager(store, reg, nil, nil)
	disp := NewDispatcher(store, reg, tokens, 5*time.Second)
	queue := NewQueue(store, disp, nil, 2, nil)
	return store, disp, queue
}

func (s *memStore) addAccount(id uint64, platform string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[id] = &types.SocialAccount{
		ID:          id,
		ClientID:    1,
		Platform:    platform,
		AccountID:   fmt.Sprintf("%s-acct", platform),
		AccessToken: "live-token",
	}
}

func (s *memStore) addPost(id uint64, content string, scheduledAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := scheduledAt
	s.posts[id] = &types.Post{
		ID:          id,
		ClientID:    1,
		CreatorID:   1,
		Content:     content,
		Status:      types.PostStatusScheduled,
		ScheduledAt: &at,
	}
}

func (s *memStore) addLink(id, postID, accountID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links = append(s.links, &types.PostPlatform{
		ID:              id,
		PostID:          postID,
		SocialAccountID: accountID,
		Status:          types.LinkStatusPending,
	})
}
