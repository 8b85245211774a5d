package publisher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/platforms"
)

func TestProcessPostPublishesAllLinks(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook}
	li := &fakeAdapter{name: platforms.LinkedIn}
	store, _, queue := newTestEnv(fb, li)

	store.addAccount(1, platforms.Facebook)
	store.addAccount(2, platforms.LinkedIn)
	store.addPost(10, "hello world", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)
	store.addLink(101, 10, 2)

	outcome := queue.ProcessPost(context.Background(), store.post(10))

	assert.Equal(t, types.PostStatusPublished, outcome.Status)
	assert.Equal(t, 2, outcome.Succeeded)
	assert.Equal(t, 0, outcome.Failed)

	post := store.post(10)
	assert.Equal(t, types.PostStatusPublished, post.Status)
	require.NotNil(t, post.PublishedAt)

	assert.Equal(t, "facebook-ext", store.link(100).ExternalID)
	assert.Equal(t, "linkedin-ext", store.link(101).ExternalID)
}

func TestProcessPostIdempotentRetick(t *testing.T) {
	var calls int32
	fb := &fakeAdapter{name: platforms.Facebook, publishFn: func(ctx context.Context, token string, content platforms.Content, opts platforms.PublishOptions) (platforms.PublishResult, error) {
		atomic.AddInt32(&calls, 1)
		return platforms.PublishResult{Platform: platforms.Facebook, ExternalID: "fb-1"}, nil
	}}
	store, _, queue := newTestEnv(fb)

	store.addAccount(1, platforms.Facebook)
	store.addPost(10, "once only", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)

	first := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusPublished, first.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	second := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 0, second.Succeeded)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "published link must not dispatch again")
	assert.Equal(t, "fb-1", store.link(100).ExternalID)
}

func TestProcessPostPartialFailure(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook}
	var liFail atomic.Bool
	liFail.Store(true)
	li := &fakeAdapter{name: platforms.LinkedIn, publishFn: func(ctx context.Context, token string, content platforms.Content, opts platforms.PublishOptions) (platforms.PublishResult, error) {
		if liFail.Load() {
			return platforms.PublishResult{}, &platforms.TransientError{Platform: platforms.LinkedIn, StatusCode: 503, Err: errors.New("upstream down")}
		}
		return platforms.PublishResult{Platform: platforms.LinkedIn, ExternalID: "li-1"}, nil
	}}
	store, _, queue := newTestEnv(fb, li)

	store.addAccount(1, platforms.Facebook)
	store.addAccount(2, platforms.LinkedIn)
	store.addPost(10, "flaky platforms", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)
	store.addLink(101, 10, 2)

	outcome := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusPartiallyPublished, outcome.Status)
	assert.Equal(t, 1, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Failed)

	failed := store.link(101)
	assert.Equal(t, types.LinkStatusFailed, failed.Status)
	assert.True(t, strings.HasPrefix(failed.ErrorDetail, "transient: "), "got %q", failed.ErrorDetail)

	// Retry touches only the failed link.
	liFail.Store(false)
	retry := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusPublished, retry.Status)
	assert.Equal(t, 1, retry.Succeeded)
	assert.Equal(t, 1, retry.Skipped)
	assert.Equal(t, "facebook-ext", store.link(100).ExternalID)
	assert.Equal(t, "li-1", store.link(101).ExternalID)
}

func TestProcessPostAllFailedIsPartial(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook, publishFn: func(ctx context.Context, token string, content platforms.Content, opts platforms.PublishOptions) (platforms.PublishResult, error) {
		return platforms.PublishResult{}, &platforms.PermanentError{Platform: platforms.Facebook, StatusCode: 400, Detail: "rejected"}
	}}
	store, _, queue := newTestEnv(fb)

	store.addAccount(1, platforms.Facebook)
	store.addPost(10, "doomed", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)

	outcome := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusPartiallyPublished, outcome.Status)
	assert.Equal(t, types.PostStatusPartiallyPublished, store.post(10).Status, "a failed post must not stay scheduled")
	assert.True(t, strings.HasPrefix(store.link(100).ErrorDetail, "permanent: "))
}

func TestProcessPostCancelledMidDispatchDiscardsResults(t *testing.T) {
	var store *memStore
	var queue *Queue
	fb := &fakeAdapter{name: platforms.Facebook, publishFn: func(ctx context.Context, token string, content platforms.Content, opts platforms.PublishOptions) (platforms.PublishResult, error) {
		// A cancel lands while the platform call is in flight.
		store.setPostStatus(10, types.PostStatusCancelled)
		return platforms.PublishResult{Platform: platforms.Facebook, ExternalID: "fb-late"}, nil
	}}
	store, _, queue = newTestEnv(fb)

	store.addAccount(1, platforms.Facebook)
	store.addPost(10, "cancel me", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)

	outcome := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusCancelled, outcome.Status)

	link := store.link(100)
	assert.Equal(t, types.LinkStatusPending, link.Status)
	assert.Empty(t, link.ExternalID, "discarded result must not be persisted")
	assert.Equal(t, types.PostStatusCancelled, store.post(10).Status)
}

func TestProcessPostLeavesLockedLinksToCompetingTick(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook}
	li := &fakeAdapter{name: platforms.LinkedIn}
	store, _, queue := newTestEnv(fb, li)

	store.addAccount(1, platforms.Facebook)
	store.addAccount(2, platforms.LinkedIn)
	store.addPost(10, "contended", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)
	store.addLink(101, 10, 2)

	held := map[uint64]bool{101: true}
	queue.tryLock = func(ctx context.Context, linkID uint64, fingerprint string) bool {
		return !held[linkID]
	}

	outcome := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, 1, outcome.Succeeded)
	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, types.PostStatusScheduled, outcome.Status)
	assert.Equal(t, types.PostStatusScheduled, store.post(10).Status,
		"post must stay open while another tick publishes the locked link")
	assert.Nil(t, store.post(10).PublishedAt)

	// The competing tick is gone; the next tick settles the post.
	held[101] = false
	outcome = queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusPublished, outcome.Status)
	assert.Equal(t, types.PostStatusPublished, store.post(10).Status)
}

func TestProcessPostAllLocksHeldDoesNotFinish(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook}
	store, _, queue := newTestEnv(fb)

	store.addAccount(1, platforms.Facebook)
	store.addPost(10, "locked out", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)

	queue.tryLock = func(ctx context.Context, linkID uint64, fingerprint string) bool { return false }

	outcome := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, 1, outcome.Skipped)
	assert.Equal(t, types.PostStatusScheduled, outcome.Status)
	assert.Equal(t, types.PostStatusScheduled, store.post(10).Status)
	assert.Nil(t, store.post(10).PublishedAt)
}

func TestProcessDueFindsOnlyDuePosts(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook}
	store, _, queue := newTestEnv(fb)

	store.addAccount(1, platforms.Facebook)
	store.addPost(10, "due", time.Now().Add(-time.Minute))
	store.addLink(100, 10, 1)
	store.addPost(11, "future", time.Now().Add(time.Hour))
	store.addLink(101, 11, 1)

	stats, err := queue.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Published)
	assert.Equal(t, types.PostStatusScheduled, store.post(11).Status)
}

func TestRecurringPostReschedules(t *testing.T) {
	fb := &fakeAdapter{name: platforms.Facebook}
	store, _, queue := newTestEnv(fb)

	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	queue.now = func() time.Time { return now }

	store.addAccount(1, platforms.Facebook)
	store.addPost(10, "every day", now.Add(-time.Hour))
	store.mu.Lock()
	store.posts[10].Recurring = true
	store.posts[10].RecurrencePattern = "daily"
	store.mu.Unlock()
	store.addLink(100, 10, 1)

	outcome := queue.ProcessPost(context.Background(), store.post(10))
	assert.Equal(t, types.PostStatusScheduled, outcome.Status)

	next, ok := store.rescheduled[10]
	require.True(t, ok)
	assert.Equal(t, now.Add(-time.Hour).AddDate(0, 0, 1), next)
	assert.Equal(t, types.LinkStatusPending, store.link(100).Status, "links reset for the next occurrence")
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	sched := now.Add(-25 * time.Hour)
	post := types.Post{ScheduledAt: &sched, RecurrencePattern: "daily"}
	next, ok := nextOccurrence(post, now)
	require.True(t, ok)
	assert.Equal(t, sched.AddDate(0, 0, 2), next, "skips occurrences already in the past")

	post.RecurrencePattern = "weekly"
	next, ok = nextOccurrence(post, now)
	require.True(t, ok)
	assert.Equal(t, sched.AddDate(0, 0, 7), next)

	post.RecurrencePattern = "monthly"
	next, ok = nextOccurrence(post, now)
	require.True(t, ok)
	assert.Equal(t, sched.AddDate(0, 1, 0), next)

	post.RecurrencePattern = "hourly"
	_, ok = nextOccurrence(post, now)
	assert.False(t, ok)

	post.RecurrencePattern = "daily"
	post.ScheduledAt = nil
	_, ok = nextOccurrence(post, now)
	assert.False(t, ok)
}

func TestErrDetailPrefixes(t *testing.T) {
	assert.Empty(t, errDetail(nil))
	assert.True(t, strings.HasPrefix(errDetail(&platforms.ValidationError{Platform: "x", Reason: "bad"}), "validation: "))
	assert.True(t, strings.HasPrefix(errDetail(&platforms.AuthError{Platform: "x", Err: errors.New("expired")}), "auth: "))
	assert.True(t, strings.HasPrefix(errDetail(fmt.Errorf("%w: refresh declined", ErrTokenExpired)), "token_expired: "))

	long := &platforms.PermanentError{Platform: "x", Detail: strings.Repeat("z", 1000)}
	assert.LessOrEqual(t, len(errDetail(long)), 512)
}
