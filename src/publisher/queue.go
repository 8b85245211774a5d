package publisher

import (
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/redis/go-redis/v9"
	"github.com/relaypost/relaypost/src/api/data"
	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/platforms"
)

// publishLockTTL bounds how long a crashed worker can hold a link.
const publishLockTTL = 10 * time.Minute

// Notifier receives failed publish outcomes. Implementations must be
// cheap; they run inline at the end of a tick.
type Notifier interface {
	PublishFailure(post types.Post, platform string, detail string)
}

// PostOutcome summarizes one processed post for the cron response.
type PostOutcome struct {
	PostID    uint64 `json:"post_id"`
	Status    string `json:"status"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}

// TickStats aggregates one queue tick.
type TickStats struct {
	Processed int           `json:"processed"`
	Published int           `json:"published"`
	Partial   int           `json:"partial"`
	Posts     []PostOutcome `json:"posts"`
}

// Queue finds due posts and fans their links out to the dispatcher with
// a bounded worker pool. Reprocessing the same due set is safe: links
// that already carry an external id are skipped, and a redis lock keyed
// by link id + content fingerprint keeps overlapping ticks off the same
// link.
type Queue struct {
	store    Store
	disp     *Dispatcher
	rdb      *redis.Client
	workers  int
	notifier Notifier
	now      func() time.Time
	tryLock  func(ctx context.Context, linkID uint64, fingerprint string) bool
}

func NewQueue(store Store, disp *Dispatcher, rdb *redis.Client, workers int, notifier Notifier) *Queue {
	if workers <= 0 {
		workers = 4
	}
	q := &Queue{store: store, disp: disp, rdb: rdb, workers: workers, notifier: notifier, now: time.Now}
	q.tryLock = q.acquireLock
	return q
}

// Run drives ticks on an interval until the context ends. This is what
// the worker binary and the API's background loop call.
func (q *Queue) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	log.Printf("queue: processing every %s", interval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("queue: stopped")
			return
		case <-ticker.C:
			if _, err := q.ProcessDue(ctx); err != nil {
				log.Printf("queue: tick failed: %v", err)
			}
		}
	}
}

// ProcessDue runs one tick over every due post.
func (q *Queue) ProcessDue(ctx context.Context) (TickStats, error) {
	posts, err := q.store.DuePosts(q.now())
	if err != nil {
		return TickStats{}, err
	}

	var stats TickStats
	for _, post := range posts {
		outcome := q.ProcessPost(ctx, post)
		stats.Processed++
		stats.Posts = append(stats.Posts, outcome)
		switch outcome.Status {
		case types.PostStatusPublished:
			stats.Published++
		case types.PostStatusPartiallyPublished:
			stats.Partial++
		}
	}
	return stats, nil
}

// ProcessPost dispatches every unpublished link of one post and folds
// the results into the post's aggregate status. Also used by the manual
// publish and retry actions.
func (q *Queue) ProcessPost(ctx context.Context, post types.Post) PostOutcome {
	outcome := PostOutcome{PostID: post.ID}

	links, err := q.store.LinksForPost(post.ID)
	if err != nil {
		log.Printf("queue: post %d: load links: %v", post.ID, err)
		outcome.Status = post.Status
		return outcome
	}

	fingerprint := contentFingerprint(post.Content)
	var pending []types.PostPlatform
	var lockSkips int
	for _, link := range links {
		// Never double-publish: a link with an external id is done.
		if link.Status == types.LinkStatusPublished || link.ExternalID != "" {
			outcome.Skipped++
			continue
		}
		if !q.tryLock(ctx, link.ID, fingerprint) {
			outcome.Skipped++
			lockSkips++
			continue
		}
		pending = append(pending, link)
	}

	if len(pending) == 0 {
		if lockSkips > 0 {
			// A competing tick holds every remaining link; it owns the
			// aggregate for this post.
			outcome.Status = post.Status
			return outcome
		}
		outcome.Status = q.aggregate(post, links, nil)
		return outcome
	}

	results := q.fanOut(ctx, post, pending)

	// A cancel that landed mid-flight wins: in-flight calls finished,
	// but their results are discarded.
	status, err := q.store.PostStatus(post.ID)
	if err == nil && status == types.PostStatusCancelled {
		log.Printf("queue: post %d cancelled mid-dispatch, discarding %d results", post.ID, len(results))
		if q.rdb != nil {
			for _, link := range pending {
				data.ReleasePublishLock(ctx, q.rdb, link.ID, fingerprint)
			}
		}
		outcome.Status = types.PostStatusCancelled
		return outcome
	}

	now := q.now()
	for i := range pending {
		link := &pending[i]
		res := results[i]
		link.Fingerprint = fingerprint
		if res.Status == ResultSuccess {
			link.Status = types.LinkStatusPublished
			link.ExternalID = res.ExternalID
			link.ErrorDetail = ""
			link.PublishedAt = &now
			outcome.Succeeded++
		} else {
			link.Status = types.LinkStatusFailed
			link.ErrorDetail = errDetail(res.Err)
			outcome.Failed++
			if q.notifier != nil {
				q.notifier.PublishFailure(post, res.Platform, link.ErrorDetail)
			}
		}
		if err := q.store.UpdateLink(link); err != nil {
			log.Printf("queue: post %d: persist link %d: %v", post.ID, link.ID, err)
		}
	}

	// Re-read so the aggregate sees this tick's writes alongside links
	// published in earlier ticks.
	links, err = q.store.LinksForPost(post.ID)
	if err != nil {
		log.Printf("queue: post %d: reload links: %v", post.ID, err)
	}
	if lockSkips > 0 && !allTerminal(links) {
		// Lock-held links are still in flight elsewhere; leave the post
		// open so whichever tick finishes last settles the status.
		outcome.Status = post.Status
		return outcome
	}
	outcome.Status = q.aggregate(post, links, &now)
	return outcome
}

func allTerminal(links []types.PostPlatform) bool {
	for _, l := range links {
		if l.Status != types.LinkStatusPublished && l.Status != types.LinkStatusFailed {
			return false
		}
	}
	return true
}

func (q *Queue) fanOut(ctx context.Context, post types.Post, pending []types.PostPlatform) []Result {
	results := make([]Result, len(pending))
	sem := make(chan struct{}, q.workers)
	var wg sync.WaitGroup
	for i := range pending {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = q.disp.Dispatch(ctx, post, pending[i])
		}(i)
	}
	wg.Wait()
	return results
}

// aggregate computes and persists the post's terminal status for this
// tick: published only when every link made it, partially_published
// otherwise. The all-failed case lands on partially_published too, so
// a dead post cannot silently stay scheduled.
func (q *Queue) aggregate(post types.Post, links []types.PostPlatform, finishedAt *time.Time) string {
	allPublished := len(links) > 0
	for _, link := range links {
		if link.Status != types.LinkStatusPublished {
			allPublished = false
			break
		}
	}

	status := types.PostStatusPartiallyPublished
	if allPublished {
		status = types.PostStatusPublished
	}

	now := q.now()
	if finishedAt != nil {
		now = *finishedAt
	}
	if err := q.store.FinishPost(post.ID, status, now); err != nil {
		log.Printf("queue: post %d: persist status %s: %v", post.ID, status, err)
		return status
	}
	log.Printf("queue: post %d -> %s", post.ID, status)

	if status == types.PostStatusPublished && post.Recurring {
		if next, ok := nextOccurrence(post, now); ok {
			if err := q.store.ReschedulePost(post.ID, next); err != nil {
				log.Printf("queue: post %d: reschedule: %v", post.ID, err)
			} else {
				log.Printf("queue: post %d recurs at %s", post.ID, next)
				return types.PostStatusScheduled
			}
		}
	}
	return status
}

func (q *Queue) acquireLock(ctx context.Context, linkID uint64, fingerprint string) bool {
	if q.rdb == nil {
		return true
	}
	ok, err := data.AcquirePublishLock(ctx, q.rdb, linkID, fingerprint, publishLockTTL)
	if err != nil {
		// Redis being down should not stop publishing; the external-id
		// check above still prevents double publishes on re-ticks.
		return true
	}
	return ok
}

// nextOccurrence advances the schedule past now by whole pattern steps.
func nextOccurrence(post types.Post, now time.Time) (time.Time, bool) {
	if post.ScheduledAt == nil {
		return time.Time{}, false
	}
	next := *post.ScheduledAt
	for !next.After(now) {
		switch post.RecurrencePattern {
		case "daily":
			next = next.AddDate(0, 0, 1)
		case "weekly":
			next = next.AddDate(0, 0, 7)
		case "monthly":
			next = next.AddDate(0, 1, 0)
		default:
			return time.Time{}, false
		}
	}
	return next, true
}

func contentFingerprint(content string) string {
	return strconv.FormatUint(xxhash.ChecksumString64(content), 16)
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrTokenExpired) {
		return "token_expired: " + err.Error()
	}
	var kind string
	switch {
	case platforms.IsValidation(err):
		kind = "validation: "
	case platforms.IsAuth(err):
		kind = "auth: "
	case platforms.IsTransient(err):
		kind = "transient: "
	case platforms.IsPermanent(err):
		kind = "permanent: "
	}
	detail := kind + err.Error()
	if len(detail) > 512 {
		detail = detail[:512]
	}
	return detail
}
