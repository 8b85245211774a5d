package data

import (
	"context"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	statePrefix   = "oauthstate:"
	publishPrefix = "publish:"
	refreshPrefix = "refresh:"
)

func MustRedis(url string) *redis.Client {
	opt, err := redis.ParseURL(url)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	return redis.NewClient(opt)
}

// MarkStateUsed records an OAuth state nonce as consumed. Returns false if
// the nonce was already used (replayed callback).
func MarkStateUsed(ctx context.Context, rdb *redis.Client, nonce string, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, statePrefix+nonce, "1", ttl).Result()
}

// AcquirePublishLock guards one link dispatch against overlapping ticks.
// The key includes the content fingerprint so an edited post is not
// mistaken for a duplicate tick.
func AcquirePublishLock(ctx context.Context, rdb *redis.Client, linkID uint64, fingerprint string, ttl time.Duration) (bool, error) {
	key := publishPrefix + itoa(linkID) + ":" + fingerprint
	return rdb.SetNX(ctx, key, "1", ttl).Result()
}

func ReleasePublishLock(ctx context.Context, rdb *redis.Client, linkID uint64, fingerprint string) {
	rdb.Del(ctx, publishPrefix+itoa(linkID)+":"+fingerprint)
}

// AcquireRefreshLock serializes token refresh for one account across
// processes. In-process callers are already collapsed by singleflight.
func AcquireRefreshLock(ctx context.Context, rdb *redis.Client, accountID uint64, ttl time.Duration) (bool, error) {
	return rdb.SetNX(ctx, refreshPrefix+itoa(accountID), "1", ttl).Result()
}

func ReleaseRefreshLock(ctx context.Context, rdb *redis.Client, accountID uint64) {
	rdb.Del(ctx, refreshPrefix+itoa(accountID))
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}
