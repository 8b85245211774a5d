package publisher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/relaypost/relaypost/src/api/data"
	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/platforms"
	"golang.org/x/sync/singleflight"
)

// refreshSkew refreshes a little early so a token cannot expire between
// the check and the publish call.
const refreshSkew = 60 * time.Second

// ErrTokenExpired marks a link that cannot publish because the account
// token is dead and could not be refreshed.
var ErrTokenExpired = errors.New("token expired and refresh failed")

// TokenManager hands out live access tokens for accounts, refreshing
// expired ones. Refreshes are single-flight per account in-process and
// guarded by a redis lock across processes, so concurrent dispatches for
// posts sharing an account cannot race each other's refresh.
type TokenManager struct {
	store  Store
	reg    *platforms.Registry
	rdb    *redis.Client
	sealer *Sealer
	group  singleflight.Group
	now    func() time.Time
}

func NewTokenManager(store Store, reg *platforms.Registry, rdb *redis.Client, sealer *Sealer) *TokenManager {
	return &TokenManager{store: store, reg: reg, rdb: rdb, sealer: sealer, now: time.Now}
}

// AccessToken returns a usable token for the account, refreshing first
// when the stored one is at or past expiry.
func (tm *TokenManager) AccessToken(ctx context.Context, account *types.SocialAccount) (string, error) {
	if account.TokenExpiresAt == nil || tm.now().Add(refreshSkew).Before(*account.TokenExpiresAt) {
		return tm.sealer.Open(account.AccessToken)
	}

	v, err, _ := tm.group.Do(fmt.Sprintf("refresh:%d", account.ID), func() (interface{}, error) {
		return tm.refresh(ctx, account)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (tm *TokenManager) refresh(ctx context.Context, account *types.SocialAccount) (string, error) {
	// Another process may be refreshing; take the cross-process lock or
	// wait for the winner's result to land in the store.
	if tm.rdb != nil {
		ok, err := data.AcquireRefreshLock(ctx, tm.rdb, account.ID, 30*time.Second)
		if err == nil && !ok {
			return tm.awaitRefreshed(ctx, account)
		}
		if err == nil {
			defer data.ReleaseRefreshLock(ctx, tm.rdb, account.ID)
		}
	}

	adapter, err := tm.reg.Get(account.Platform)
	if err != nil {
		return "", err
	}

	refreshToken, err := tm.sealer.Open(account.RefreshToken)
	if err != nil {
		return "", err
	}

	creds, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, platforms.ErrUnsupported) {
			log.Printf("token: account %d (%s) expired and platform cannot refresh", account.ID, account.Platform)
		} else {
			log.Printf("token: refresh failed for account %d (%s): %v", account.ID, account.Platform, err)
		}
		return "", fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}

	account.AccessToken = tm.sealer.Seal(creds.AccessToken)
	if creds.RefreshToken != "" {
		account.RefreshToken = tm.sealer.Seal(creds.RefreshToken)
	}
	account.TokenExpiresAt = creds.ExpiresAt
	account.NeedsReauth = false
	if err := tm.store.SaveAccount(account); err != nil {
		return "", fmt.Errorf("persist refreshed token: %w", err)
	}
	log.Printf("token: refreshed account %d (%s)", account.ID, account.Platform)
	return creds.AccessToken, nil
}

// awaitRefreshed polls the store briefly for the token another process
// is refreshing right now.
func (tm *TokenManager) awaitRefreshed(ctx context.Context, account *types.SocialAccount) (string, error) {
	for i := 0; i < 20; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
		fresh, err := tm.store.Account(account.ID)
		if err != nil {
			continue
		}
		if fresh.TokenExpiresAt == nil || tm.now().Add(refreshSkew).Before(*fresh.TokenExpiresAt) {
			*account = fresh
			return tm.sealer.Open(fresh.AccessToken)
		}
	}
	return "", fmt.Errorf("%w: refresh lock holder did not finish", ErrTokenExpired)
}

// FlagReauth marks an account whose publish call came back with an auth
// error. These accounts are skipped until the author reconnects them.
func (tm *TokenManager) FlagReauth(account *types.SocialAccount) {
	account.NeedsReauth = true
	if err := tm.store.SaveAccount(account); err != nil {
		log.Printf("token: failed to flag account %d for reauth: %v", account.ID, err)
	}
}
