package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaypost/relaypost/src/platforms"
	"golang.org/x/time/rate"
)

// rateTable keeps one limiter per (account, operation), built lazily
// from the adapter's declared limits. Waiting respects the caller's
// context, so a saturated platform cannot stall a dispatch past its
// timeout.
type rateTable struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateTable() *rateTable {
	return &rateTable{limiters: make(map[string]*rate.Limiter)}
}

func (t *rateTable) wait(ctx context.Context, accountID uint64, op string, rl platforms.RateLimit) error {
	if rl.Limit <= 0 || rl.Window <= 0 {
		return nil
	}
	key := fmt.Sprintf("%d:%s", accountID, op)

	t.mu.Lock()
	limiter, ok := t.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(rl.Limit)/rl.Window.Seconds()), rl.Limit)
		t.limiters[key] = limiter
	}
	t.mu.Unlock()

	return limiter.Wait(ctx)
}
