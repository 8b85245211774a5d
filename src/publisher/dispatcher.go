package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/relaypost/relaypost/src/api/types"
	"github.com/relaypost/relaypost/src/optimizer"
	"github.com/relaypost/relaypost/src/platforms"
)

// Result statuses
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// Result is the terminal outcome of one link dispatch.
type Result struct {
	LinkID     uint64
	Platform   string
	Status     string
	ExternalID string
	Err        error
}

// Dispatcher runs one post-to-one-platform publish attempt end to end:
// account resolution, token check, optimization, rate-limit wait, then
// the adapter call. It never lets an error or panic escape its boundary;
// the queue collects N results no matter what each platform does.
type Dispatcher struct {
	store   Store
	reg     *platforms.Registry
	tokens  *TokenManager
	rates   *rateTable
	timeout time.Duration
}

func NewDispatcher(store Store, reg *platforms.Registry, tokens *TokenManager, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		store:   store,
		reg:     reg,
		tokens:  tokens,
		rates:   newRateTable(),
		timeout: timeout,
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, post types.Post, link types.PostPlatform) (result Result) {
	result = Result{LinkID: link.ID, Status: ResultFailed}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("dispatch: panic publishing link %d: %v", link.ID, r)
			result = Result{LinkID: link.ID, Platform: result.Platform, Status: ResultFailed,
				Err: fmt.Errorf("internal error: %v", r)}
		}
	}()

	account, err := d.store.Account(link.SocialAccountID)
	if err != nil {
		result.Err = fmt.Errorf("resolve account: %w", err)
		return result
	}
	result.Platform = account.Platform

	if account.NeedsReauth {
		result.Err = &platforms.AuthError{Platform: account.Platform, Err: errors.New("account needs reauthorization")}
		return result
	}

	adapter, err := d.reg.Get(account.Platform)
	if err != nil {
		result.Err = err
		return result
	}

	token, err := d.tokens.AccessToken(ctx, &account)
	if err != nil {
		result.Err = err
		return result
	}

	media, err := d.store.MediaForPost(post.ID)
	if err != nil {
		result.Err = fmt.Errorf("load media: %w", err)
		return result
	}

	content := platforms.Content{
		Title: post.Title,
		Text:  post.Content,
		Media: make([]platforms.Media, 0, len(media)),
	}
	for _, m := range media {
		content.Media = append(content.Media, platforms.Media{URL: m.URL, MIMEType: m.MIMEType, Size: m.Size})
	}

	overrides := parseOverrides(link.Overrides)
	opts := optimizer.Options{CreateThread: overrides["create_thread"] == "true"}
	if text, ok := overrides["text"]; ok && text != "" {
		content.Text = text
	}

	optimized, err := optimizer.Optimize(content, account.Platform, opts)
	if err != nil {
		// Pre-flight rejection: no network call was made.
		result.Err = err
		return result
	}

	pubOpts := platforms.PublishOptions{
		AccountID: account.AccountID,
		Metadata:  parseOverrides(account.Metadata),
		Overrides: overrides,
	}

	// The per-link timeout covers the rate-limit wait too: an exhausted
	// account budget fails fast instead of parking a worker slot for the
	// rest of the rate window.
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.rates.wait(callCtx, account.ID, "publish", adapter.RateLimits()["publish"]); err != nil {
		result.Err = &platforms.TransientError{Platform: account.Platform, Err: err}
		return result
	}

	res, err := adapter.Publish(callCtx, token, optimized, pubOpts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !platforms.IsTransient(err) {
			err = &platforms.TransientError{Platform: account.Platform, Err: err}
		}
		if platforms.IsAuth(err) {
			// The token looked fine but the platform disagreed.
			d.tokens.FlagReauth(&account)
		}
		result.Err = err
		return result
	}

	result.Status = ResultSuccess
	result.ExternalID = res.ExternalID
	result.Err = nil
	return result
}

// PreflightIssue reports one link that would fail validation before
// any network call.
type PreflightIssue struct {
	LinkID   uint64 `json:"link_id"`
	Platform string `json:"platform"`
	Reason   string `json:"reason"`
}

// Preflight runs the optimizer for every pending link without touching
// the network and reports the links that would fail validation.
// pending counts the links a dispatch would attempt; a validation
// problem on one platform never blocks the others, so the manual
// publish action only stops when every pending link has an issue.
func (d *Dispatcher) Preflight(post types.Post, links []types.PostPlatform) (issues []PreflightIssue, pending int, err error) {
	media, err := d.store.MediaForPost(post.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("load media: %w", err)
	}
	for _, link := range links {
		if link.Status == types.LinkStatusPublished || link.ExternalID != "" {
			continue
		}
		pending++
		account, err := d.store.Account(link.SocialAccountID)
		if err != nil {
			return nil, 0, fmt.Errorf("resolve account: %w", err)
		}
		content := platforms.Content{Title: post.Title, Text: post.Content}
		for _, m := range media {
			content.Media = append(content.Media, platforms.Media{URL: m.URL, MIMEType: m.MIMEType, Size: m.Size})
		}
		overrides := parseOverrides(link.Overrides)
		if text, ok := overrides["text"]; ok && text != "" {
			content.Text = text
		}
		opts := optimizer.Options{CreateThread: overrides["create_thread"] == "true"}
		if _, err := optimizer.Optimize(content, account.Platform, opts); err != nil {
			issues = append(issues, PreflightIssue{LinkID: link.ID, Platform: account.Platform, Reason: err.Error()})
		}
	}
	return issues, pending, nil
}

func parseOverrides(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Malformed override data is ignored rather than fatal.
		return map[string]string{}
	}
	return out
}
