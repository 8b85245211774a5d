package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ThreadsAdapter uses the Threads container flow, which mirrors the
// Instagram one but allows text-only posts. Long-lived tokens are
// refreshed in place with the th_refresh_token grant; the access token
// itself doubles as the refresh credential.
type ThreadsAdapter struct {
	app      App
	states   StateIssuer
	hc       *http.Client
	graphURL string
	authURL  string
}

func NewThreads(app App, states StateIssuer, timeout time.Duration) *ThreadsAdapter {
	return &ThreadsAdapter{
		app:      app,
		states:   states,
		hc:       newHTTPClient(timeout),
		graphURL: "https://graph.threads.net/v1.0",
		authURL:  "https://threads.net/oauth/authorize",
	}
}

func (th *ThreadsAdapter) Platform() string { return Threads }

func (th *ThreadsAdapter) AuthorizationURL(clientID uint64) (string, error) {
	if th.app.ClientID == "" {
		return "", fmt.Errorf("threads: app not configured")
	}
	state, _, err := th.states.Issue(clientID, Threads)
	if err != nil {
		return "", err
	}
	q := url.Values{
		"client_id":     {th.app.ClientID},
		"redirect_uri":  {th.app.RedirectURI},
		"scope":         {"threads_basic,threads_content_publish"},
		"response_type": {"code"},
		"state":         {state},
	}
	return th.authURL + "?" + q.Encode(), nil
}

func (th *ThreadsAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error) {
	if _, err := th.states.Verify(state, Threads, clientID); err != nil {
		return Credentials{}, err
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {th.app.ClientID},
		"client_secret": {th.app.ClientSecret},
		"redirect_uri":  {th.app.RedirectURI},
		"code":          {code},
	}
	var short struct {
		AccessToken string `json:"access_token"`
		UserID      int64  `json:"user_id"`
	}
	if err := postForm(ctx, th.hc, Threads, th.graphURL+"/oauth/access_token", nil, form, &short); err != nil {
		return Credentials{}, err
	}

	// Trade the one-hour token for a long-lived one right away.
	var long struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	u := th.graphURL + "/access_token?grant_type=th_exchange_token" +
		"&client_secret=" + url.QueryEscape(th.app.ClientSecret) +
		"&access_token=" + url.QueryEscape(short.AccessToken)
	if err := getJSON(ctx, th.hc, Threads, u, nil, &long); err != nil {
		return Credentials{}, err
	}

	var me struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	u = th.graphURL + "/me?fields=id,username&access_token=" + url.QueryEscape(long.AccessToken)
	if err := getJSON(ctx, th.hc, Threads, u, nil, &me); err != nil {
		return Credentials{}, err
	}

	expiry := time.Now().Add(time.Duration(long.ExpiresIn) * time.Second)
	return Credentials{
		AccessToken:  long.AccessToken,
		RefreshToken: long.AccessToken, // refresh grant takes the live token
		ExpiresAt:    &expiry,
		AccountID:    me.ID,
		AccountName:  me.Username,
	}, nil
}

func (th *ThreadsAdapter) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	if refreshToken == "" {
		return Credentials{}, ErrUnsupported
	}
	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	u := th.graphURL + "/refresh_access_token?grant_type=th_refresh_token&access_token=" + url.QueryEscape(refreshToken)
	if err := getJSON(ctx, th.hc, Threads, u, nil, &resp); err != nil {
		return Credentials{}, err
	}
	expiry := time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	return Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.AccessToken,
		ExpiresAt:    &expiry,
	}, nil
}

func (th *ThreadsAdapter) TestConnection(ctx context.Context, accessToken string) bool {
	var me struct {
		ID string `json:"id"`
	}
	u := th.graphURL + "/me?fields=id&access_token=" + url.QueryEscape(accessToken)
	return getJSON(ctx, th.hc, Threads, u, nil, &me) == nil && me.ID != ""
}

func (th *ThreadsAdapter) Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error) {
	userID := opts.AccountID
	if userID == "" {
		return PublishResult{}, &ValidationError{Platform: Threads, Reason: "missing account id"}
	}

	segments := content.Thread
	if len(segments) == 0 {
		segments = []string{content.Text}
	}

	var rootID, prevID string
	for i, segment := range segments {
		form := url.Values{
			"access_token": {accessToken},
			"text":         {segment},
			"media_type":   {"TEXT"},
		}
		if i == 0 && len(content.Media) > 0 && !isVideo(content.Media[0].MIMEType) {
			form.Set("media_type", "IMAGE")
			form.Set("image_url", content.Media[0].URL)
		}
		if prevID != "" {
			form.Set("reply_to_id", prevID)
		}

		var container struct {
			ID string `json:"id"`
		}
		err := withRetry(ctx, 3, func() error {
			return postForm(ctx, th.hc, Threads, th.graphURL+"/"+userID+"/threads", nil, form, &container)
		})
		if err != nil {
			return PublishResult{}, err
		}
		if container.ID == "" {
			return PublishResult{}, &PermanentError{Platform: Threads, Detail: "container create returned no id"}
		}

		pubForm := url.Values{
			"access_token": {accessToken},
			"creation_id":  {container.ID},
		}
		var published struct {
			ID string `json:"id"`
		}
		err = withRetry(ctx, 3, func() error {
			return postForm(ctx, th.hc, Threads, th.graphURL+"/"+userID+"/threads_publish", nil, pubForm, &published)
		})
		if err != nil {
			return PublishResult{}, err
		}
		if published.ID == "" {
			return PublishResult{}, &PermanentError{Platform: Threads, Detail: "threads_publish returned no id"}
		}
		if i == 0 {
			rootID = published.ID
		}
		prevID = published.ID
	}
	return PublishResult{Platform: Threads, ExternalID: rootID, PostedAt: time.Now()}, nil
}

func (th *ThreadsAdapter) UploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	return "", ErrUnsupported // media is referenced by public URL at container create
}

func (th *ThreadsAdapter) Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error) {
	var resp struct {
		Data []struct {
			Name   string `json:"name"`
			Values []struct {
				Value int64 `json:"value"`
			} `json:"values"`
		} `json:"data"`
	}
	u := th.graphURL + "/" + url.PathEscape(externalID) +
		"/insights?metric=views,likes,replies,reposts&access_token=" + url.QueryEscape(accessToken)
	if err := getJSON(ctx, th.hc, Threads, u, nil, &resp); err != nil {
		return Metrics{}, err
	}
	var m Metrics
	for _, d := range resp.Data {
		if len(d.Values) == 0 {
			continue
		}
		v := d.Values[0].Value
		switch d.Name {
		case "views":
			m.Impressions = v
		case "likes":
			m.Likes = v
		case "replies":
			m.Comments = v
		case "reposts":
			m.Shares = v
		}
	}
	return m, nil
}

func (th *ThreadsAdapter) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"publish":   {Limit: 250, Window: 24 * time.Hour},
		"analytics": {Limit: 200, Window: time.Hour},
	}
}
