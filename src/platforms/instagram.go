package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	fboauth "golang.org/x/oauth2/facebook"
)

// InstagramAdapter publishes through the Graph API container flow: create
// a media container, wait for it to process, then publish it. Instagram
// requires at least one media file on every post; the optimizer validates
// this pre-flight and the adapter re-checks defensively.
type InstagramAdapter struct {
	app      App
	states   StateIssuer
	hc       *http.Client
	graphURL string

	pollInterval time.Duration
}

func NewInstagram(app App, states StateIssuer, timeout time.Duration) *InstagramAdapter {
	return &InstagramAdapter{
		app:          app,
		states:       states,
		hc:           newHTTPClient(timeout),
		graphURL:     "https://graph.facebook.com/v19.0",
		pollInterval: 2 * time.Second,
	}
}

func (ig *InstagramAdapter) Platform() string { return Instagram }

func (ig *InstagramAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     ig.app.ClientID,
		ClientSecret: ig.app.ClientSecret,
		RedirectURL:  ig.app.RedirectURI,
		Scopes:       []string{"instagram_basic", "instagram_content_publish", "pages_show_list"},
		Endpoint:     fboauth.Endpoint,
	}
}

func (ig *InstagramAdapter) AuthorizationURL(clientID uint64) (string, error) {
	if ig.app.ClientID == "" {
		return "", fmt.Errorf("instagram: app not configured")
	}
	state, _, err := ig.states.Issue(clientID, Instagram)
	if err != nil {
		return "", err
	}
	return ig.oauthConfig().AuthCodeURL(state), nil
}

func (ig *InstagramAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error) {
	if _, err := ig.states.Verify(state, Instagram, clientID); err != nil {
		return Credentials{}, err
	}
	tok, err := ig.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("instagram: code exchange: %w", err)
	}

	var pages struct {
		Data []struct {
			ID          string `json:"id"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	u := ig.graphURL + "/me/accounts?access_token=" + url.QueryEscape(tok.AccessToken)
	if err := getJSON(ctx, ig.hc, Instagram, u, nil, &pages); err != nil {
		return Credentials{}, err
	}

	// Find the first page with a linked IG business account.
	for _, page := range pages.Data {
		var linked struct {
			IG struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"instagram_business_account"`
		}
		u := ig.graphURL + "/" + page.ID +
			"?fields=instagram_business_account{id,username}&access_token=" + url.QueryEscape(page.AccessToken)
		if err := getJSON(ctx, ig.hc, Instagram, u, nil, &linked); err != nil {
			continue
		}
		if linked.IG.ID != "" {
			return Credentials{
				AccessToken: page.AccessToken,
				AccountID:   linked.IG.ID,
				AccountName: linked.IG.Username,
				Metadata:    map[string]string{"ig_user_id": linked.IG.ID, "page_id": page.ID},
			}, nil
		}
	}
	return Credentials{}, fmt.Errorf("instagram: no linked business account found")
}

func (ig *InstagramAdapter) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	return Credentials{}, ErrUnsupported
}

func (ig *InstagramAdapter) TestConnection(ctx context.Context, accessToken string) bool {
	var me struct {
		ID string `json:"id"`
	}
	u := ig.graphURL + "/me?access_token=" + url.QueryEscape(accessToken)
	return getJSON(ctx, ig.hc, Instagram, u, nil, &me) == nil && me.ID != ""
}

func (ig *InstagramAdapter) Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error) {
	igUserID := opts.Metadata["ig_user_id"]
	if igUserID == "" {
		igUserID = opts.AccountID
	}
	if len(content.Media) == 0 {
		return PublishResult{}, &ValidationError{Platform: Instagram, Reason: "requires at least one media file"}
	}

	var creationID string
	var err error
	if len(content.Media) == 1 {
		creationID, err = ig.createContainer(ctx, accessToken, igUserID, content.Media[0], content.Text, "")
	} else {
		creationID, err = ig.createCarousel(ctx, accessToken, igUserID, content)
	}
	if err != nil {
		return PublishResult{}, err
	}

	if err := ig.waitProcessed(ctx, accessToken, creationID); err != nil {
		return PublishResult{}, err
	}

	form := url.Values{
		"access_token": {accessToken},
		"creation_id":  {creationID},
	}
	var resp struct {
		ID string `json:"id"`
	}
	err = withRetry(ctx, 3, func() error {
		return postForm(ctx, ig.hc, Instagram, ig.graphURL+"/"+igUserID+"/media_publish", nil, form, &resp)
	})
	if err != nil {
		return PublishResult{}, err
	}
	if resp.ID == "" {
		return PublishResult{}, &PermanentError{Platform: Instagram, Detail: "media_publish returned no id"}
	}
	return PublishResult{Platform: Instagram, ExternalID: resp.ID, PostedAt: time.Now()}, nil
}

func (ig *InstagramAdapter) createContainer(ctx context.Context, token, igUserID string, media Media, caption, carouselRole string) (string, error) {
	form := url.Values{"access_token": {token}}
	if isVideo(media.MIMEType) {
		form.Set("media_type", "REELS")
		form.Set("video_url", media.URL)
	} else {
		form.Set("image_url", media.URL)
	}
	if caption != "" {
		form.Set("caption", caption)
	}
	if carouselRole == "child" {
		form.Set("is_carousel_item", "true")
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := withRetry(ctx, 3, func() error {
		return postForm(ctx, ig.hc, Instagram, ig.graphURL+"/"+igUserID+"/media", nil, form, &resp)
	})
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &PermanentError{Platform: Instagram, Detail: "container create returned no id"}
	}
	return resp.ID, nil
}

func (ig *InstagramAdapter) createCarousel(ctx context.Context, token, igUserID string, content Content) (string, error) {
	children := make([]string, 0, len(content.Media))
	for _, m := range content.Media {
		id, err := ig.createContainer(ctx, token, igUserID, m, "", "child")
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}
	form := url.Values{
		"access_token": {token},
		"media_type":   {"CAROUSEL"},
		"children":     {strings.Join(children, ",")},
		"caption":      {content.Text},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := postForm(ctx, ig.hc, Instagram, ig.graphURL+"/"+igUserID+"/media", nil, form, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// waitProcessed polls the container until the platform reports FINISHED.
// Image containers usually finish instantly; video ones take a while.
func (ig *InstagramAdapter) waitProcessed(ctx context.Context, token, creationID string) error {
	for attempt := 0; attempt < 15; attempt++ {
		var status struct {
			StatusCode string `json:"status_code"`
		}
		u := ig.graphURL + "/" + creationID + "?fields=status_code&access_token=" + url.QueryEscape(token)
		if err := getJSON(ctx, ig.hc, Instagram, u, nil, &status); err != nil {
			return err
		}
		switch status.StatusCode {
		case "FINISHED", "":
			return nil
		case "ERROR":
			return &PermanentError{Platform: Instagram, Detail: "container processing failed"}
		}
		select {
		case <-ctx.Done():
			return &TransientError{Platform: Instagram, Err: ctx.Err()}
		case <-time.After(ig.pollInterval):
		}
	}
	return &TransientError{Platform: Instagram, Err: fmt.Errorf("container still processing")}
}

func (ig *InstagramAdapter) UploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	return "", ErrUnsupported // media is referenced by public URL at container create
}

func (ig *InstagramAdapter) Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error) {
	var resp struct {
		LikeCount     int64 `json:"like_count"`
		CommentsCount int64 `json:"comments_count"`
	}
	u := ig.graphURL + "/" + url.PathEscape(externalID) +
		"?fields=like_count,comments_count&access_token=" + url.QueryEscape(accessToken)
	if err := getJSON(ctx, ig.hc, Instagram, u, nil, &resp); err != nil {
		return Metrics{}, err
	}
	return Metrics{Likes: resp.LikeCount, Comments: resp.CommentsCount}, nil
}

func (ig *InstagramAdapter) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"publish":   {Limit: 25, Window: 24 * time.Hour},
		"analytics": {Limit: 200, Window: time.Hour},
	}
}
