package platforms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	fboauth "golang.org/x/oauth2/facebook"
)

// FacebookAdapter publishes to a managed page via the Graph API. The
// page access token obtained at connect time is long-lived and cannot be
// refreshed in this flow.
type FacebookAdapter struct {
	app      App
	states   StateIssuer
	hc       *http.Client
	graphURL string
}

func NewFacebook(app App, states StateIssuer, timeout time.Duration) *FacebookAdapter {
	return &FacebookAdapter{
		app:      app,
		states:   states,
		hc:       newHTTPClient(timeout),
		graphURL: "https://graph.facebook.com/v19.0",
	}
}

func (f *FacebookAdapter) Platform() string { return Facebook }

func (f *FacebookAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.app.ClientID,
		ClientSecret: f.app.ClientSecret,
		RedirectURL:  f.app.RedirectURI,
		Scopes:       []string{"pages_show_list", "pages_read_engagement", "pages_manage_posts"},
		Endpoint:     fboauth.Endpoint,
	}
}

func (f *FacebookAdapter) AuthorizationURL(clientID uint64) (string, error) {
	if f.app.ClientID == "" {
		return "", fmt.Errorf("facebook: app not configured")
	}
	state, _, err := f.states.Issue(clientID, Facebook)
	if err != nil {
		return "", err
	}
	return f.oauthConfig().AuthCodeURL(state), nil
}

func (f *FacebookAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error) {
	if _, err := f.states.Verify(state, Facebook, clientID); err != nil {
		return Credentials{}, err
	}
	tok, err := f.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("facebook: code exchange: %w", err)
	}

	// The user token is only a stepping stone to the page token.
	var pages struct {
		Data []struct {
			ID          string `json:"id"`
			Name        string `json:"name"`
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	u := f.graphURL + "/me/accounts?access_token=" + url.QueryEscape(tok.AccessToken)
	if err := getJSON(ctx, f.hc, Facebook, u, nil, &pages); err != nil {
		return Credentials{}, err
	}
	if len(pages.Data) == 0 {
		return Credentials{}, fmt.Errorf("facebook: no managed pages for this user")
	}
	page := pages.Data[0]
	return Credentials{
		AccessToken: page.AccessToken,
		AccountID:   page.ID,
		AccountName: page.Name,
		Metadata:    map[string]string{"page_id": page.ID},
	}, nil
}

func (f *FacebookAdapter) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	return Credentials{}, ErrUnsupported
}

func (f *FacebookAdapter) TestConnection(ctx context.Context, accessToken string) bool {
	var me struct {
		ID string `json:"id"`
	}
	u := f.graphURL + "/me?access_token=" + url.QueryEscape(accessToken)
	return getJSON(ctx, f.hc, Facebook, u, nil, &me) == nil && me.ID != ""
}

func (f *FacebookAdapter) Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error) {
	pageID := opts.Metadata["page_id"]
	if pageID == "" {
		pageID = opts.AccountID
	}
	if pageID == "" {
		return PublishResult{}, &ValidationError{Platform: Facebook, Reason: "missing page id"}
	}

	form := url.Values{"access_token": {accessToken}}
	var endpoint string
	switch {
	case len(content.Media) > 0 && isVideo(content.Media[0].MIMEType):
		endpoint = f.graphURL + "/" + pageID + "/videos"
		form.Set("file_url", content.Media[0].URL)
		form.Set("description", content.Text)
		if content.Title != "" {
			form.Set("title", content.Title)
		}
	case len(content.Media) > 0:
		endpoint = f.graphURL + "/" + pageID + "/photos"
		form.Set("url", content.Media[0].URL)
		form.Set("caption", content.Text)
	default:
		endpoint = f.graphURL + "/" + pageID + "/feed"
		form.Set("message", content.Text)
	}

	var resp struct {
		ID     string `json:"id"`
		PostID string `json:"post_id"`
	}
	err := withRetry(ctx, 3, func() error {
		return postForm(ctx, f.hc, Facebook, endpoint, nil, form, &resp)
	})
	if err != nil {
		return PublishResult{}, err
	}
	id := resp.PostID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return PublishResult{}, &PermanentError{Platform: Facebook, Detail: "publish returned no id"}
	}
	return PublishResult{Platform: Facebook, ExternalID: id, PostedAt: time.Now()}, nil
}

// UploadMedia stores an unpublished photo on the page and returns its id
// for later reference in a feed post.
func (f *FacebookAdapter) UploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	pageID := "me"
	form := url.Values{
		"access_token": {accessToken},
		"url":          {media.URL},
		"published":    {"false"},
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := postForm(ctx, f.hc, Facebook, f.graphURL+"/"+pageID+"/photos", nil, form, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (f *FacebookAdapter) Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error) {
	var resp struct {
		Shares struct {
			Count int64 `json:"count"`
		} `json:"shares"`
		Likes struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"likes"`
		Comments struct {
			Summary struct {
				TotalCount int64 `json:"total_count"`
			} `json:"summary"`
		} `json:"comments"`
	}
	u := f.graphURL + "/" + url.PathEscape(externalID) +
		"?fields=shares,likes.summary(true),comments.summary(true)&access_token=" + url.QueryEscape(accessToken)
	if err := getJSON(ctx, f.hc, Facebook, u, nil, &resp); err != nil {
		return Metrics{}, err
	}
	return Metrics{
		Likes:    resp.Likes.Summary.TotalCount,
		Comments: resp.Comments.Summary.TotalCount,
		Shares:   resp.Shares.Count,
	}, nil
}

func (f *FacebookAdapter) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"publish":   {Limit: 200, Window: time.Hour},
		"analytics": {Limit: 200, Window: time.Hour},
	}
}

func isVideo(mime string) bool {
	return len(mime) >= 6 && mime[:6] == "video/"
}
