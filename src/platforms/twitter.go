package platforms

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const twitterChunkSize = 1 << 20 // APPEND segment size

// TwitterAdapter uses the v2 API with OAuth2 PKCE. Threads are published
// as a reply chain rooted at the first segment; media goes through the
// 1.1 chunked upload endpoint first.
type TwitterAdapter struct {
	app       App
	states    StateIssuer
	hc        *http.Client
	apiURL    string
	uploadURL string
	authURL   string
}

func NewTwitter(app App, states StateIssuer, timeout time.Duration) *TwitterAdapter {
	return &TwitterAdapter{
		app:       app,
		states:    states,
		hc:        newHTTPClient(timeout),
		apiURL:    "https://api.twitter.com",
		uploadURL: "https://upload.twitter.com",
		authURL:   "https://twitter.com/i/oauth2/authorize",
	}
}

func (t *TwitterAdapter) Platform() string { return Twitter }

func (t *TwitterAdapter) AuthorizationURL(clientID uint64) (string, error) {
	if t.app.ClientID == "" {
		return "", fmt.Errorf("twitter: app not configured")
	}
	state, nonce, err := t.states.Issue(clientID, Twitter)
	if err != nil {
		return "", err
	}
	// The verifier is recomputed from the state nonce on the callback
	// leg, so nothing has to be stored between the two requests.
	verifier := t.states.PKCEVerifier(nonce)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	q := url.Values{
		"response_type":         {"code"},
		"client_id":             {t.app.ClientID},
		"redirect_uri":          {t.app.RedirectURI},
		"scope":                 {"tweet.read tweet.write users.read offline.access"},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
	}
	return t.authURL + "?" + q.Encode(), nil
}

func (t *TwitterAdapter) basicAuth() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(t.app.ClientID+":"+t.app.ClientSecret))
}

func (t *TwitterAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error) {
	nonce, err := t.states.Verify(state, Twitter, clientID)
	if err != nil {
		return Credentials{}, err
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {t.app.RedirectURI},
		"code_verifier": {t.states.PKCEVerifier(nonce)},
		"client_id":     {t.app.ClientID},
	}
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	headers := map[string]string{"Authorization": t.basicAuth()}
	if err := postForm(ctx, t.hc, Twitter, t.apiURL+"/2/oauth2/token", headers, form, &tok); err != nil {
		return Credentials{}, err
	}

	var me struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	bearer := map[string]string{"Authorization": "Bearer " + tok.AccessToken}
	if err := getJSON(ctx, t.hc, Twitter, t.apiURL+"/2/users/me", bearer, &me); err != nil {
		return Credentials{}, err
	}

	expiry := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expiry,
		AccountID:    me.Data.ID,
		AccountName:  me.Data.Username,
	}, nil
}

// RefreshToken rotates both tokens; the platform invalidates the old
// refresh token on use.
func (t *TwitterAdapter) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {t.app.ClientID},
	}
	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	headers := map[string]string{"Authorization": t.basicAuth()}
	if err := postForm(ctx, t.hc, Twitter, t.apiURL+"/2/oauth2/token", headers, form, &tok); err != nil {
		return Credentials{}, err
	}
	expiry := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    &expiry,
	}, nil
}

func (t *TwitterAdapter) TestConnection(ctx context.Context, accessToken string) bool {
	var me struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	return getJSON(ctx, t.hc, Twitter, t.apiURL+"/2/users/me", headers, &me) == nil && me.Data.ID != ""
}

func (t *TwitterAdapter) Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error) {
	mediaIDs := make([]string, 0, len(content.Media))
	for i, m := range content.Media {
		if i == 4 {
			break // platform cap per tweet
		}
		id, err := t.UploadMedia(ctx, accessToken, m)
		if err != nil {
			return PublishResult{}, err
		}
		mediaIDs = append(mediaIDs, id)
	}

	segments := content.Thread
	if len(segments) == 0 {
		segments = []string{content.Text}
	}

	bearer := map[string]string{"Authorization": "Bearer " + accessToken}
	var rootID, prevID string
	for i, segment := range segments {
		body := map[string]interface{}{"text": segment}
		if i == 0 && len(mediaIDs) > 0 {
			body["media"] = map[string]interface{}{"media_ids": mediaIDs}
		}
		if prevID != "" {
			body["reply"] = map[string]interface{}{"in_reply_to_tweet_id": prevID}
		}

		var resp struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		}
		err := withRetry(ctx, 3, func() error {
			return postJSON(ctx, t.hc, Twitter, t.apiURL+"/2/tweets", bearer, body, &resp)
		})
		if err != nil {
			// A half-posted chain is a stray artifact, not a success.
			return PublishResult{}, err
		}
		if resp.Data.ID == "" {
			return PublishResult{}, &PermanentError{Platform: Twitter, Detail: "tweet create returned no id"}
		}
		if i == 0 {
			rootID = resp.Data.ID
		}
		prevID = resp.Data.ID
	}
	return PublishResult{Platform: Twitter, ExternalID: rootID, PostedAt: time.Now()}, nil
}

// UploadMedia runs the INIT / APPEND / FINALIZE chunked upload. The whole
// sequence lives inside one Publish call; there is no cross-call resume.
func (t *TwitterAdapter) UploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	data, err := fetchMedia(ctx, t.hc, Twitter, media.URL)
	if err != nil {
		return "", err
	}

	bearer := map[string]string{"Authorization": "Bearer " + accessToken}
	endpoint := t.uploadURL + "/1.1/media/upload.json"

	var initResp struct {
		MediaIDString string `json:"media_id_string"`
	}
	initForm := url.Values{
		"command":     {"INIT"},
		"total_bytes": {strconv.Itoa(len(data))},
		"media_type":  {media.MIMEType},
	}
	if err := postForm(ctx, t.hc, Twitter, endpoint, bearer, initForm, &initResp); err != nil {
		return "", err
	}
	if initResp.MediaIDString == "" {
		return "", &PermanentError{Platform: Twitter, Detail: "media INIT returned no id"}
	}

	for seg := 0; seg*twitterChunkSize < len(data); seg++ {
		start := seg * twitterChunkSize
		end := start + twitterChunkSize
		if end > len(data) {
			end = len(data)
		}
		appendForm := url.Values{
			"command":       {"APPEND"},
			"media_id":      {initResp.MediaIDString},
			"segment_index": {strconv.Itoa(seg)},
			"media_data":    {base64.StdEncoding.EncodeToString(data[start:end])},
		}
		err := withRetry(ctx, 3, func() error {
			return postForm(ctx, t.hc, Twitter, endpoint, bearer, appendForm, nil)
		})
		if err != nil {
			return "", err
		}
	}

	finalForm := url.Values{
		"command":  {"FINALIZE"},
		"media_id": {initResp.MediaIDString},
	}
	if err := postForm(ctx, t.hc, Twitter, endpoint, bearer, finalForm, nil); err != nil {
		return "", err
	}
	return initResp.MediaIDString, nil
}

func (t *TwitterAdapter) Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error) {
	var resp struct {
		Data struct {
			PublicMetrics struct {
				ImpressionCount int64 `json:"impression_count"`
				LikeCount       int64 `json:"like_count"`
				ReplyCount      int64 `json:"reply_count"`
				RetweetCount    int64 `json:"retweet_count"`
			} `json:"public_metrics"`
		} `json:"data"`
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	u := t.apiURL + "/2/tweets/" + url.PathEscape(externalID) + "?tweet.fields=public_metrics"
	if err := getJSON(ctx, t.hc, Twitter, u, headers, &resp); err != nil {
		return Metrics{}, err
	}
	pm := resp.Data.PublicMetrics
	return Metrics{
		Impressions: pm.ImpressionCount,
		Likes:       pm.LikeCount,
		Comments:    pm.ReplyCount,
		Shares:      pm.RetweetCount,
	}, nil
}

func (t *TwitterAdapter) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"publish":   {Limit: 100, Window: 24 * time.Hour},
		"upload":    {Limit: 615, Window: 15 * time.Minute},
		"analytics": {Limit: 75, Window: 15 * time.Minute},
	}
}
