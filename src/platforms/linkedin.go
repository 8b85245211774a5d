package platforms

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	lioauth "golang.org/x/oauth2/linkedin"
)

// LinkedInAdapter publishes member UGC posts. Images are registered and
// uploaded first, then referenced as assets in the post body.
type LinkedInAdapter struct {
	app    App
	states StateIssuer
	hc     *http.Client
	apiURL string
}

func NewLinkedIn(app App, states StateIssuer, timeout time.Duration) *LinkedInAdapter {
	return &LinkedInAdapter{
		app:    app,
		states: states,
		hc:     newHTTPClient(timeout),
		apiURL: "https://api.linkedin.com",
	}
}

func (l *LinkedInAdapter) Platform() string { return LinkedIn }

func (l *LinkedInAdapter) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     l.app.ClientID,
		ClientSecret: l.app.ClientSecret,
		RedirectURL:  l.app.RedirectURI,
		Scopes:       []string{"openid", "profile", "w_member_social"},
		Endpoint:     lioauth.Endpoint,
	}
}

func (l *LinkedInAdapter) AuthorizationURL(clientID uint64) (string, error) {
	if l.app.ClientID == "" {
		return "", fmt.Errorf("linkedin: app not configured")
	}
	state, _, err := l.states.Issue(clientID, LinkedIn)
	if err != nil {
		return "", err
	}
	return l.oauthConfig().AuthCodeURL(state), nil
}

func (l *LinkedInAdapter) ExchangeCode(ctx context.Context, code, state string, clientID uint64) (Credentials, error) {
	if _, err := l.states.Verify(state, LinkedIn, clientID); err != nil {
		return Credentials{}, err
	}
	tok, err := l.oauthConfig().Exchange(ctx, code)
	if err != nil {
		return Credentials{}, fmt.Errorf("linkedin: code exchange: %w", err)
	}

	var info struct {
		Sub  string `json:"sub"`
		Name string `json:"name"`
	}
	headers := map[string]string{"Authorization": "Bearer " + tok.AccessToken}
	if err := getJSON(ctx, l.hc, LinkedIn, l.apiURL+"/v2/userinfo", headers, &info); err != nil {
		return Credentials{}, err
	}

	creds := Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		AccountID:    info.Sub,
		AccountName:  info.Name,
	}
	if !tok.Expiry.IsZero() {
		expiry := tok.Expiry
		creds.ExpiresAt = &expiry
	}
	return creds, nil
}

// RefreshToken works only for apps granted programmatic refresh; others
// get a permanent rejection from the token endpoint.
func (l *LinkedInAdapter) RefreshToken(ctx context.Context, refreshToken string) (Credentials, error) {
	if refreshToken == "" {
		return Credentials{}, ErrUnsupported
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {l.app.ClientID},
		"client_secret": {l.app.ClientSecret},
	}
	var tok struct {
		AccessToken           string `json:"access_token"`
		ExpiresIn             int64  `json:"expires_in"`
		RefreshToken          string `json:"refresh_token"`
		RefreshTokenExpiresIn int64  `json:"refresh_token_expires_in"`
	}
	if err := postForm(ctx, l.hc, LinkedIn, "https://www.linkedin.com/oauth/v2/accessToken", nil, form, &tok); err != nil {
		return Credentials{}, err
	}
	expiry := time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	out := Credentials{AccessToken: tok.AccessToken, ExpiresAt: &expiry, RefreshToken: refreshToken}
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	return out, nil
}

func (l *LinkedInAdapter) TestConnection(ctx context.Context, accessToken string) bool {
	var info struct {
		Sub string `json:"sub"`
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	return getJSON(ctx, l.hc, LinkedIn, l.apiURL+"/v2/userinfo", headers, &info) == nil && info.Sub != ""
}

func (l *LinkedInAdapter) Publish(ctx context.Context, accessToken string, content Content, opts PublishOptions) (PublishResult, error) {
	author := "urn:li:person:" + opts.AccountID

	shareContent := map[string]interface{}{
		"shareCommentary":    map[string]string{"text": content.Text},
		"shareMediaCategory": "NONE",
	}
	if len(content.Media) > 0 {
		assets := make([]map[string]interface{}, 0, len(content.Media))
		for _, m := range content.Media {
			if isVideo(m.MIMEType) {
				continue // member video needs a separate product grant
			}
			asset, err := l.UploadMedia(ctx, accessToken, m)
			if err != nil {
				return PublishResult{}, err
			}
			assets = append(assets, map[string]interface{}{"status": "READY", "media": asset})
		}
		if len(assets) > 0 {
			shareContent["shareMediaCategory"] = "IMAGE"
			shareContent["media"] = assets
		}
	}

	body := map[string]interface{}{
		"author":         author,
		"lifecycleState": "PUBLISHED",
		"specificContent": map[string]interface{}{
			"com.linkedin.ugc.ShareContent": shareContent,
		},
		"visibility": map[string]string{
			"com.linkedin.ugc.MemberNetworkVisibility": "PUBLIC",
		},
	}

	headers := map[string]string{
		"Authorization":             "Bearer " + accessToken,
		"X-Restli-Protocol-Version": "2.0.0",
	}
	var resp struct {
		ID string `json:"id"`
	}
	err := withRetry(ctx, 3, func() error {
		return postJSON(ctx, l.hc, LinkedIn, l.apiURL+"/v2/ugcPosts", headers, body, &resp)
	})
	if err != nil {
		return PublishResult{}, err
	}
	if resp.ID == "" {
		return PublishResult{}, &PermanentError{Platform: LinkedIn, Detail: "ugcPosts returned no id"}
	}
	return PublishResult{Platform: LinkedIn, ExternalID: resp.ID, PostedAt: time.Now()}, nil
}

// UploadMedia registers an upload slot, pushes the bytes, and returns the
// asset URN.
func (l *LinkedInAdapter) UploadMedia(ctx context.Context, accessToken string, media Media) (string, error) {
	headers := map[string]string{"Authorization": "Bearer " + accessToken}

	register := map[string]interface{}{
		"registerUploadRequest": map[string]interface{}{
			"recipes": []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			"owner":   "urn:li:person:me",
			"serviceRelationships": []map[string]string{
				{"relationshipType": "OWNER", "identifier": "urn:li:userGeneratedContent"},
			},
		},
	}
	var reg struct {
		Value struct {
			Asset           string `json:"asset"`
			UploadMechanism struct {
				Request struct {
					UploadURL string `json:"uploadUrl"`
				} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
			} `json:"uploadMechanism"`
		} `json:"value"`
	}
	if err := postJSON(ctx, l.hc, LinkedIn, l.apiURL+"/v2/assets?action=registerUpload", headers, register, &reg); err != nil {
		return "", err
	}
	if reg.Value.Asset == "" || reg.Value.UploadMechanism.Request.UploadURL == "" {
		return "", &PermanentError{Platform: LinkedIn, Detail: "registerUpload returned no slot"}
	}

	data, err := fetchMedia(ctx, l.hc, LinkedIn, media.URL)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, reg.Value.UploadMechanism.Request.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("linkedin: build upload: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := l.hc.Do(req)
	if err != nil {
		return "", &TransientError{Platform: LinkedIn, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", classifyStatus(LinkedIn, resp.StatusCode, nil)
	}
	return reg.Value.Asset, nil
}

func (l *LinkedInAdapter) Analytics(ctx context.Context, accessToken, externalID string) (Metrics, error) {
	var resp struct {
		LikesSummary struct {
			TotalLikes int64 `json:"totalLikes"`
		} `json:"likesSummary"`
		CommentsSummary struct {
			TotalComments int64 `json:"totalFirstLevelComments"`
		} `json:"commentsSummary"`
	}
	headers := map[string]string{"Authorization": "Bearer " + accessToken}
	u := l.apiURL + "/v2/socialActions/" + url.PathEscape(externalID)
	if err := getJSON(ctx, l.hc, LinkedIn, u, headers, &resp); err != nil {
		return Metrics{}, err
	}
	return Metrics{Likes: resp.LikesSummary.TotalLikes, Comments: resp.CommentsSummary.TotalComments}, nil
}

func (l *LinkedInAdapter) RateLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"publish":   {Limit: 150, Window: 24 * time.Hour},
		"analytics": {Limit: 500, Window: 24 * time.Hour},
	}
}
